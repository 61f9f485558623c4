package commands

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dense-identity/callsync/internal/scenario"
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Replay scripted call scenarios",
	Long: `Drive the bridge from scenario files and print every primitive it emits.

Example scenario file (outgoing.yaml):

  name: outgoing call answered while the other identity rings
  sinks: [legacy]
  steps:
    - add: {id: 1, state: dialing, number: "+15550001111"}
    - add: {id: 2, state: ringing, number: "+15552223333", incoming: true}
    - state: {id: 1, state: active}
    - command: chld 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := logrus.WarnLevel
		if logLevel != "" {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			level = lvl
		}
		log := logrus.New()
		log.SetLevel(level)
		log.SetOutput(cmd.ErrOrStderr())

		out := cmd.OutOrStdout()
		for _, path := range args {
			sc, err := scenario.Load(path)
			if err != nil {
				return err
			}
			name := sc.Name
			if name == "" {
				name = path
			}
			fmt.Fprintf(out, "== %s\n", name)
			if err := replay(sc, out, logrus.NewEntry(log)); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	},
}

func replay(sc *scenario.Scenario, out io.Writer, log *logrus.Entry) error {
	r, err := scenario.NewRunner(sc, out, log)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Run()
}
