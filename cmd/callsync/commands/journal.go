package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dense-identity/callsync/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal <session>",
	Short: "Print the journaled primitives of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := journalOptions(cfg)
		opts.Enabled = true
		store, err := journal.Open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fields, err := json.Marshal(e.Fields)
			if err != nil {
				return fmt.Errorf("entry %d: %w", e.Seq, err)
			}
			fmt.Fprintf(out, "%d %s %s %s\n", e.Seq, e.At.Format(time.RFC3339Nano), e.Kind, fields)
		}
		return nil
	},
}
