package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dense-identity/callsync/internal/config"
	"github.com/dense-identity/callsync/internal/journal"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "callsync",
	Short: "Call-state synchronization bridge",
	Long: `callsync mirrors the calls of a SIP user agent onto hands-free accessory
protocols: the legacy phone-state indicator protocol and the list-based call
protocol.

Configuration is read from the environment, optionally seeded from an env file
(ENV_FILE or --env-file).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is $ENV_FILE or .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(journalCmd)
}

// loadConfig reads the bridge configuration and applies the log level.
func loadConfig() (*config.Bridge, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.New[config.Bridge]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logrus.SetLevel(cfg.Level())
	return cfg, nil
}

func journalOptions(cfg *config.Bridge) journal.Options {
	return journal.Options{
		Enabled:    cfg.JournalEnabled,
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		Prefix:     cfg.JournalPrefix,
		TTL:        cfg.JournalTTL,
		MaxEntries: cfg.JournalMaxEntries,
	}
}
