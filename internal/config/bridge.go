package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Bridge configures the callsync service.
type Bridge struct {
	// Engine
	DualIdentity     bool          `env:"DUAL_IDENTITY" envDefault:"true"`
	VoiceCapability  string        `env:"VOICE_CAPABILITY" envDefault:"dsds"`
	PacingDelay      time.Duration `env:"PACING_DELAY" envDefault:"60ms"`
	SubscriberNumber string        `env:"SUBSCRIBER_NUMBER"`
	// NetworkCountry is the ISO 3166-1 region national numbers are dialed in.
	NetworkCountry   string        `env:"NETWORK_COUNTRY" envDefault:"US"`

	// Call source
	BaresipAddr string `env:"BARESIP_ADDR" envDefault:"localhost:4444"`

	// Journal
	JournalEnabled    bool          `env:"JOURNAL_ENABLED" envDefault:"false"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	JournalPrefix     string        `env:"JOURNAL_PREFIX" envDefault:"callsync"`
	JournalTTL        time.Duration `env:"JOURNAL_TTL" envDefault:"24h"`
	JournalMaxEntries int64         `env:"JOURNAL_MAX_ENTRIES" envDefault:"1000"`
	// JournalRedactKey, when set, replaces numbers and names with keyed digests.
	JournalRedactKey  string        `env:"JOURNAL_REDACT_KEY"`

	GrpcPort string `env:"GRPC_PORT" envDefault:":50061"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Validate checks values the environment parser cannot.
func (c *Bridge) Validate() error {
	if c == nil {
		return fmt.Errorf("nil bridge config")
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("PACING_DELAY must not be negative, got %s", c.PacingDelay)
	}
	if c.JournalEnabled && c.JournalMaxEntries <= 0 {
		return fmt.Errorf("JOURNAL_MAX_ENTRIES must be positive, got %d", c.JournalMaxEntries)
	}
	if len(c.NetworkCountry) != 2 {
		return fmt.Errorf("NETWORK_COUNTRY must be a two-letter region code, got %q", c.NetworkCountry)
	}
	if len(c.JournalRedactKey) > 64 {
		return fmt.Errorf("JOURNAL_REDACT_KEY must be at most 64 bytes")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Bridge) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
