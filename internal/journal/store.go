package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "callsync:journal:v1"

// Options configures the Redis store.
type Options struct {
	Enabled    bool
	Addr       string
	Username   string
	Password   string
	DB         int
	Prefix     string
	TTL        time.Duration
	MaxEntries int64
}

// Store keeps a capped, expiring list of entries per session in Redis and publishes
// each entry on the journal channel. A nil *Store is a valid no-op store.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	max    int64
}

// Open connects to Redis. It returns nil, nil when the journal is disabled.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if !opts.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required when the journal is enabled")
	}

	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: strings.TrimSpace(opts.Username),
		Password: opts.Password,
		DB:       opts.DB,
	})

	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newStore(c, opts), nil
}

func newStore(c *redis.Client, opts Options) *Store {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	limit := opts.MaxEntries
	if limit <= 0 {
		limit = 1000
	}
	return &Store{client: c, prefix: prefix, ttl: opts.TTL, max: limit}
}

// Close closes the Redis connection.
func (s *Store) Close() {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Close()
}

func (s *Store) listKey(session string) string {
	return fmt.Sprintf("%s:%s:entries", s.prefix, strings.TrimSpace(session))
}

// Channel is the pub/sub channel every entry is published on.
func (s *Store) Channel() string {
	if s == nil {
		return ""
	}
	return s.prefix + ":events"
}

// Append stores data at the head of the session's list, trims the list to the
// configured size, refreshes its TTL and publishes data.
func (s *Store) Append(ctx context.Context, session string, data []byte) error {
	if s == nil || s.client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(data) == 0 {
		return fmt.Errorf("empty journal entry")
	}
	key := s.listKey(session)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.max-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.Publish(ctx, s.Channel(), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// History returns the session's entries, oldest first. Entries that fail to decode
// are skipped.
func (s *Store) History(ctx context.Context, session string) ([]Entry, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := s.client.LRange(ctx, s.listKey(session), 0, -1).Result()
	if err == redis.Nil {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal history: %w", err)
	}

	entries := make([]Entry, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- { // LPUSH => reverse to return oldest first
		e, err := Unmarshal([]byte(data[i]))
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
