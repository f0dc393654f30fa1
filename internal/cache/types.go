package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Entry is a cached redaction outcome for one text value.
type Entry struct {
	Text     string    `json:"text"`
	Changes  int       `json:"changes"`
	Path     string    `json:"path"`
	CachedAt time.Time `json:"cached_at"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes,omitempty"`
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend        string        `yaml:"backend" mapstructure:"backend"` // memory, redis or bolt
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxEntries     int           `yaml:"max_entries" mapstructure:"max_entries"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	BoltPath       string        `yaml:"bolt_path" mapstructure:"bolt_path"`
}

// Store caches redaction outcomes keyed by Key. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the entry for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Key derives the cache key for text under an engine fingerprint. Values are
// never stored in clear as keys.
func Key(fingerprint, text string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// New builds the store selected by cfg.Backend.
func New(cfg *Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxEntries, cfg.DefaultTTL), nil
	case "redis":
		return NewRedisStore(cfg, logger)
	case "bolt":
		return NewBoltStore(cfg.BoltPath, cfg.DefaultTTL, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func expired(e *Entry, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.CachedAt) > ttl
}
