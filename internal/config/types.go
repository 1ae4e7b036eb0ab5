// Package config hydrates and validates the server configuration and the
// declarative schedule documents.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option plus the schedule definitions once
// their sources are loaded.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Schedules map[string]ScheduleConfig `koanf:"schedules"`

	InlineSchedules map[string]ScheduleConfig `koanf:"-"`

	// ScheduleSources records which files contributed schedule definitions
	// once the loader resolves the configured folder. Excluded from koanf so
	// the value only reflects runtime discovery.
	ScheduleSources []string `koanf:"-"`
	// SkippedSchedules captures duplicate or invalid definitions the loader
	// intentionally disabled, so health checks can surface them without
	// re-parsing raw files.
	SkippedSchedules []ScheduleSkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs.
type ServerConfig struct {
	Listen    ListenConfig    `koanf:"listen"`
	Logging   LoggingConfig   `koanf:"logging"`
	API       APIConfig       `koanf:"api"`
	Cache     CacheConfig     `koanf:"cache"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Retry     RetryConfig     `koanf:"retry"`
	Database  DatabaseConfig  `koanf:"database"`
	Schedules SchedulesConfig `koanf:"schedules"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// APIConfig guards the management API. Requests must present the key in the
// X-Api-Key header; an empty key disables the check for local use.
type APIConfig struct {
	Key string `koanf:"key"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend string           `koanf:"backend"`
	TTL     CacheTTLConfig   `koanf:"ttl"`
	Redis   RedisCacheConfig `koanf:"redis"`
}

// CacheTTLConfig sets the three expiry tiers in seconds.
type CacheTTLConfig struct {
	CollectionsSeconds int `koanf:"collectionsSeconds"`
	ProfileSeconds     int `koanf:"profileSeconds"`
	DerivedSeconds     int `koanf:"derivedSeconds"`
}

// RedisCacheConfig points the redis backend at its server.
type RedisCacheConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      RedisTLSCacheConfig `koanf:"tls"`
}

// RedisTLSCacheConfig enables TLS toward redis.
type RedisTLSCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamConfig describes the music service API endpoint and credentials.
// Token refresh is owned by an external process; this service reads the
// current access token either inline or from a file that the refresher
// rewrites.
type UpstreamConfig struct {
	BaseURL        string `koanf:"baseUrl"`
	Token          string `koanf:"token"`
	TokenFile      string `koanf:"tokenFile"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// RetryConfig overrides the backoff schedule for upstream calls.
type RetryConfig struct {
	BaseDelaySeconds int `koanf:"baseDelaySeconds"`
	MaxDelaySeconds  int `koanf:"maxDelaySeconds"`
	MaxRetries       int `koanf:"maxRetries"`
}

// DatabaseConfig locates the sqlite file holding snapshots and run history.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// SchedulesConfig announces where schedule documents are sourced.
type SchedulesConfig struct {
	Folder string `koanf:"folder"`
}

// ScheduleConfig is one declarative shuffle schedule.
type ScheduleConfig struct {
	Description string `koanf:"description"`
	// Playlist is the upstream playlist id the schedule targets.
	Playlist string `koanf:"playlist"`
	// Every is the run interval as a Go duration string ("12h", "30m").
	Every string `koanf:"every"`
	// Guard is an optional CEL expression; the run is skipped when it
	// evaluates false. Variables: playlist (map), now (timestamp).
	Guard string `koanf:"guard"`
	// Rename optionally re-titles the playlist after each shuffle using a
	// sprig template over {{.Name}}, {{.Tracks}}, and {{.Time}}.
	Rename  string `koanf:"rename"`
	Enabled *bool  `koanf:"enabled"`
}

// IsEnabled treats a missing flag as on.
func (s ScheduleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Interval parses the Every field.
func (s ScheduleConfig) Interval() (time.Duration, error) {
	raw := strings.TrimSpace(s.Every)
	if raw == "" {
		return 0, errors.New("config: schedule interval required")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: schedule interval %q: %w", raw, err)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("config: schedule interval %q below 1m floor", raw)
	}
	return d, nil
}

// ScheduleSkip describes a schedule definition the loader intentionally
// ignored because it violated invariants (duplicate names across files,
// unparseable intervals, invalid guards).
type ScheduleSkip struct {
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// DefaultConfig returns the baseline every load starts from.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ListenConfig{Address: "0.0.0.0", Port: 8080},
			Logging: LoggingConfig{Level: "info", Format: "json"},
			Cache: CacheConfig{
				Backend: "memory",
				TTL: CacheTTLConfig{
					CollectionsSeconds: 60,
					ProfileSeconds:     900,
					DerivedSeconds:     86400,
				},
			},
			Upstream: UpstreamConfig{
				BaseURL:        "https://api.spotify.com/v1",
				TimeoutSeconds: 10,
			},
			Retry: RetryConfig{
				BaseDelaySeconds: 2,
				MaxDelaySeconds:  16,
				MaxRetries:       4,
			},
			Database: DatabaseConfig{Path: "shufflr.db"},
		},
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	switch strings.ToLower(c.Server.Cache.Backend) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Server.Cache.Backend)
	}
	if strings.TrimSpace(c.Server.Upstream.BaseURL) == "" {
		return errors.New("config: upstream base url required")
	}
	if c.Server.Upstream.TimeoutSeconds <= 0 {
		return errors.New("config: upstream timeout must be positive")
	}
	if c.Server.Retry.MaxRetries < 0 {
		return errors.New("config: retry count cannot be negative")
	}
	if c.Server.Retry.BaseDelaySeconds > 0 && c.Server.Retry.MaxDelaySeconds > 0 &&
		c.Server.Retry.MaxDelaySeconds < c.Server.Retry.BaseDelaySeconds {
		return errors.New("config: retry max delay below base delay")
	}
	if strings.TrimSpace(c.Server.Database.Path) == "" {
		return errors.New("config: database path required")
	}
	return nil
}
