package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot plus the schedule bundle from the
// configured folder.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.cache.ttl.collectionsseconds": "server.cache.ttl.collectionsSeconds",
			"server.cache.ttl.profileseconds":     "server.cache.ttl.profileSeconds",
			"server.cache.ttl.derivedseconds":     "server.cache.ttl.derivedSeconds",
			"server.cache.redis.tls.cafile":       "server.cache.redis.tls.caFile",
			"server.upstream.baseurl":             "server.upstream.baseUrl",
			"server.upstream.tokenfile":           "server.upstream.tokenFile",
			"server.upstream.timeoutseconds":      "server.upstream.timeoutSeconds",
			"server.retry.basedelayseconds":       "server.retry.baseDelaySeconds",
			"server.retry.maxdelayseconds":        "server.retry.maxDelaySeconds",
			"server.retry.maxretries":             "server.retry.maxRetries",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers choose not to use double underscores
			// for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.InlineSchedules = cloneScheduleMap(cfg.Schedules)

	bundle, err := buildScheduleBundle(ctx, cfg.InlineSchedules, cfg.Server.Schedules)
	if err != nil {
		return Config{}, err
	}
	cfg.Schedules = bundle.Schedules
	cfg.ScheduleSources = bundle.Sources
	cfg.SkippedSchedules = bundle.Skipped
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"api": map[string]any{
				"key": cfg.Server.API.Key,
			},
			"cache": map[string]any{
				"backend": cfg.Server.Cache.Backend,
				"ttl": map[string]any{
					"collectionsSeconds": cfg.Server.Cache.TTL.CollectionsSeconds,
					"profileSeconds":     cfg.Server.Cache.TTL.ProfileSeconds,
					"derivedSeconds":     cfg.Server.Cache.TTL.DerivedSeconds,
				},
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"upstream": map[string]any{
				"baseUrl":        cfg.Server.Upstream.BaseURL,
				"token":          cfg.Server.Upstream.Token,
				"tokenFile":      cfg.Server.Upstream.TokenFile,
				"timeoutSeconds": cfg.Server.Upstream.TimeoutSeconds,
			},
			"retry": map[string]any{
				"baseDelaySeconds": cfg.Server.Retry.BaseDelaySeconds,
				"maxDelaySeconds":  cfg.Server.Retry.MaxDelaySeconds,
				"maxRetries":       cfg.Server.Retry.MaxRetries,
			},
			"database": map[string]any{
				"path": cfg.Server.Database.Path,
			},
			"schedules": map[string]any{
				"folder": cfg.Server.Schedules.Folder,
			},
		},
	}
}

func cloneScheduleMap(in map[string]ScheduleConfig) map[string]ScheduleConfig {
	if in == nil {
		return nil
	}
	out := make(map[string]ScheduleConfig, len(in))
	for name, cfg := range in {
		out[name] = cfg
	}
	return out
}
