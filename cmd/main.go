package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmw2/shufflr/internal/cache"
	"github.com/dmw2/shufflr/internal/config"
	"github.com/dmw2/shufflr/internal/logging"
	"github.com/dmw2/shufflr/internal/metrics"
	"github.com/dmw2/shufflr/internal/playlist"
	"github.com/dmw2/shufflr/internal/schedule"
	"github.com/dmw2/shufflr/internal/server"
	"github.com/dmw2/shufflr/internal/songapi"
	"github.com/dmw2/shufflr/internal/store"
	"github.com/dmw2/shufflr/internal/upstream"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "SHUFFLR", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	cacheStore := buildCacheStore(logger, cfg.Server.Cache)
	playlistCache := cache.New(cacheStore, ttlPolicy(cfg.Server.Cache.TTL), logger, recorder)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := playlistCache.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := store.Open(ctx, cfg.Server.Database, logger)
	if err != nil {
		logger.Error("database setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("database shutdown failed", slog.Any("error", err))
		}
	}()

	caller := upstream.NewCaller(upstream.BackoffConfig{
		BaseDelay:  time.Duration(cfg.Server.Retry.BaseDelaySeconds) * time.Second,
		MaxDelay:   time.Duration(cfg.Server.Retry.MaxDelaySeconds) * time.Second,
		MaxRetries: cfg.Server.Retry.MaxRetries,
	}, logger).WithRetryObserver(func(op string, kind upstream.FailureKind) {
		recorder.ObserveUpstreamRetry(op, string(kind))
	})

	api, err := songapi.New(cfg.Server.Upstream, caller, logger, recorder)
	if err != nil {
		logger.Error("upstream client setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	snapshots := store.NewSnapshotRepo(db)
	runs := store.NewRunRepo(db)
	playlists := playlist.New(api, playlistCache, snapshots, logger)

	runner, err := schedule.NewRunner(playlists, runs, logger, recorder)
	if err != nil {
		logger.Error("schedule runner setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	runner.Apply(config.ScheduleBundle{
		Schedules: cfg.Schedules,
		Sources:   cfg.ScheduleSources,
		Skipped:   cfg.SkippedSchedules,
	})
	go runner.Run(ctx)

	if cfg.Server.Schedules.Folder != "" {
		watcher, err := loader.WatchSchedules(ctx, cfg, func(bundle config.ScheduleBundle) {
			runner.Apply(bundle)
		}, func(err error) {
			if err != nil {
				logger.Error("schedules watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("schedules watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewAPI(playlists, runner, runs, cfg.Server.API, logger).Handler(recorder.Handler())
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildCacheStore selects the cache backend, degrading to memory when redis
// is unreachable so startup never blocks on the cache.
func buildCacheStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache")
		return cache.NewMemory()
	case "redis":
		redisStore, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using redis cache", slog.String("address", cfg.Redis.Address))
		return redisStore
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}

func ttlPolicy(cfg config.CacheTTLConfig) cache.TTLPolicy {
	return cache.TTLPolicy{
		Collections: time.Duration(cfg.CollectionsSeconds) * time.Second,
		Profile:     time.Duration(cfg.ProfileSeconds) * time.Second,
		Derived:     time.Duration(cfg.DerivedSeconds) * time.Second,
	}
}
