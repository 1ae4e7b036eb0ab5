package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchSchedulesReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	schedFile := filepath.Join(dir, "schedules.yaml")
	if err := os.WriteFile(schedFile, []byte("schedules:\n  nightly:\n    playlist: p1\n    every: 24h\n"), 0o600); err != nil {
		t.Fatalf("failed to write schedules file: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Server.Schedules.Folder = dir

	loader := NewLoader("SHUFFLR")

	changeCh := make(chan ScheduleBundle, 4)
	errCh := make(chan error, 4)

	watcher, err := loader.WatchSchedules(ctx, cfg, func(bundle ScheduleBundle) {
		changeCh <- bundle
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
	defer watcher.Stop()

	select {
	case bundle := <-changeCh:
		if _, ok := bundle.Schedules["nightly"]; !ok {
			t.Fatalf("nightly schedule missing on initial load: %v", bundle.Schedules)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for initial bundle")
	}

	if err := os.WriteFile(schedFile, []byte("schedules:\n  nightly:\n    playlist: p1\n    every: 12h\n  extra:\n    playlist: p2\n    every: 24h\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite schedules file: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case bundle := <-changeCh:
			if _, ok := bundle.Schedules["extra"]; ok {
				return
			}
		case err := <-errCh:
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for reload")
		}
	}
}

func TestWatchSchedulesRequiresCallback(t *testing.T) {
	loader := NewLoader("SHUFFLR")
	cfg := DefaultConfig()
	cfg.Server.Schedules.Folder = t.TempDir()
	if _, err := loader.WatchSchedules(context.Background(), cfg, nil, nil); err == nil {
		t.Fatalf("expected error for missing callback")
	}
}

func TestWatchSchedulesRequiresFolder(t *testing.T) {
	loader := NewLoader("SHUFFLR")
	cfg := DefaultConfig()
	if _, err := loader.WatchSchedules(context.Background(), cfg, func(ScheduleBundle) {}, nil); err == nil {
		t.Fatalf("expected error for missing folder")
	}
}
