package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmw2/shufflr/internal/config"
	"github.com/dmw2/shufflr/internal/expr"
	"github.com/dmw2/shufflr/internal/metrics"
	"github.com/dmw2/shufflr/internal/playlist"
	"github.com/dmw2/shufflr/internal/songapi"
	"github.com/dmw2/shufflr/internal/store"
	"github.com/dmw2/shufflr/internal/templates"
)

// defaultTick is how often the runner re-evaluates which schedules are due.
const defaultTick = 30 * time.Second

// ErrUnknownSchedule reports a trigger for a schedule that is not loaded.
var ErrUnknownSchedule = errors.New("schedule: unknown schedule")

// PlaylistService is the slice of the playlist layer schedules drive.
type PlaylistService interface {
	Get(ctx context.Context, id string) (*songapi.Playlist, error)
	Shuffle(ctx context.Context, id, reason string) (*playlist.ShuffleResult, error)
	UpdateDetails(ctx context.Context, id string, req songapi.UpdatePlaylistRequest) error
}

// RunRecorder persists and recalls schedule run history.
type RunRecorder interface {
	Record(ctx context.Context, run store.ScheduleRun) (int64, error)
	LastRun(ctx context.Context, schedule string) (store.ScheduleRun, error)
}

// compiledSchedule pairs a schedule definition with its parsed interval and
// compiled guard.
type compiledSchedule struct {
	cfg      config.ScheduleConfig
	interval time.Duration
	guard    *expr.Program
}

// Runner executes due schedules. Definitions arrive through Apply, typically
// wired to the schedules watcher, so a file edit takes effect on the next
// evaluation.
type Runner struct {
	playlists PlaylistService
	runs      RunRecorder
	env       *expr.Environment
	logger    *slog.Logger
	metrics   *metrics.Recorder
	tick      time.Duration
	now       func() time.Time

	mu        sync.Mutex
	schedules map[string]compiledSchedule
}

// NewRunner builds the schedule runner. The recorder may be nil.
func NewRunner(playlists PlaylistService, runs RunRecorder, logger *slog.Logger, rec *metrics.Recorder) (*Runner, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		playlists: playlists,
		runs:      runs,
		env:       env,
		logger:    logger.With(slog.String("component", "schedule")),
		metrics:   rec,
		tick:      defaultTick,
		now:       time.Now,
		schedules: make(map[string]compiledSchedule),
	}, nil
}

// Apply swaps in a new set of schedule definitions. Entries that fail to
// compile are dropped with a log line; the rest take effect immediately.
func (r *Runner) Apply(bundle config.ScheduleBundle) {
	next := make(map[string]compiledSchedule, len(bundle.Schedules))
	for name, cfg := range bundle.Schedules {
		if !cfg.IsEnabled() {
			r.logger.Info("schedule disabled", slog.String("schedule", name))
			continue
		}
		interval, err := cfg.Interval()
		if err != nil {
			r.logger.Warn("schedule dropped", slog.String("schedule", name), slog.Any("error", err))
			continue
		}
		entry := compiledSchedule{cfg: cfg, interval: interval}
		if cfg.Guard != "" {
			program, err := r.env.Compile(cfg.Guard)
			if err != nil {
				r.logger.Warn("schedule dropped", slog.String("schedule", name), slog.Any("error", err))
				continue
			}
			entry.guard = &program
		}
		next[name] = entry
	}

	r.mu.Lock()
	r.schedules = next
	r.mu.Unlock()
	r.logger.Info("schedules applied", slog.Int("count", len(next)))
}

// Schedules lists the loaded definitions by name.
func (r *Runner) Schedules() map[string]config.ScheduleConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]config.ScheduleConfig, len(r.schedules))
	for name, entry := range r.schedules {
		out[name] = entry.cfg
	}
	return out
}

// Run evaluates schedules until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runDue(ctx)
		}
	}
}

// RunNow executes a schedule immediately, regardless of its interval, and
// returns the recorded run.
func (r *Runner) RunNow(ctx context.Context, name string) (store.ScheduleRun, error) {
	r.mu.Lock()
	entry, ok := r.schedules[name]
	r.mu.Unlock()
	if !ok {
		return store.ScheduleRun{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return r.execute(ctx, name, entry), nil
}

// runDue walks the loaded schedules in name order and executes any whose
// interval has elapsed since their last recorded run.
func (r *Runner) runDue(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.schedules))
	for name := range r.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make(map[string]compiledSchedule, len(names))
	for _, name := range names {
		entries[name] = r.schedules[name]
	}
	r.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		entry := entries[name]
		due, err := r.isDue(ctx, name, entry)
		if err != nil {
			r.logger.Warn("schedule due check failed", slog.String("schedule", name), slog.Any("error", err))
			continue
		}
		if due {
			r.execute(ctx, name, entry)
		}
	}
}

func (r *Runner) isDue(ctx context.Context, name string, entry compiledSchedule) (bool, error) {
	last, err := r.runs.LastRun(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return r.now().Sub(last.StartedAt) >= entry.interval, nil
}

// execute runs one schedule end to end and records the outcome.
func (r *Runner) execute(ctx context.Context, name string, entry compiledSchedule) store.ScheduleRun {
	started := r.now()
	run := store.ScheduleRun{
		Schedule:   name,
		PlaylistID: entry.cfg.Playlist,
		StartedAt:  started.UTC(),
	}

	outcome, message := r.runOnce(ctx, name, entry, started)
	run.Outcome = outcome
	run.Message = message
	run.Duration = r.now().Sub(started)

	if r.runs != nil {
		if _, err := r.runs.Record(ctx, run); err != nil {
			r.logger.Warn("schedule run not recorded", slog.String("schedule", name), slog.Any("error", err))
		}
	}
	r.metrics.ObserveScheduleRun(name, outcome)

	attrs := []any{
		slog.String("schedule", name),
		slog.String("playlist", entry.cfg.Playlist),
		slog.String("outcome", outcome),
		slog.Duration("duration", run.Duration),
	}
	if message != "" {
		attrs = append(attrs, slog.String("message", message))
	}
	if outcome == store.RunOutcomeFailed {
		r.logger.Error("schedule run failed", attrs...)
	} else {
		r.logger.Info("schedule run finished", attrs...)
	}
	return run
}

func (r *Runner) runOnce(ctx context.Context, name string, entry compiledSchedule, started time.Time) (string, string) {
	pl, err := r.playlists.Get(ctx, entry.cfg.Playlist)
	if err != nil {
		return store.RunOutcomeFailed, err.Error()
	}

	if entry.guard != nil {
		pass, err := entry.guard.EvalBool(map[string]any{
			"playlist": guardVars(pl),
			"now":      started,
		})
		if err != nil {
			return store.RunOutcomeFailed, err.Error()
		}
		if !pass {
			return store.RunOutcomeSkipped, "guard held"
		}
	}

	result, err := r.playlists.Shuffle(ctx, entry.cfg.Playlist, "schedule:"+name)
	if err != nil {
		return store.RunOutcomeFailed, err.Error()
	}

	if entry.cfg.Rename != "" {
		title, err := templates.Render(entry.cfg.Rename, templates.NameData{
			Name:   pl.Name,
			Tracks: result.TrackCount,
			Time:   started,
		})
		if err != nil {
			return store.RunOutcomeFailed, err.Error()
		}
		if title != pl.Name {
			if err := r.playlists.UpdateDetails(ctx, entry.cfg.Playlist, songapi.UpdatePlaylistRequest{Name: &title}); err != nil {
				return store.RunOutcomeFailed, err.Error()
			}
		}
	}

	return store.RunOutcomeSuccess, fmt.Sprintf("shuffled %d tracks, snapshot %s", result.TrackCount, result.SnapshotID)
}

// guardVars is the activation a guard expression sees for the target
// playlist.
func guardVars(pl *songapi.Playlist) map[string]any {
	return map[string]any{
		"id":            pl.ID,
		"name":          pl.Name,
		"description":   pl.Description,
		"tracks":        pl.Tracks.Total,
		"owner":         pl.Owner.ID,
		"public":        pl.Public,
		"collaborative": pl.Collaborative,
	}
}
