package store

import (
	"context"
	"fmt"
	"time"
)

// Schedule run outcomes.
const (
	RunOutcomeSuccess = "success"
	RunOutcomeSkipped = "skipped"
	RunOutcomeFailed  = "failed"
)

// ScheduleRun records one execution of a schedule.
type ScheduleRun struct {
	ID         int64
	Schedule   string
	PlaylistID string
	Outcome    string
	Message    string
	StartedAt  time.Time
	Duration   time.Duration
}

type scheduleRunRow struct {
	ID         int64  `db:"id"`
	Schedule   string `db:"schedule"`
	PlaylistID string `db:"playlist_id"`
	Outcome    string `db:"outcome"`
	Message    string `db:"message"`
	StartedAt  int64  `db:"started_at"`
	DurationMS int64  `db:"duration_ms"`
}

func (r scheduleRunRow) toRun() ScheduleRun {
	return ScheduleRun{
		ID:         r.ID,
		Schedule:   r.Schedule,
		PlaylistID: r.PlaylistID,
		Outcome:    r.Outcome,
		Message:    r.Message,
		StartedAt:  time.Unix(r.StartedAt, 0).UTC(),
		Duration:   time.Duration(r.DurationMS) * time.Millisecond,
	}
}

// RunRepo persists schedule execution history.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates the schedule run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Record stores one schedule run and returns its assigned ID.
func (r *RunRepo) Record(ctx context.Context, run ScheduleRun) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_runs (schedule, playlist_id, outcome, message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`
	result, err := r.db.db.ExecContext(ctx, query,
		run.Schedule, run.PlaylistID, run.Outcome, run.Message,
		run.StartedAt.Unix(), run.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("store: record schedule run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: schedule run id: %w", err)
	}
	return id, nil
}

// Recent fetches the newest runs across all schedules, most recent first.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []scheduleRunRow
	const query = `SELECT * FROM schedule_runs ORDER BY started_at DESC, id DESC LIMIT ?`
	if err := r.db.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("store: recent schedule runs: %w", err)
	}
	runs := make([]ScheduleRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// RecentBySchedule fetches the newest runs of one schedule, most recent first.
func (r *RunRepo) RecentBySchedule(ctx context.Context, schedule string, limit int) ([]ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []scheduleRunRow
	const query = `SELECT * FROM schedule_runs WHERE schedule = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`
	if err := r.db.db.SelectContext(ctx, &rows, query, schedule, limit); err != nil {
		return nil, fmt.Errorf("store: schedule run history: %w", err)
	}
	runs := make([]ScheduleRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

// LastRun fetches the most recent run of a schedule, or ErrNotFound.
func (r *RunRepo) LastRun(ctx context.Context, schedule string) (ScheduleRun, error) {
	runs, err := r.RecentBySchedule(ctx, schedule, 1)
	if err != nil {
		return ScheduleRun{}, err
	}
	if len(runs) == 0 {
		return ScheduleRun{}, ErrNotFound
	}
	return runs[0], nil
}
