package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmw2/shufflr/internal/config"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testDB(t *testing.T) *DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	db, err := Open(context.Background(), config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")
	db, err := Open(context.Background(), config.DatabaseConfig{Path: path}, logger)
	require.NoError(t, err)
	require.NoError(t, db.Health(context.Background()))
	require.NoError(t, db.Close())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{}, nil)
	require.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo(testDB(t))

	saved, err := repo.Save(ctx, Snapshot{
		PlaylistID: "p1",
		Owner:      "u1",
		TrackURIs:  []string{"song:track:a", "song:track:b", "song:track:c"},
		Reason:     "shuffle",
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.False(t, saved.CreatedAt.IsZero())

	got, err := repo.Get(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "p1", got.PlaylistID)
	require.Equal(t, "u1", got.Owner)
	require.Equal(t, []string{"song:track:a", "song:track:b", "song:track:c"}, got.TrackURIs)
	require.Equal(t, "shuffle", got.Reason)
}

func TestSnapshotGetMissing(t *testing.T) {
	repo := NewSnapshotRepo(testDB(t))
	_, err := repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotLatestAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo(testDB(t))

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		_, err := repo.Save(ctx, Snapshot{
			PlaylistID: "p1",
			Owner:      "u1",
			TrackURIs:  []string{"song:track:a"},
			Reason:     "shuffle",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.Save(ctx, Snapshot{
		PlaylistID: "other",
		Owner:      "u1",
		TrackURIs:  []string{"song:track:z"},
		CreatedAt:  base.Add(time.Hour),
	})
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, base.Add(2*time.Minute), latest.CreatedAt)

	snaps, err := repo.ListByPlaylist(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.True(t, snaps[0].CreatedAt.After(snaps[1].CreatedAt))

	_, err = repo.Latest(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotPruneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo(testDB(t))

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		_, err := repo.Save(ctx, Snapshot{
			PlaylistID: "p1",
			Owner:      "u1",
			TrackURIs:  []string{"song:track:a"},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	require.NoError(t, repo.Prune(ctx, "p1", 2))

	snaps, err := repo.ListByPlaylist(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, base.Add(4*time.Minute), snaps[0].CreatedAt)
	require.Equal(t, base.Add(3*time.Minute), snaps[1].CreatedAt)
}

func TestScheduleRunHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(testDB(t))

	base := time.Now().UTC().Truncate(time.Second)
	runs := []ScheduleRun{
		{Schedule: "nightly", PlaylistID: "p1", Outcome: RunOutcomeSuccess, StartedAt: base, Duration: 1200 * time.Millisecond},
		{Schedule: "nightly", PlaylistID: "p1", Outcome: RunOutcomeFailed, Message: "upstream hiccup", StartedAt: base.Add(time.Minute)},
		{Schedule: "weekly", PlaylistID: "p2", Outcome: RunOutcomeSkipped, Message: "guard held", StartedAt: base.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		id, err := repo.Record(ctx, run)
		require.NoError(t, err)
		require.Positive(t, id)
	}

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "weekly", recent[0].Schedule)

	nightly, err := repo.RecentBySchedule(ctx, "nightly", 10)
	require.NoError(t, err)
	require.Len(t, nightly, 2)
	require.Equal(t, RunOutcomeFailed, nightly[0].Outcome)
	require.Equal(t, "upstream hiccup", nightly[0].Message)
	require.Equal(t, 1200*time.Millisecond, nightly[1].Duration)

	last, err := repo.LastRun(ctx, "weekly")
	require.NoError(t, err)
	require.Equal(t, RunOutcomeSkipped, last.Outcome)

	_, err = repo.LastRun(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}
