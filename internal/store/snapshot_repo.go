package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot preserves a playlist's track ordering so a mutation can be undone.
type Snapshot struct {
	ID         string
	PlaylistID string
	Owner      string
	TrackURIs  []string
	Reason     string
	CreatedAt  time.Time
}

type snapshotRow struct {
	ID         string `db:"id"`
	PlaylistID string `db:"playlist_id"`
	Owner      string `db:"owner"`
	TrackURIs  string `db:"track_uris"`
	Reason     string `db:"reason"`
	CreatedAt  int64  `db:"created_at"`
}

func (r snapshotRow) toSnapshot() (Snapshot, error) {
	var uris []string
	if err := json.Unmarshal([]byte(r.TrackURIs), &uris); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode snapshot %s track uris: %w", r.ID, err)
	}
	return Snapshot{
		ID:         r.ID,
		PlaylistID: r.PlaylistID,
		Owner:      r.Owner,
		TrackURIs:  uris,
		Reason:     r.Reason,
		CreatedAt:  time.Unix(r.CreatedAt, 0).UTC(),
	}, nil
}

// SnapshotRepo persists playlist snapshots.
type SnapshotRepo struct {
	db *DB
}

// NewSnapshotRepo creates the snapshot repository.
func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save stores a snapshot, assigning an ID and timestamp when absent, and
// returns the stored record.
func (r *SnapshotRepo) Save(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	uris, err := json.Marshal(snap.TrackURIs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: encode snapshot track uris: %w", err)
	}

	const query = `INSERT INTO snapshots (id, playlist_id, owner, track_uris, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.db.ExecContext(ctx, query,
		snap.ID, snap.PlaylistID, snap.Owner, string(uris), snap.Reason, snap.CreatedAt.Unix()); err != nil {
		return Snapshot{}, fmt.Errorf("store: save snapshot: %w", err)
	}
	return snap, nil
}

// Get fetches a snapshot by ID.
func (r *SnapshotRepo) Get(ctx context.Context, id string) (Snapshot, error) {
	var row snapshotRow
	err := r.db.db.GetContext(ctx, &row, `SELECT * FROM snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: get snapshot: %w", err)
	}
	return row.toSnapshot()
}

// Latest fetches the most recent snapshot for a playlist.
func (r *SnapshotRepo) Latest(ctx context.Context, playlistID string) (Snapshot, error) {
	var row snapshotRow
	const query = `SELECT * FROM snapshots WHERE playlist_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`
	err := r.db.db.GetContext(ctx, &row, query, playlistID)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: latest snapshot: %w", err)
	}
	return row.toSnapshot()
}

// ListByPlaylist fetches the newest snapshots for a playlist, most recent
// first.
func (r *SnapshotRepo) ListByPlaylist(ctx context.Context, playlistID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []snapshotRow
	const query = `SELECT * FROM snapshots WHERE playlist_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`
	if err := r.db.db.SelectContext(ctx, &rows, query, playlistID, limit); err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Prune deletes all but the newest keep snapshots of a playlist.
func (r *SnapshotRepo) Prune(ctx context.Context, playlistID string, keep int) error {
	if keep <= 0 {
		keep = 1
	}
	const query = `DELETE FROM snapshots WHERE playlist_id = ? AND id NOT IN (
		SELECT id FROM snapshots WHERE playlist_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?)`
	if _, err := r.db.db.ExecContext(ctx, query, playlistID, playlistID, keep); err != nil {
		return fmt.Errorf("store: prune snapshots: %w", err)
	}
	return nil
}
