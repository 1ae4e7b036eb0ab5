package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dmw2/shufflr/internal/cache"
	"github.com/dmw2/shufflr/internal/songapi"
	"github.com/dmw2/shufflr/internal/store"
)

// snapshotKeep caps how many undo snapshots are retained per playlist.
const snapshotKeep = 20

// ErrNoSnapshot reports an undo request for a playlist that was never
// snapshotted.
var ErrNoSnapshot = errors.New("playlist: no snapshot to undo")

// ErrSnapshotMismatch reports a snapshot that belongs to a different
// playlist.
var ErrSnapshotMismatch = errors.New("playlist: snapshot belongs to another playlist")

// MusicAPI is the slice of the upstream client the service consumes.
type MusicAPI interface {
	CurrentUser(ctx context.Context) (*songapi.User, error)
	Playlists(ctx context.Context) ([]songapi.Playlist, error)
	Playlist(ctx context.Context, id string) (*songapi.Playlist, error)
	PlaylistTracks(ctx context.Context, id string) ([]songapi.PlaylistTrack, error)
	CreatePlaylist(ctx context.Context, userID string, req songapi.CreatePlaylistRequest) (*songapi.Playlist, error)
	UpdatePlaylistDetails(ctx context.Context, id string, req songapi.UpdatePlaylistRequest) error
	ReplaceTracks(ctx context.Context, id string, uris []string) error
	AudioFeatures(ctx context.Context, trackIDs []string) ([]songapi.AudioFeatures, error)
}

// SnapshotStore persists track orderings for undo.
type SnapshotStore interface {
	Save(ctx context.Context, snap store.Snapshot) (store.Snapshot, error)
	Get(ctx context.Context, id string) (store.Snapshot, error)
	Latest(ctx context.Context, playlistID string) (store.Snapshot, error)
	ListByPlaylist(ctx context.Context, playlistID string, limit int) ([]store.Snapshot, error)
	Prune(ctx context.Context, playlistID string, keep int) error
}

// ShuffleResult reports what a shuffle did.
type ShuffleResult struct {
	PlaylistID string `json:"playlistId"`
	SnapshotID string `json:"snapshotId"`
	TrackCount int    `json:"trackCount"`
}

// UndoResult reports which ordering an undo restored.
type UndoResult struct {
	PlaylistID string    `json:"playlistId"`
	SnapshotID string    `json:"snapshotId"`
	TrackCount int       `json:"trackCount"`
	SnapshotAt time.Time `json:"snapshotAt"`
}

// Service is the cache-fronted domain layer. Reads consult the fail-open
// cache before the upstream API and populate it afterwards; mutations
// invalidate the affected key prefixes. Upstream failures pass through as the
// typed kinds, untouched.
type Service struct {
	api       MusicAPI
	cache     *cache.Cache
	snapshots SnapshotStore
	logger    *slog.Logger
	randInt   func(n int) int
}

// New builds the playlist service.
func New(api MusicAPI, c *cache.Cache, snapshots SnapshotStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:       api,
		cache:     c,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "playlist")),
		randInt:   rand.IntN,
	}
}

// Profile returns the acting user, cached on the profile tier.
func (s *Service) Profile(ctx context.Context) (*songapi.User, error) {
	key := cache.Key("profile", "me")
	if user, ok := cache.GetJSON[*songapi.User](ctx, s.cache, key); ok {
		return user, nil
	}
	user, err := s.api.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, user, s.cache.TTLFor(cache.ResourceProfile))
	return user, nil
}

// Playlists lists the acting user's playlists, cached on the collections
// tier.
func (s *Service) Playlists(ctx context.Context) ([]songapi.Playlist, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.Key("playlists", owner)
	if lists, ok := cache.GetJSON[[]songapi.Playlist](ctx, s.cache, key); ok {
		return lists, nil
	}
	lists, err := s.api.Playlists(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, lists, s.cache.TTLFor(cache.ResourcePlaylists))
	return lists, nil
}

// Get fetches one playlist, cached on the collections tier.
func (s *Service) Get(ctx context.Context, id string) (*songapi.Playlist, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.Key("playlist", owner, id)
	if pl, ok := cache.GetJSON[*songapi.Playlist](ctx, s.cache, key); ok {
		return pl, nil
	}
	pl, err := s.api.Playlist(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, pl, s.cache.TTLFor(cache.ResourcePlaylists))
	return pl, nil
}

// Tracks fetches a playlist's ordered contents, cached on the collections
// tier.
func (s *Service) Tracks(ctx context.Context, id string) ([]songapi.PlaylistTrack, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	key := cache.Key("playlist", owner, id, "tracks")
	if tracks, ok := cache.GetJSON[[]songapi.PlaylistTrack](ctx, s.cache, key); ok {
		return tracks, nil
	}
	tracks, err := s.api.PlaylistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, tracks, s.cache.TTLFor(cache.ResourceTracks))
	return tracks, nil
}

// Features fetches audio analysis for every track in a playlist, cached on
// the derived tier since the analysis never changes for a given track set.
func (s *Service) Features(ctx context.Context, id string) ([]songapi.AudioFeatures, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	tracks, err := s.Tracks(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.Track.ID != "" {
			ids = append(ids, t.Track.ID)
		}
	}

	key := cache.Descriptor{
		Operation: "features",
		User:      owner,
		Params:    map[string]string{"ids": strings.Join(ids, ",")},
	}.Key()
	if features, ok := cache.GetJSON[[]songapi.AudioFeatures](ctx, s.cache, key); ok {
		return features, nil
	}
	features, err := s.api.AudioFeatures(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, features, s.cache.TTLFor(cache.ResourceFeatures))
	return features, nil
}

// Create makes a new playlist for the acting user and drops the stale
// listing.
func (s *Service) Create(ctx context.Context, req songapi.CreatePlaylistRequest) (*songapi.Playlist, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	pl, err := s.api.CreatePlaylist(ctx, owner, req)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.Key("playlists", owner))
	return pl, nil
}

// UpdateDetails changes a playlist's name, description, or visibility and
// drops every cached view of it.
func (s *Service) UpdateDetails(ctx context.Context, id string, req songapi.UpdatePlaylistRequest) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.api.UpdatePlaylistDetails(ctx, id, req); err != nil {
		return err
	}
	s.invalidatePlaylist(ctx, owner, id)
	return nil
}

// Shuffle snapshots the playlist's current ordering, rewrites it in a
// uniformly random permutation, and drops the cached views. The snapshot is
// saved before the upstream write so a failed replace still leaves the old
// ordering recoverable.
func (s *Service) Shuffle(ctx context.Context, id, reason string) (*ShuffleResult, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	tracks, err := s.api.PlaylistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	uris := trackURIs(tracks)

	snap, err := s.snapshots.Save(ctx, store.Snapshot{
		PlaylistID: id,
		Owner:      owner,
		TrackURIs:  uris,
		Reason:     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("playlist: snapshot before shuffle: %w", err)
	}

	shuffled := make([]string, len(uris))
	copy(shuffled, uris)
	s.shuffle(shuffled)

	if err := s.api.ReplaceTracks(ctx, id, shuffled); err != nil {
		return nil, err
	}
	s.invalidatePlaylist(ctx, owner, id)

	if err := s.snapshots.Prune(ctx, id, snapshotKeep); err != nil {
		s.logger.Warn("snapshot prune failed", slog.String("playlist", id), slog.Any("error", err))
	}

	s.logger.Info("playlist shuffled",
		slog.String("playlist", id),
		slog.String("snapshot", snap.ID),
		slog.Int("tracks", len(shuffled)))
	return &ShuffleResult{PlaylistID: id, SnapshotID: snap.ID, TrackCount: len(shuffled)}, nil
}

// Undo restores a snapshotted ordering. An empty snapshotID restores the most
// recent snapshot of the playlist.
func (s *Service) Undo(ctx context.Context, playlistID, snapshotID string) (*UndoResult, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}

	var snap store.Snapshot
	if snapshotID == "" {
		snap, err = s.snapshots.Latest(ctx, playlistID)
	} else {
		snap, err = s.snapshots.Get(ctx, snapshotID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("playlist: load snapshot: %w", err)
	}
	if snap.PlaylistID != playlistID {
		return nil, ErrSnapshotMismatch
	}

	if err := s.api.ReplaceTracks(ctx, playlistID, snap.TrackURIs); err != nil {
		return nil, err
	}
	s.invalidatePlaylist(ctx, owner, playlistID)

	s.logger.Info("playlist restored",
		slog.String("playlist", playlistID),
		slog.String("snapshot", snap.ID),
		slog.Int("tracks", len(snap.TrackURIs)))
	return &UndoResult{
		PlaylistID: playlistID,
		SnapshotID: snap.ID,
		TrackCount: len(snap.TrackURIs),
		SnapshotAt: snap.CreatedAt,
	}, nil
}

// Snapshots lists the retained snapshots of a playlist, newest first.
func (s *Service) Snapshots(ctx context.Context, playlistID string, limit int) ([]store.Snapshot, error) {
	return s.snapshots.ListByPlaylist(ctx, playlistID, limit)
}

// owner resolves the acting user's ID, riding the cached profile.
func (s *Service) owner(ctx context.Context) (string, error) {
	user, err := s.Profile(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// invalidatePlaylist drops the playlist's cached views and the listing that
// embeds its metadata.
func (s *Service) invalidatePlaylist(ctx context.Context, owner, id string) {
	s.cache.InvalidatePrefix(ctx, cache.Key("playlist", owner, id))
	s.cache.Invalidate(ctx, cache.Key("playlists", owner))
}

// shuffle permutes uris in place with a Fisher-Yates walk so every ordering
// is equally likely.
func (s *Service) shuffle(uris []string) {
	for i := len(uris) - 1; i > 0; i-- {
		j := s.randInt(i + 1)
		uris[i], uris[j] = uris[j], uris[i]
	}
}

func trackURIs(tracks []songapi.PlaylistTrack) []string {
	uris := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.Track.URI != "" {
			uris = append(uris, t.Track.URI)
		}
	}
	return uris
}
