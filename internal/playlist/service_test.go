package playlist

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmw2/shufflr/internal/cache"
	"github.com/dmw2/shufflr/internal/config"
	"github.com/dmw2/shufflr/internal/songapi"
	"github.com/dmw2/shufflr/internal/store"
	"github.com/dmw2/shufflr/internal/upstream"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

// fakeAPI counts calls so tests can observe cache hits versus upstream trips.
type fakeAPI struct {
	user      *songapi.User
	playlists []songapi.Playlist
	tracks    map[string][]songapi.PlaylistTrack
	features  []songapi.AudioFeatures

	userCalls     int
	playlistCalls int
	trackCalls    int
	replaced      map[string][][]string
	failReplace   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		user: &songapi.User{ID: "u1", DisplayName: "Dana"},
		playlists: []songapi.Playlist{
			{ID: "p1", Name: "Morning", Owner: songapi.Owner{ID: "u1"}},
		},
		tracks: map[string][]songapi.PlaylistTrack{
			"p1": {
				{Track: songapi.Track{URI: "song:track:a", ID: "a"}},
				{Track: songapi.Track{URI: "song:track:b", ID: "b"}},
				{Track: songapi.Track{URI: "song:track:c", ID: "c"}},
				{Track: songapi.Track{URI: "song:track:d", ID: "d"}},
			},
		},
		replaced: make(map[string][][]string),
	}
}

func (f *fakeAPI) CurrentUser(context.Context) (*songapi.User, error) {
	f.userCalls++
	return f.user, nil
}

func (f *fakeAPI) Playlists(context.Context) ([]songapi.Playlist, error) {
	f.playlistCalls++
	return f.playlists, nil
}

func (f *fakeAPI) Playlist(_ context.Context, id string) (*songapi.Playlist, error) {
	f.playlistCalls++
	for _, p := range f.playlists {
		if p.ID == id {
			pl := p
			return &pl, nil
		}
	}
	return nil, &upstream.NotFoundError{Failure: upstream.Failure{Kind: upstream.KindNotFound, Message: "no such playlist", StatusCode: 404}}
}

func (f *fakeAPI) PlaylistTracks(_ context.Context, id string) ([]songapi.PlaylistTrack, error) {
	f.trackCalls++
	return f.tracks[id], nil
}

func (f *fakeAPI) CreatePlaylist(_ context.Context, userID string, req songapi.CreatePlaylistRequest) (*songapi.Playlist, error) {
	pl := songapi.Playlist{ID: "new", Name: req.Name, Owner: songapi.Owner{ID: userID}}
	f.playlists = append(f.playlists, pl)
	return &pl, nil
}

func (f *fakeAPI) UpdatePlaylistDetails(_ context.Context, id string, req songapi.UpdatePlaylistRequest) error {
	for i := range f.playlists {
		if f.playlists[i].ID == id && req.Name != nil {
			f.playlists[i].Name = *req.Name
		}
	}
	return nil
}

func (f *fakeAPI) ReplaceTracks(_ context.Context, id string, uris []string) error {
	if f.failReplace != nil {
		return f.failReplace
	}
	f.replaced[id] = append(f.replaced[id], uris)
	rebuilt := make([]songapi.PlaylistTrack, 0, len(uris))
	for _, uri := range uris {
		rebuilt = append(rebuilt, songapi.PlaylistTrack{Track: songapi.Track{URI: uri}})
	}
	f.tracks[id] = rebuilt
	return nil
}

func (f *fakeAPI) AudioFeatures(_ context.Context, trackIDs []string) ([]songapi.AudioFeatures, error) {
	return f.features, nil
}

func testService(t *testing.T, api MusicAPI) (*Service, *store.SnapshotRepo) {
	t.Helper()
	db, err := store.Open(context.Background(), config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	}, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	snapshots := store.NewSnapshotRepo(db)
	c := cache.New(cache.NewMemory(), cache.DefaultTTLPolicy, testLogger(t), nil)
	return New(api, c, snapshots, testLogger(t)), snapshots
}

func TestPlaylistsServedFromCache(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)
	ctx := context.Background()

	first, err := svc.Playlists(ctx)
	require.NoError(t, err)
	second, err := svc.Playlists(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, api.playlistCalls)
	require.Equal(t, 1, api.userCalls)
}

func TestTracksServedFromCache(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)
	ctx := context.Background()

	_, err := svc.Tracks(ctx, "p1")
	require.NoError(t, err)
	tracks, err := svc.Tracks(ctx, "p1")
	require.NoError(t, err)

	require.Len(t, tracks, 4)
	require.Equal(t, 1, api.trackCalls)
}

func TestShuffleSnapshotsThenReplaces(t *testing.T) {
	api := newFakeAPI()
	svc, snapshots := testService(t, api)
	ctx := context.Background()

	// Always swapping with index 0 rotates the list, never the identity for n > 1.
	svc.randInt = func(int) int { return 0 }

	result, err := svc.Shuffle(ctx, "p1", "manual")
	require.NoError(t, err)
	require.Equal(t, 4, result.TrackCount)
	require.NotEmpty(t, result.SnapshotID)

	snap, err := snapshots.Get(ctx, result.SnapshotID)
	require.NoError(t, err)
	require.Equal(t, []string{"song:track:a", "song:track:b", "song:track:c", "song:track:d"}, snap.TrackURIs)
	require.Equal(t, "manual", snap.Reason)
	require.Equal(t, "u1", snap.Owner)

	require.Len(t, api.replaced["p1"], 1)
	written := api.replaced["p1"][0]
	require.NotEqual(t, snap.TrackURIs, written)
	sorted := append([]string(nil), written...)
	sort.Strings(sorted)
	require.Equal(t, snap.TrackURIs, sorted)
}

func TestShuffleFailureKeepsSnapshot(t *testing.T) {
	api := newFakeAPI()
	api.failReplace = &upstream.ServerError{Failure: upstream.Failure{Kind: upstream.KindServerError, Message: "boom", StatusCode: 503}}
	svc, snapshots := testService(t, api)
	ctx := context.Background()

	_, err := svc.Shuffle(ctx, "p1", "manual")
	require.Error(t, err)
	require.Equal(t, upstream.KindServerError, upstream.KindOf(err))

	snap, err := snapshots.Latest(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, snap.TrackURIs, 4)
}

func TestUndoRestoresLatestSnapshot(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)
	ctx := context.Background()

	svc.randInt = func(int) int { return 0 }
	result, err := svc.Shuffle(ctx, "p1", "manual")
	require.NoError(t, err)

	undone, err := svc.Undo(ctx, "p1", "")
	require.NoError(t, err)
	require.Equal(t, result.SnapshotID, undone.SnapshotID)
	require.Equal(t, 4, undone.TrackCount)

	require.Len(t, api.replaced["p1"], 2)
	require.Equal(t, []string{"song:track:a", "song:track:b", "song:track:c", "song:track:d"}, api.replaced["p1"][1])
}

func TestUndoWithoutSnapshot(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)

	_, err := svc.Undo(context.Background(), "p1", "")
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestUndoRejectsForeignSnapshot(t *testing.T) {
	api := newFakeAPI()
	svc, snapshots := testService(t, api)
	ctx := context.Background()

	snap, err := snapshots.Save(ctx, store.Snapshot{
		PlaylistID: "other",
		Owner:      "u1",
		TrackURIs:  []string{"song:track:z"},
	})
	require.NoError(t, err)

	_, err = svc.Undo(ctx, "p1", snap.ID)
	require.ErrorIs(t, err, ErrSnapshotMismatch)
}

func TestShuffleInvalidatesCachedTracks(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)
	ctx := context.Background()

	_, err := svc.Tracks(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, api.trackCalls)

	svc.randInt = func(int) int { return 0 }
	_, err = svc.Shuffle(ctx, "p1", "manual")
	require.NoError(t, err)

	// Shuffle reads the live ordering and the next read misses the cache.
	_, err = svc.Tracks(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 3, api.trackCalls)
}

func TestCreateInvalidatesListing(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)
	ctx := context.Background()

	_, err := svc.Playlists(ctx)
	require.NoError(t, err)

	_, err = svc.Create(ctx, songapi.CreatePlaylistRequest{Name: "Evening"})
	require.NoError(t, err)

	lists, err := svc.Playlists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	require.Equal(t, 2, api.playlistCalls)
}

func TestNotFoundPassesThrough(t *testing.T) {
	api := newFakeAPI()
	svc, _ := testService(t, api)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, upstream.KindNotFound, upstream.KindOf(err))
}
