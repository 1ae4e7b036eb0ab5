package songapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmw2/shufflr/internal/config"
	"github.com/dmw2/shufflr/internal/metrics"
	"github.com/dmw2/shufflr/internal/upstream"
)

// chunkSize is the most track URIs the API accepts in one mutation request.
const chunkSize = 100

// pageLimit is the collection page size requested on reads.
const pageLimit = 50

// httpDoer abstracts the HTTP client so tests can substitute transports.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the music service's Web API. Every operation runs through
// the retry orchestrator, so callers only ever see the typed failures.
type Client struct {
	baseURL string
	http    httpDoer
	tokens  TokenSource
	caller  *upstream.Caller
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New builds the API client. The recorder may be nil.
func New(cfg config.UpstreamConfig, caller *upstream.Caller, logger *slog.Logger, rec *metrics.Recorder) (*Client, error) {
	tokens, err := TokenSourceFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("songapi: base url required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if caller == nil {
		caller = upstream.NewCaller(upstream.BackoffConfig{}, logger)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		caller:  caller,
		logger:  logger.With(slog.String("component", "songapi")),
		metrics: rec,
	}, nil
}

// CurrentUser fetches the profile the access token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	return call[*User](ctx, c, "current_user", true, http.MethodGet, "/me", nil, nil)
}

// Playlists lists every playlist the current user owns or follows, walking
// the paged collection to the end.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	return collectPages[Playlist](ctx, c, "playlists", "/me/playlists")
}

// Playlist fetches a single playlist without its track listing.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	return call[*Playlist](ctx, c, "playlist", true, http.MethodGet, "/playlists/"+url.PathEscape(id), nil, nil)
}

// PlaylistTracks fetches the full track listing of a playlist in order.
func (c *Client) PlaylistTracks(ctx context.Context, id string) ([]PlaylistTrack, error) {
	return collectPages[PlaylistTrack](ctx, c, "playlist_tracks", "/playlists/"+url.PathEscape(id)+"/tracks")
}

// CreatePlaylist makes a new playlist owned by the given user.
func (c *Client) CreatePlaylist(ctx context.Context, userID string, req CreatePlaylistRequest) (*Playlist, error) {
	path := "/users/" + url.PathEscape(userID) + "/playlists"
	return call[*Playlist](ctx, c, "create_playlist", false, http.MethodPost, path, nil, req)
}

// UpdatePlaylistDetails changes a playlist's name, description, or
// visibility. Replaying the same update is harmless, so it retries freely.
func (c *Client) UpdatePlaylistDetails(ctx context.Context, id string, req UpdatePlaylistRequest) error {
	path := "/playlists/" + url.PathEscape(id)
	_, err := call[struct{}](ctx, c, "update_playlist", true, http.MethodPut, path, nil, req)
	return err
}

// AddTracks appends URIs to a playlist, splitting into API-sized chunks.
func (c *Client) AddTracks(ctx context.Context, id string, uris []string) error {
	path := "/playlists/" + url.PathEscape(id) + "/tracks"
	for _, chunk := range chunkURIs(uris) {
		body := map[string][]string{"uris": chunk}
		if _, err := call[snapshotResponse](ctx, c, "add_tracks", false, http.MethodPost, path, nil, body); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceTracks overwrites a playlist's contents with the given URIs. The
// first chunk replaces, the rest append; the replace is safe to retry because
// repeating it lands the same state.
func (c *Client) ReplaceTracks(ctx context.Context, id string, uris []string) error {
	path := "/playlists/" + url.PathEscape(id) + "/tracks"
	chunks := chunkURIs(uris)
	if len(chunks) == 0 {
		chunks = [][]string{{}}
	}
	for i, chunk := range chunks {
		body := map[string][]string{"uris": chunk}
		if i == 0 {
			if _, err := call[snapshotResponse](ctx, c, "replace_tracks", true, http.MethodPut, path, nil, body); err != nil {
				return err
			}
			continue
		}
		if _, err := call[snapshotResponse](ctx, c, "add_tracks", false, http.MethodPost, path, nil, body); err != nil {
			return err
		}
	}
	return nil
}

// ReorderTracks moves a contiguous range of tracks to a new position.
func (c *Client) ReorderTracks(ctx context.Context, id string, rangeStart, insertBefore, rangeLength int) error {
	if rangeLength <= 0 {
		rangeLength = 1
	}
	path := "/playlists/" + url.PathEscape(id) + "/tracks"
	body := map[string]int{
		"range_start":   rangeStart,
		"insert_before": insertBefore,
		"range_length":  rangeLength,
	}
	_, err := call[snapshotResponse](ctx, c, "reorder_tracks", false, http.MethodPut, path, nil, body)
	return err
}

// AudioFeatures fetches the derived acoustic attributes for the given track
// IDs, batching the lookups. Tracks the API has no analysis for are dropped.
func (c *Client) AudioFeatures(ctx context.Context, trackIDs []string) ([]AudioFeatures, error) {
	features := make([]AudioFeatures, 0, len(trackIDs))
	for _, chunk := range chunkURIs(trackIDs) {
		query := url.Values{"ids": []string{strings.Join(chunk, ",")}}
		resp, err := call[audioFeaturesResponse](ctx, c, "audio_features", true, http.MethodGet, "/audio-features", query, nil)
		if err != nil {
			return nil, err
		}
		for _, f := range resp.AudioFeatures {
			if f.ID != "" {
				features = append(features, f)
			}
		}
	}
	return features, nil
}

// call runs one API operation through the retry orchestrator and records the
// outcome.
func call[T any](ctx context.Context, c *Client, op string, idempotent bool, method, path string, query url.Values, payload any) (T, error) {
	start := time.Now()
	value, err := upstream.Do(ctx, c.caller, op, idempotent, func(ctx context.Context) (T, error) {
		var out T
		err := c.roundTrip(ctx, method, path, query, payload, &out)
		return out, err
	})
	outcome := "success"
	if err != nil {
		outcome = string(upstream.KindOf(err))
	}
	c.metrics.ObserveUpstream(op, outcome, time.Since(start))
	return value, err
}

// collectPages walks a paged collection until the API stops handing out a
// next link. Each page fetch retries independently.
func collectPages[T any](ctx context.Context, c *Client, op, path string) ([]T, error) {
	items := make([]T, 0, pageLimit)
	offset := 0
	for {
		query := url.Values{
			"limit":  []string{fmt.Sprintf("%d", pageLimit)},
			"offset": []string{fmt.Sprintf("%d", offset)},
		}
		pg, err := call[page[T]](ctx, c, op, true, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, pg.Items...)
		if pg.Next == "" || len(pg.Items) == 0 {
			return items, nil
		}
		offset += len(pg.Items)
	}
}

// roundTrip performs a single HTTP exchange. Non-2xx responses come back as
// *upstream.StatusError with headers preserved for classification.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("songapi: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("songapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("songapi: %s %s: %w", method, path, err)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	closeErr := resp.Body.Close()
	if err != nil {
		return fmt.Errorf("songapi: read response: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("songapi: close response: %w", closeErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &upstream.StatusError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("songapi: decode response: %w", err)
	}
	return nil
}

func chunkURIs(uris []string) [][]string {
	if len(uris) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(uris)+chunkSize-1)/chunkSize)
	for start := 0; start < len(uris); start += chunkSize {
		end := start + chunkSize
		if end > len(uris) {
			end = len(uris)
		}
		chunks = append(chunks, uris[start:end])
	}
	return chunks
}
