package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmw2/shufflr/internal/config"
	"github.com/dmw2/shufflr/internal/playlist"
	"github.com/dmw2/shufflr/internal/schedule"
	"github.com/dmw2/shufflr/internal/songapi"
	"github.com/dmw2/shufflr/internal/store"
	"github.com/dmw2/shufflr/internal/upstream"
)

// apiKeyHeader carries the static admission key for management requests.
const apiKeyHeader = "X-Api-Key"

// maxBodyBytes caps request bodies the API will parse.
const maxBodyBytes = 1 << 20

// PlaylistAPI is the slice of the playlist service the handlers consume.
type PlaylistAPI interface {
	Profile(ctx context.Context) (*songapi.User, error)
	Playlists(ctx context.Context) ([]songapi.Playlist, error)
	Get(ctx context.Context, id string) (*songapi.Playlist, error)
	Tracks(ctx context.Context, id string) ([]songapi.PlaylistTrack, error)
	Features(ctx context.Context, id string) ([]songapi.AudioFeatures, error)
	Create(ctx context.Context, req songapi.CreatePlaylistRequest) (*songapi.Playlist, error)
	UpdateDetails(ctx context.Context, id string, req songapi.UpdatePlaylistRequest) error
	Shuffle(ctx context.Context, id, reason string) (*playlist.ShuffleResult, error)
	Undo(ctx context.Context, playlistID, snapshotID string) (*playlist.UndoResult, error)
	Snapshots(ctx context.Context, playlistID string, limit int) ([]store.Snapshot, error)
}

// Scheduler is the slice of the schedule runner the handlers consume.
type Scheduler interface {
	Schedules() map[string]config.ScheduleConfig
	RunNow(ctx context.Context, name string) (store.ScheduleRun, error)
}

// RunHistory reads recorded schedule runs.
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]store.ScheduleRun, error)
	RecentBySchedule(ctx context.Context, schedule string, limit int) ([]store.ScheduleRun, error)
}

// API is the management surface: playlist reads and mutations, shuffle and
// undo, snapshot history, and schedule control.
type API struct {
	playlists PlaylistAPI
	scheduler Scheduler
	runs      RunHistory
	apiKey    string
	logger    *slog.Logger
}

// NewAPI wires the handlers. An empty key disables admission for local use.
func NewAPI(playlists PlaylistAPI, scheduler Scheduler, runs RunHistory, apiCfg config.APIConfig, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		playlists: playlists,
		scheduler: scheduler,
		runs:      runs,
		apiKey:    apiCfg.Key,
		logger:    logger.With(slog.String("component", "api")),
	}
}

// Handler builds the route table. The metrics handler may be nil.
func (a *API) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	mux.HandleFunc("GET /api/me", a.guard(a.handleProfile))
	mux.HandleFunc("GET /api/playlists", a.guard(a.handleListPlaylists))
	mux.HandleFunc("POST /api/playlists", a.guard(a.handleCreatePlaylist))
	mux.HandleFunc("GET /api/playlists/{id}", a.guard(a.handleGetPlaylist))
	mux.HandleFunc("PATCH /api/playlists/{id}", a.guard(a.handleUpdatePlaylist))
	mux.HandleFunc("GET /api/playlists/{id}/tracks", a.guard(a.handleTracks))
	mux.HandleFunc("GET /api/playlists/{id}/features", a.guard(a.handleFeatures))
	mux.HandleFunc("POST /api/playlists/{id}/shuffle", a.guard(a.handleShuffle))
	mux.HandleFunc("POST /api/playlists/{id}/undo", a.guard(a.handleUndo))
	mux.HandleFunc("GET /api/playlists/{id}/snapshots", a.guard(a.handleSnapshots))
	mux.HandleFunc("GET /api/schedules", a.guard(a.handleListSchedules))
	mux.HandleFunc("GET /api/schedules/{name}/runs", a.guard(a.handleScheduleRuns))
	mux.HandleFunc("POST /api/schedules/{name}/run", a.guard(a.handleRunSchedule))

	return mux
}

// guard enforces the static API key when one is configured.
func (a *API) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" && r.Header.Get(apiKeyHeader) != a.apiKey {
			a.writeError(w, r, http.StatusUnauthorized, "invalid or missing api key", "")
			return
		}
		next(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := a.playlists.Profile(r.Context())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.playlists.Playlists(r.Context())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"playlists": lists})
}

func (a *API) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req songapi.CreatePlaylistRequest
	if !a.readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		a.writeError(w, r, http.StatusBadRequest, "playlist name required", "")
		return
	}
	pl, err := a.playlists.Create(r.Context(), req)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, pl)
}

func (a *API) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := a.playlists.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pl)
}

func (a *API) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req songapi.UpdatePlaylistRequest
	if !a.readJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.Description == nil && req.Public == nil {
		a.writeError(w, r, http.StatusBadRequest, "no fields to update", "")
		return
	}
	if err := a.playlists.UpdateDetails(r.Context(), r.PathValue("id"), req); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := a.playlists.Tracks(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (a *API) handleFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := a.playlists.Features(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	result, err := a.playlists.Shuffle(r.Context(), r.PathValue("id"), "manual")
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUndo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID string `json:"snapshotId"`
	}
	// The body is optional; an empty one means "latest snapshot". ContentLength
	// is -1 on chunked requests, so the body has to be read to tell.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, "unreadable request body", "")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
			return
		}
	}
	result, err := a.playlists.Undo(r.Context(), r.PathValue("id"), req.SnapshotID)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)
	snaps, err := a.playlists.Snapshots(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	views := make([]snapshotView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, snapshotView{
			ID:         snap.ID,
			PlaylistID: snap.PlaylistID,
			Reason:     snap.Reason,
			Tracks:     len(snap.TrackURIs),
			CreatedAt:  snap.CreatedAt,
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"snapshots": views})
}

func (a *API) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := a.scheduler.Schedules()
	views := make(map[string]scheduleView, len(schedules))
	for name, cfg := range schedules {
		views[name] = scheduleView{
			Description: cfg.Description,
			Playlist:    cfg.Playlist,
			Every:       cfg.Every,
			Guard:       cfg.Guard,
			Rename:      cfg.Rename,
			Enabled:     cfg.IsEnabled(),
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"schedules": views})
}

func (a *API) handleScheduleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	runs, err := a.runs.RecentBySchedule(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"runs": runViews(runs)})
}

func (a *API) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	run, err := a.scheduler.RunNow(r.Context(), r.PathValue("name"))
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, runView{
		Schedule:   run.Schedule,
		PlaylistID: run.PlaylistID,
		Outcome:    run.Outcome,
		Message:    run.Message,
		StartedAt:  run.StartedAt,
		DurationMS: run.Duration.Milliseconds(),
	})
}

type snapshotView struct {
	ID         string    `json:"id"`
	PlaylistID string    `json:"playlistId"`
	Reason     string    `json:"reason"`
	Tracks     int       `json:"tracks"`
	CreatedAt  time.Time `json:"createdAt"`
}

type scheduleView struct {
	Description string `json:"description,omitempty"`
	Playlist    string `json:"playlist"`
	Every       string `json:"every"`
	Guard       string `json:"guard,omitempty"`
	Rename      string `json:"rename,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type runView struct {
	Schedule   string    `json:"schedule"`
	PlaylistID string    `json:"playlistId"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
}

func runViews(runs []store.ScheduleRun) []runView {
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{
			Schedule:   run.Schedule,
			PlaylistID: run.PlaylistID,
			Outcome:    run.Outcome,
			Message:    run.Message,
			StartedAt:  run.StartedAt,
			DurationMS: run.Duration.Milliseconds(),
		})
	}
	return views
}

// writeFailure maps domain and upstream failures onto HTTP statuses.
func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, playlist.ErrNoSnapshot):
		a.writeError(w, r, http.StatusConflict, err.Error(), "")
		return
	case errors.Is(err, playlist.ErrSnapshotMismatch):
		a.writeError(w, r, http.StatusConflict, err.Error(), "")
		return
	case errors.Is(err, schedule.ErrUnknownSchedule):
		a.writeError(w, r, http.StatusNotFound, err.Error(), "")
		return
	}

	failure, ok := upstream.FailureOf(err)
	if !ok {
		a.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		a.writeError(w, r, http.StatusInternalServerError, "internal error", "")
		return
	}

	switch failure.Kind {
	case upstream.KindNotFound:
		a.writeError(w, r, http.StatusNotFound, failure.Message, string(failure.Kind))
	case upstream.KindTokenExpired:
		a.writeError(w, r, http.StatusUnauthorized, "upstream access token expired; refresh credentials and retry", string(failure.Kind))
	case upstream.KindRateLimited:
		if failure.RetryAfter != nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(failure.RetryAfter.Seconds())))
		}
		a.writeError(w, r, http.StatusServiceUnavailable, failure.Message, string(failure.Kind))
	case upstream.KindServerError, upstream.KindNetworkError:
		a.writeError(w, r, http.StatusServiceUnavailable, failure.Message, string(failure.Kind))
	case upstream.KindClientError:
		a.writeError(w, r, http.StatusBadRequest, failure.Message, string(failure.Kind))
	default:
		a.logger.Error("unexpected upstream failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		a.writeError(w, r, http.StatusInternalServerError, failure.Message, string(failure.Kind))
	}
}

func (a *API) readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, "unreadable request body", "")
		return false
	}
	if len(body) == 0 {
		a.writeError(w, r, http.StatusBadRequest, "request body required", "")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Warn("response encode failed", slog.Any("error", err))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, message, kind string) {
	body := map[string]string{"error": message}
	if kind != "" {
		body["kind"] = kind
	}
	a.logger.Debug("request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status))
	a.writeJSON(w, status, body)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
