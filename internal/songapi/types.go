package songapi

import "time"

// User is the authenticated account the access token belongs to.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Owner identifies the account a playlist belongs to.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// TrackSummary carries the track count reported alongside a playlist.
type TrackSummary struct {
	Total int `json:"total"`
}

// Playlist is the service's view of a playlist, without its track listing.
type Playlist struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Public        bool         `json:"public"`
	Collaborative bool         `json:"collaborative"`
	SnapshotID    string       `json:"snapshot_id"`
	Owner         Owner        `json:"owner"`
	Tracks        TrackSummary `json:"tracks"`
}

// Artist names a contributing artist on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a single playable item.
type Track struct {
	URI        string   `json:"uri"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
}

// PlaylistTrack is a track entry inside a playlist, with its placement
// metadata.
type PlaylistTrack struct {
	AddedAt time.Time `json:"added_at"`
	Track   Track     `json:"track"`
}

// AudioFeatures holds the derived acoustic attributes for one track.
type AudioFeatures struct {
	ID           string  `json:"id"`
	Danceability float64 `json:"danceability"`
	Energy       float64 `json:"energy"`
	Valence      float64 `json:"valence"`
	Tempo        float64 `json:"tempo"`
}

// CreatePlaylistRequest describes a new playlist.
type CreatePlaylistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`
}

// UpdatePlaylistRequest carries detail changes for an existing playlist.
// Nil fields are omitted and left untouched.
type UpdatePlaylistRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Public      *bool   `json:"public,omitempty"`
}

// page is the envelope the API wraps every collection response in.
type page[T any] struct {
	Items  []T    `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Next   string `json:"next"`
}

// snapshotResponse acknowledges a playlist mutation.
type snapshotResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// audioFeaturesResponse wraps the batched feature lookup.
type audioFeaturesResponse struct {
	AudioFeatures []AudioFeatures `json:"audio_features"`
}
