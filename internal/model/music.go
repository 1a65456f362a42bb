package model

import (
	"encoding/json"
	"time"
)

type Track struct {
	ID         string    `json:"id"`
	URI        string    `json:"uri"`
	Name       string    `json:"name"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album"`
	AlbumArt   string    `json:"albumArt,omitempty"`
	DurationMs int       `json:"durationMs"`
	PlayedAt   time.Time `json:"playedAt"`
}

type AudioFeatures struct {
	ID           string  `json:"id"`
	Tempo        float64 `json:"tempo"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
	DurationMs   int     `json:"durationMs"`
}

type CreatePlaylistParams struct {
	Name        string
	Description string
	Public      bool
	TrackURIs   []string
}

type Playlist struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	URL         string `json:"url,omitempty"`
	TrackCount  int    `json:"trackCount"`
}

type MixTrack struct {
	Track
	Phase MixPhase `json:"phase"`
	Tempo float64  `json:"tempo,omitempty"`
}

type SessionMix struct {
	PlaylistID    string     `json:"playlistId"`
	PlaylistURL   string     `json:"playlistUrl,omitempty"`
	MixType       string     `json:"mixType"`
	SeedTags      []string   `json:"seedTags,omitempty"`
	Tracks        []MixTrack `json:"tracks"`
	TrackCount    int        `json:"trackCount"`
	TotalDuration string     `json:"totalDuration"`
}

type MusicFeedback struct {
	SessionID    string          `json:"sessionId"`
	TrackID      string          `json:"trackId"`
	FeedbackType FeedbackType    `json:"feedbackType"`
	OccurredAt   time.Time       `json:"timestamp"`
	Context      json.RawMessage `json:"context,omitempty"`
}

type MusicInteraction struct {
	ID           string          `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"userId"`
	SessionID    *string         `db:"session_id" json:"sessionId,omitempty"`
	TrackID      string          `db:"track_id" json:"trackId"`
	FeedbackType FeedbackType    `db:"feedback_type" json:"feedbackType"`
	OccurredAt   time.Time       `db:"occurred_at" json:"occurredAt"`
	Context      json.RawMessage `db:"context" json:"context,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}

type CreateMusicInteractionParams struct {
	UserID       string
	SessionID    *string
	TrackID      string
	FeedbackType FeedbackType
	OccurredAt   time.Time
	Context      json.RawMessage
}
