package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/httputil"
	"github.com/pulsefit/coach-server-go/internal/middleware"
	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/service"
	"github.com/pulsefit/coach-server-go/internal/util"
)

const (
	feedbackPageSize    = 50
	feedbackPageSizeMax = 100
)

type SpotifyAuthenticator interface {
	InitiateAuthorization(ctx context.Context, userID string) (string, error)
	CompleteAuthorization(ctx context.Context, userID string, params model.CallbackParams) (string, error)
	Disconnect(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*model.IntegrationStatus, error)
}

type MusicProvider interface {
	GetRecentlyPlayed(ctx context.Context, userID string) ([]model.Track, error)
	GetAudioFeatures(ctx context.Context, userID string, trackIDs []string) ([]model.AudioFeatures, error)
	CreatePlaylist(ctx context.Context, userID string, params model.CreatePlaylistParams) (*model.Playlist, error)
	GenerateSessionMix(ctx context.Context, userID, mixType string, seedTags []string) (*model.SessionMix, error)
	LogFeedback(ctx context.Context, userID string, feedback model.MusicFeedback) error
	ListFeedback(ctx context.Context, userID string, limit, offset int) ([]model.MusicInteraction, error)
}

var (
	_ SpotifyAuthenticator = (*service.SpotifyAuthService)(nil)
	_ MusicProvider        = (*service.MusicService)(nil)
)

type MusicHandler struct {
	auth                SpotifyAuthenticator
	music               MusicProvider
	requireAuth         func(http.Handler) http.Handler
	optionalAuth        func(http.Handler) http.Handler
	rateLimit           func(http.Handler) http.Handler
	frontendRedirectURL string
}

func NewMusicHandler(
	auth SpotifyAuthenticator,
	music MusicProvider,
	requireAuth func(http.Handler) http.Handler,
	optionalAuth func(http.Handler) http.Handler,
	rateLimit func(http.Handler) http.Handler,
	frontendRedirectURL string,
) *MusicHandler {
	return &MusicHandler{
		auth:                auth,
		music:               music,
		requireAuth:         requireAuth,
		optionalAuth:        optionalAuth,
		rateLimit:           rateLimit,
		frontendRedirectURL: frontendRedirectURL,
	}
}

func (h *MusicHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// The provider redirects the browser here, so a bearer token is optional;
	// the state parameter identifies the user.
	r.With(h.optionalAuth).Get("/callback/spotify", h.Callback)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.rateLimit)

		r.Get("/connect/spotify", h.Connect)
		r.Get("/spotify/status", h.Status)
		r.Delete("/spotify", h.Disconnect)
		r.Get("/recently-played", h.RecentlyPlayed)
		r.Post("/audio-features", h.AudioFeatures)
		r.Post("/playlists", h.CreatePlaylist)
		r.Post("/session-mix", h.SessionMix)
		r.Post("/feedback", h.Feedback)
		r.Get("/feedback", h.FeedbackHistory)
	})

	return r
}

func (h *MusicHandler) Connect(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.auth.InitiateAuthorization(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err, "failed to initiate spotify authorization")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

func (h *MusicHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := model.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	userID, err := h.auth.CompleteAuthorization(r.Context(), middleware.GetUserID(r.Context()), params)
	if err != nil {
		if h.frontendRedirectURL != "" {
			log.Warn().Str("code", string(apperrors.GetCode(err))).Msg("spotify callback failed")
			http.Redirect(w, r, h.frontendURL("error", string(apperrors.GetCode(err))), http.StatusFound)
			return
		}
		writeError(w, r, err, "spotify callback failed")
		return
	}

	log.Info().Str("userId", util.MaskCode(userID)).Msg("spotify connected")

	if h.frontendRedirectURL != "" {
		http.Redirect(w, r, h.frontendURL("connected", ""), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"provider":  model.ProviderSpotify,
	})
}

func (h *MusicHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.auth.Status(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err, "failed to load spotify status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *MusicHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Disconnect(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeError(w, r, err, "failed to disconnect spotify")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *MusicHandler) RecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.music.GetRecentlyPlayed(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err, "failed to fetch recently played")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (h *MusicHandler) AudioFeatures(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackIDs []string `json:"trackIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	features, err := h.music.GetAudioFeatures(r.Context(), middleware.GetUserID(r.Context()), req.TrackIDs)
	if err != nil {
		writeError(w, r, err, "failed to fetch audio features")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audioFeatures": features})
}

func (h *MusicHandler) CreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Public      bool     `json:"public"`
		TrackURIs   []string `json:"trackUris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	playlist, err := h.music.CreatePlaylist(r.Context(), middleware.GetUserID(r.Context()), model.CreatePlaylistParams{
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
		TrackURIs:   req.TrackURIs,
	})
	if err != nil {
		writeError(w, r, err, "failed to create playlist")
		return
	}
	writeJSON(w, http.StatusCreated, playlist)
}

func (h *MusicHandler) SessionMix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MixType  string   `json:"mixType"`
		SeedTags []string `json:"seedTags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	mix, err := h.music.GenerateSessionMix(r.Context(), middleware.GetUserID(r.Context()), req.MixType, req.SeedTags)
	if err != nil {
		writeError(w, r, err, "failed to generate session mix")
		return
	}
	writeJSON(w, http.StatusCreated, mix)
}

func (h *MusicHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req model.MusicFeedback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if err := h.music.LogFeedback(r.Context(), middleware.GetUserID(r.Context()), req); err != nil {
		writeError(w, r, err, "failed to log music feedback")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (h *MusicHandler) FeedbackHistory(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r, feedbackPageSize, feedbackPageSizeMax)

	interactions, err := h.music.ListFeedback(r.Context(), middleware.GetUserID(r.Context()), page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err, "failed to list music feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interactions": interactions,
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}

func (h *MusicHandler) frontendURL(status, code string) string {
	u, err := url.Parse(h.frontendRedirectURL)
	if err != nil {
		return h.frontendRedirectURL
	}
	q := u.Query()
	q.Set("status", status)
	if code != "" {
		q.Set("code", code)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
