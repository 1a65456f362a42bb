package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/repository"
	"github.com/pulsefit/coach-server-go/internal/spotify"
	"github.com/pulsefit/coach-server-go/internal/util"
)

const (
	sessionMixSize       = 5
	defaultMixType       = "Workout"
	feedbackLookback     = 200
	maxPlaylistNameRunes = 100
)

// AccessTokenSource yields a usable provider access token for a user.
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

type MusicService struct {
	tokens          AccessTokenSource
	api             SpotifyAPI
	interactionRepo repository.MusicInteractionRepository
	now             func() time.Time
}

func NewMusicService(tokens AccessTokenSource, api SpotifyAPI, interactionRepo repository.MusicInteractionRepository) *MusicService {
	return &MusicService{
		tokens:          tokens,
		api:             api,
		interactionRepo: interactionRepo,
		now:             time.Now,
	}
}

func (s *MusicService) GetRecentlyPlayed(ctx context.Context, userID string) ([]model.Track, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	items, err := s.api.RecentlyPlayed(ctx, token, spotify.MaxRecentlyPlayed)
	if err != nil {
		return nil, mapAPIError(err)
	}

	tracks := make([]model.Track, 0, len(items))
	for _, item := range items {
		if item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, toTrack(item))
	}
	return tracks, nil
}

func (s *MusicService) GetAudioFeatures(ctx context.Context, userID string, trackIDs []string) ([]model.AudioFeatures, error) {
	if len(trackIDs) == 0 {
		return []model.AudioFeatures{}, nil
	}

	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	features, err := s.api.AudioFeatures(ctx, token, trackIDs)
	if err != nil {
		return nil, mapAPIError(err)
	}

	result := make([]model.AudioFeatures, len(features))
	for i, f := range features {
		result[i] = model.AudioFeatures{
			ID:           f.ID,
			Tempo:        f.Tempo,
			Energy:       f.Energy,
			Danceability: f.Danceability,
			Valence:      f.Valence,
			DurationMs:   f.DurationMs,
		}
	}
	return result, nil
}

// CreatePlaylist creates a playlist owned by the connected account and fills it with TrackURIs.
func (s *MusicService) CreatePlaylist(ctx context.Context, userID string, params model.CreatePlaylistParams) (*model.Playlist, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	if len([]rune(params.Name)) > maxPlaylistNameRunes {
		return nil, apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxPlaylistNameRunes))
	}

	token, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile, err := s.api.CurrentUser(ctx, token)
	if err != nil {
		return nil, mapAPIError(err)
	}

	created, err := s.api.CreatePlaylist(ctx, token, profile.ID, spotify.CreatePlaylistRequest{
		Name:        params.Name,
		Description: params.Description,
		Public:      params.Public,
	})
	if err != nil {
		return nil, mapAPIError(err)
	}

	if len(params.TrackURIs) > 0 {
		if err := s.api.AddTracks(ctx, token, created.ID, params.TrackURIs); err != nil {
			return nil, mapAPIError(err)
		}
	}

	log.Info().
		Str("userId", util.MaskCode(userID)).
		Str("playlistId", created.ID).
		Int("tracks", len(params.TrackURIs)).
		Msg("playlist created")

	return &model.Playlist{
		ID:          created.ID,
		URI:         created.URI,
		Name:        created.Name,
		Description: created.Description,
		Public:      created.Public,
		URL:         created.ExternalURLs.Spotify,
		TrackCount:  len(params.TrackURIs),
	}, nil
}

// GenerateSessionMix builds a private playlist from recently played tracks,
// skipping tracks the user disliked or skipped. Phases follow track position.
func (s *MusicService) GenerateSessionMix(ctx context.Context, userID, mixType string, seedTags []string) (*model.SessionMix, error) {
	mixType = strings.TrimSpace(mixType)
	if mixType == "" {
		mixType = defaultMixType
	}

	recent, err := s.GetRecentlyPlayed(ctx, userID)
	if err != nil {
		return nil, err
	}

	excluded, err := s.negativeFeedback(ctx, userID)
	if err != nil {
		return nil, err
	}

	selected := selectMixTracks(recent, excluded, sessionMixSize)
	if len(selected) == 0 {
		return nil, apperrors.ValidationError("No recently played tracks available to build a mix")
	}

	ids := make([]string, len(selected))
	for i, t := range selected {
		ids[i] = t.ID
	}
	features, err := s.GetAudioFeatures(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	tempo := make(map[string]float64, len(features))
	for _, f := range features {
		tempo[f.ID] = f.Tempo
	}

	tracks := make([]model.MixTrack, len(selected))
	uris := make([]string, len(selected))
	var totalMs int
	for i, t := range selected {
		tracks[i] = model.MixTrack{
			Track: t,
			Phase: phaseFor(i, len(selected)),
			Tempo: tempo[t.ID],
		}
		uris[i] = t.URI
		totalMs += t.DurationMs
	}

	playlist, err := s.CreatePlaylist(ctx, userID, model.CreatePlaylistParams{
		Name:        fmt.Sprintf("%s Mix (%s)", mixType, s.now().Format("2006-01-02 15:04")),
		Description: fmt.Sprintf("Personalized %s mix for your workout.", mixType),
		Public:      false,
		TrackURIs:   uris,
	})
	if err != nil {
		return nil, err
	}

	return &model.SessionMix{
		PlaylistID:    playlist.ID,
		PlaylistURL:   playlist.URL,
		MixType:       mixType,
		SeedTags:      seedTags,
		Tracks:        tracks,
		TrackCount:    len(tracks),
		TotalDuration: formatDuration(totalMs),
	}, nil
}

func (s *MusicService) LogFeedback(ctx context.Context, userID string, feedback model.MusicFeedback) error {
	if strings.TrimSpace(feedback.TrackID) == "" {
		return apperrors.MissingRequired("trackId")
	}
	if !util.IsValidEnum(string(feedback.FeedbackType), model.FeedbackTypes()) {
		return apperrors.InvalidInput("feedbackType", "must be one of "+strings.Join(model.FeedbackTypes(), ", "))
	}

	occurredAt := feedback.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	var sessionID *string
	if feedback.SessionID != "" {
		sessionID = &feedback.SessionID
	}

	_, err := s.interactionRepo.Create(ctx, model.CreateMusicInteractionParams{
		UserID:       userID,
		SessionID:    sessionID,
		TrackID:      feedback.TrackID,
		FeedbackType: feedback.FeedbackType,
		OccurredAt:   occurredAt.UTC(),
		Context:      feedback.Context,
	})
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *MusicService) ListFeedback(ctx context.Context, userID string, limit, offset int) ([]model.MusicInteraction, error) {
	interactions, err := s.interactionRepo.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return interactions, nil
}

func (s *MusicService) negativeFeedback(ctx context.Context, userID string) (map[string]bool, error) {
	interactions, err := s.interactionRepo.FindByUserID(ctx, userID, feedbackLookback, 0)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	excluded := make(map[string]bool)
	for _, i := range interactions {
		if i.FeedbackType == model.FeedbackDislike || i.FeedbackType == model.FeedbackSkip {
			excluded[i.TrackID] = true
		}
	}
	return excluded, nil
}

func selectMixTracks(recent []model.Track, excluded map[string]bool, size int) []model.Track {
	seen := make(map[string]bool, size)
	selected := make([]model.Track, 0, size)
	for _, t := range recent {
		if len(selected) == size {
			break
		}
		if seen[t.ID] || excluded[t.ID] || t.URI == "" {
			continue
		}
		seen[t.ID] = true
		selected = append(selected, t)
	}
	return selected
}

func phaseFor(i, n int) model.MixPhase {
	switch {
	case i == 0:
		return model.PhaseWarmUp
	case i == n-1:
		return model.PhaseCoolDown
	default:
		return model.PhasePeak
	}
}

// formatDuration renders milliseconds as m:ss, or h:mm:ss past an hour.
func formatDuration(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func toTrack(item spotify.PlayHistory) model.Track {
	t := model.Track{
		ID:         item.Track.ID,
		URI:        item.Track.URI,
		Name:       item.Track.Name,
		Album:      item.Track.Album.Name,
		DurationMs: item.Track.DurationMs,
		PlayedAt:   item.PlayedAt,
	}
	if len(item.Track.Artists) > 0 {
		t.Artist = item.Track.Artists[0].Name
	} else {
		t.Artist = "Unknown Artist"
	}
	if len(item.Track.Album.Images) > 0 {
		t.AlbumArt = item.Track.Album.Images[0].URL
	}
	return t
}
