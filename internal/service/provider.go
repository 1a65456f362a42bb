package service

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/spotify"
)

// TokenEndpoint is the accounts-service side of the provider.
type TokenEndpoint interface {
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*spotify.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*spotify.Token, error)
}

// SpotifyAPI is the Web API surface the music features use.
type SpotifyAPI interface {
	RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]spotify.PlayHistory, error)
	AudioFeatures(ctx context.Context, accessToken string, ids []string) ([]spotify.AudioFeatures, error)
	CurrentUser(ctx context.Context, accessToken string) (*spotify.User, error)
	CreatePlaylist(ctx context.Context, accessToken, userID string, req spotify.CreatePlaylistRequest) (*spotify.Playlist, error)
	AddTracks(ctx context.Context, accessToken, playlistID string, uris []string) error
}

var (
	_ TokenEndpoint = (*spotify.OAuthClient)(nil)
	_ SpotifyAPI    = (*spotify.Client)(nil)
)

// mapAPIError converts Web API failures into application errors.
func mapAPIError(err error) error {
	var apiErr *spotify.APIError
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.ProviderUnauthorized(model.ProviderSpotify)
		case http.StatusTooManyRequests:
			return apperrors.ProviderRateLimited(model.ProviderSpotify, apiErr.RetryAfter)
		default:
			return apperrors.ProviderError(model.ProviderSpotify, apiErr.StatusCode, apiErr.Body)
		}
	case errors.Is(err, spotify.ErrUnavailable):
		return apperrors.ProviderUnavailable(model.ProviderSpotify, err)
	case errors.Is(err, spotify.ErrMalformedResponse):
		return apperrors.Wrap(apperrors.ErrCodeProviderError, "Unexpected response from spotify", err)
	default:
		return err
	}
}
