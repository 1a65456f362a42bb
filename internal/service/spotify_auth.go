package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/coach-server-go/internal/audit"
	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/repository"
	"github.com/pulsefit/coach-server-go/internal/spotify"
	"github.com/pulsefit/coach-server-go/internal/util"
)

// SpotifyAuthService runs the authorization-code flow with PKCE and owns the
// integration record's lifecycle outside of refreshes.
type SpotifyAuthService struct {
	oauth           TokenEndpoint
	cipher          *util.Cipher
	integrationRepo repository.IntegrationRepository
	stateRepo       repository.OAuthStateRepository
	stateTTL        time.Duration
	now             func() time.Time
}

func NewSpotifyAuthService(
	oauth TokenEndpoint,
	cipher *util.Cipher,
	integrationRepo repository.IntegrationRepository,
	stateRepo repository.OAuthStateRepository,
	stateTTL time.Duration,
) *SpotifyAuthService {
	return &SpotifyAuthService{
		oauth:           oauth,
		cipher:          cipher,
		integrationRepo: integrationRepo,
		stateRepo:       stateRepo,
		stateTTL:        stateTTL,
		now:             time.Now,
	}
}

// InitiateAuthorization starts a new attempt for userID and returns the consent URL.
// Each call issues a fresh verifier and state; earlier attempts stay valid until they expire.
func (s *SpotifyAuthService) InitiateAuthorization(ctx context.Context, userID string) (string, error) {
	pkce, err := util.GeneratePKCE()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to generate PKCE challenge", err)
	}

	state, err := util.GenerateToken()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to generate state", err)
	}

	verifierEnc, err := s.cipher.Encrypt(pkce.Verifier)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to protect code verifier", err)
	}

	_, err = s.stateRepo.Create(ctx, model.CreateOAuthStateParams{
		State:                 state,
		UserID:                userID,
		Provider:              model.ProviderSpotify,
		CodeVerifierEncrypted: verifierEnc,
		ExpiresAt:             s.now().Add(s.stateTTL),
	})
	if err != nil {
		return "", apperrors.Database(err)
	}

	log.Debug().
		Str("userId", util.MaskCode(userID)).
		Str("state", util.MaskCode(state)).
		Msg("spotify authorization initiated")

	return s.oauth.AuthCodeURL(state, pkce.Challenge), nil
}

// CompleteAuthorization handles the provider redirect. When userID is empty the
// user bound to the state is used; otherwise both must agree.
// It returns the user the integration was stored for.
func (s *SpotifyAuthService) CompleteAuthorization(ctx context.Context, userID string, params model.CallbackParams) (string, error) {
	if params.Error != "" {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventOAuthDenied,
			UserID:   userID,
			Provider: model.ProviderSpotify,
			Details:  map[string]interface{}{"reason": params.Error},
		})
		return "", apperrors.OAuthDenied(params.Error, params.ErrorDescription)
	}

	if params.Code == "" {
		return "", apperrors.MalformedCallback("Callback is missing the authorization code")
	}

	flow, err := s.consumeState(ctx, userID, params.State)
	if err != nil {
		return "", err
	}

	verifier, err := s.cipher.Decrypt(flow.CodeVerifierEncrypted)
	if err != nil {
		log.Error().Err(err).Str("userId", util.MaskCode(flow.UserID)).Msg("failed to decrypt code verifier")
		return "", apperrors.InvalidState()
	}

	tok, err := s.oauth.Exchange(ctx, params.Code, verifier)
	if err != nil {
		return "", mapExchangeError(err)
	}
	if tok.RefreshToken == "" {
		return "", apperrors.TokenExchangeFailed("Token response is missing refresh_token")
	}

	accessEnc, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to encrypt access token", err)
	}
	refreshEnc, err := s.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to encrypt refresh token", err)
	}

	_, err = s.integrationRepo.Upsert(ctx, model.UpsertIntegrationParams{
		UserID:                flow.UserID,
		Provider:              model.ProviderSpotify,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		ExpiresAt:             expiresAt(s.now(), tok.ExpiresIn),
		Scopes:                tok.Scopes(),
	})
	if err != nil {
		return "", apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventIntegrationConnected,
		UserID:   flow.UserID,
		Provider: model.ProviderSpotify,
		Details:  map[string]interface{}{"scopes": tok.Scope},
	})

	return flow.UserID, nil
}

func (s *SpotifyAuthService) consumeState(ctx context.Context, userID, state string) (*model.OAuthState, error) {
	if state == "" {
		return nil, s.rejectState(ctx, userID, "missing")
	}

	flow, err := s.stateRepo.Consume(ctx, state)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if flow == nil {
		return nil, s.rejectState(ctx, userID, "unknown_or_expired")
	}
	if flow.Provider != model.ProviderSpotify {
		return nil, s.rejectState(ctx, userID, "provider_mismatch")
	}
	if userID != "" && !util.ConstantTimeEqual(flow.UserID, userID) {
		return nil, s.rejectState(ctx, userID, "user_mismatch")
	}
	return flow, nil
}

func (s *SpotifyAuthService) rejectState(ctx context.Context, userID, reason string) error {
	audit.Log(ctx, audit.Event{
		Type:     audit.EventInvalidState,
		UserID:   userID,
		Provider: model.ProviderSpotify,
		Details:  map[string]interface{}{"reason": reason},
	})
	return apperrors.InvalidState()
}

// Disconnect removes the user's integration. Disconnecting twice is not an error.
func (s *SpotifyAuthService) Disconnect(ctx context.Context, userID string) error {
	deleted, err := s.integrationRepo.Delete(ctx, userID, model.ProviderSpotify)
	if err != nil {
		return apperrors.Database(err)
	}
	if deleted {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventIntegrationDisconnected,
			UserID:   userID,
			Provider: model.ProviderSpotify,
		})
	}
	return nil
}

func (s *SpotifyAuthService) Status(ctx context.Context, userID string) (*model.IntegrationStatus, error) {
	integration, err := s.integrationRepo.Find(ctx, userID, model.ProviderSpotify)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	status := &model.IntegrationStatus{Provider: model.ProviderSpotify}
	if integration == nil {
		return status, nil
	}

	expires := integration.ExpiresAt
	status.Connected = true
	status.Scopes = integration.Scopes
	status.ExpiresAt = &expires
	return status, nil
}

func mapExchangeError(err error) error {
	var tokenErr *spotify.TokenError
	switch {
	case errors.As(err, &tokenErr):
		return apperrors.TokenExchangeFailed(fmt.Sprintf("Token endpoint returned status %d", tokenErr.StatusCode)).
			WithDetails(map[string]any{"status": tokenErr.StatusCode, "error": tokenErr.Code}).
			WithCause(err)
	case errors.Is(err, spotify.ErrUnavailable):
		return apperrors.ProviderUnavailable(model.ProviderSpotify, err)
	default:
		return apperrors.TokenExchangeFailed("Token endpoint returned a malformed response").WithCause(err)
	}
}

// expiresAt is derived only from the provider's expires_in, stored at second precision.
func expiresAt(now time.Time, expiresIn int64) time.Time {
	return now.Add(time.Duration(expiresIn) * time.Second).UTC().Truncate(time.Second)
}
