package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/pulsefit/coach-server-go/internal/audit"
	"github.com/pulsefit/coach-server-go/internal/config"
	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/lock"
	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/repository"
	"github.com/pulsefit/coach-server-go/internal/spotify"
	"github.com/pulsefit/coach-server-go/internal/util"
)

// TokenManager hands out usable access tokens, refreshing lazily when a token is
// within the safety margin of expiry. At most one refresh per user runs at a time.
type TokenManager struct {
	integrationRepo repository.IntegrationRepository
	oauth           TokenEndpoint
	cipher          *util.Cipher
	locker          lock.Locker
	group           singleflight.Group
	margin          time.Duration
	refreshTimeout  time.Duration
	now             func() time.Time
}

func NewTokenManager(
	integrationRepo repository.IntegrationRepository,
	oauth TokenEndpoint,
	cipher *util.Cipher,
	locker lock.Locker,
) *TokenManager {
	return &TokenManager{
		integrationRepo: integrationRepo,
		oauth:           oauth,
		cipher:          cipher,
		locker:          locker,
		margin:          config.TokenRefreshMargin,
		refreshTimeout:  config.RefreshLockTTL,
		now:             time.Now,
	}
}

func (m *TokenManager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	integration, err := m.integrationRepo.Find(ctx, userID, model.ProviderSpotify)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if integration == nil {
		return "", apperrors.NotConnected(model.ProviderSpotify)
	}

	if m.isFresh(integration) {
		return m.decryptAccessToken(integration)
	}

	key := refreshKey(userID)
	v, err, _ := m.group.Do(key, func() (any, error) {
		// Shared by every waiter, so it must outlive the caller that started it.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) refresh(ctx context.Context, userID string) (string, error) {
	unlock, err := m.locker.Lock(ctx, refreshKey(userID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return "", apperrors.ProviderUnavailable(model.ProviderSpotify, err)
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to acquire refresh lock", err)
	}
	defer unlock()

	// Another instance may have refreshed while we waited for the lock.
	integration, err := m.integrationRepo.Find(ctx, userID, model.ProviderSpotify)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if integration == nil {
		return "", apperrors.NotConnected(model.ProviderSpotify)
	}
	if m.isFresh(integration) {
		return m.decryptAccessToken(integration)
	}

	refreshToken, err := m.cipher.Decrypt(integration.RefreshTokenEncrypted)
	if err != nil {
		log.Error().Err(err).Str("userId", util.MaskCode(userID)).Msg("stored refresh token could not be decrypted")
		return "", apperrors.TokenExchangeFailed("Stored credentials could not be read")
	}
	if refreshToken == "" {
		return "", m.revoke(ctx, userID, "missing_refresh_token")
	}

	tok, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return "", m.handleRefreshError(ctx, userID, err)
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	accessEnc, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to encrypt access token", err)
	}
	refreshEnc, err := m.cipher.Encrypt(newRefresh)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to encrypt refresh token", err)
	}

	updated, err := m.integrationRepo.UpdateTokens(ctx, model.UpdateTokensParams{
		UserID:                userID,
		Provider:              model.ProviderSpotify,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		ExpiresAt:             expiresAt(m.now(), tok.ExpiresIn),
	}, integration.ExpiresAt)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if !updated {
		// The record changed underneath us: disconnected, reconnected or refreshed
		// by a holder whose lock expired.
		current, err := m.integrationRepo.Find(ctx, userID, model.ProviderSpotify)
		if err != nil {
			return "", apperrors.Database(err)
		}
		if current == nil {
			return "", apperrors.NotConnected(model.ProviderSpotify)
		}
		if m.isFresh(current) {
			log.Warn().Str("userId", util.MaskCode(userID)).Msg("integration changed during refresh, keeping stored tokens")
			return m.decryptAccessToken(current)
		}
		log.Warn().Str("userId", util.MaskCode(userID)).Msg("integration changed during refresh, stored tokens are stale")
		return tok.AccessToken, nil
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventTokenRefreshed,
		UserID:   userID,
		Provider: model.ProviderSpotify,
		Details:  map[string]interface{}{"rotated": tok.RefreshToken != "" && tok.RefreshToken != refreshToken},
	})

	return tok.AccessToken, nil
}

func (m *TokenManager) handleRefreshError(ctx context.Context, userID string, err error) error {
	var tokenErr *spotify.TokenError
	switch {
	case errors.As(err, &tokenErr) && !tokenErr.Transient():
		log.Warn().
			Str("userId", util.MaskCode(userID)).
			Int("status", tokenErr.StatusCode).
			Str("error", tokenErr.Code).
			Msg("refresh grant rejected")
		return m.revoke(ctx, userID, tokenErr.Code)
	case errors.As(err, &tokenErr):
		return apperrors.ProviderUnavailable(model.ProviderSpotify, err)
	case errors.Is(err, spotify.ErrUnavailable):
		return apperrors.ProviderUnavailable(model.ProviderSpotify, err)
	default:
		return apperrors.TokenExchangeFailed("Token endpoint returned a malformed response").WithCause(err)
	}
}

// revoke deletes a record whose refresh grant can no longer be used.
func (m *TokenManager) revoke(ctx context.Context, userID, reason string) error {
	if _, err := m.integrationRepo.Delete(ctx, userID, model.ProviderSpotify); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventIntegrationRevoked,
		UserID:   userID,
		Provider: model.ProviderSpotify,
		Details:  map[string]interface{}{"reason": reason},
	})

	return apperrors.ReauthorizationRequired(model.ProviderSpotify)
}

func (m *TokenManager) isFresh(integration *model.Integration) bool {
	return integration.ExpiresAt.Sub(m.now()) > m.margin
}

func (m *TokenManager) decryptAccessToken(integration *model.Integration) (string, error) {
	token, err := m.cipher.Decrypt(integration.AccessTokenEncrypted)
	if err != nil || token == "" {
		log.Error().Err(err).Str("userId", util.MaskCode(integration.UserID)).Msg("stored access token could not be decrypted")
		return "", apperrors.TokenExchangeFailed("Stored credentials could not be read")
	}
	return token, nil
}

func refreshKey(userID string) string {
	return "refresh:" + model.ProviderSpotify + ":" + userID
}
