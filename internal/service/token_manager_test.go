package service

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/lock"
	"github.com/pulsefit/coach-server-go/internal/model"
)

type tokenFixture struct {
	mgr          *TokenManager
	integrations *memIntegrationRepo
	tokens       *tokenServer
	now          time.Time
}

func newTokenFixture(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		integrations: newMemIntegrationRepo(),
		tokens:       newTokenServer(t, handler),
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = NewTokenManager(f.integrations, f.tokens.oauthClient(), newTestCipher(t), lock.NewKeyedMutex())
	f.mgr.now = func() time.Time { return f.now }
	return f
}

func (f *tokenFixture) seed(t *testing.T, access, refresh string, expiresIn time.Duration) {
	t.Helper()
	f.integrations.put(model.Integration{
		ID:                    "int-1",
		UserID:                testUserID,
		Provider:              model.ProviderSpotify,
		AccessTokenEncrypted:  mustEncrypt(t, f.mgr.cipher, access),
		RefreshTokenEncrypted: mustEncrypt(t, f.mgr.cipher, refresh),
		ExpiresAt:             f.now.Add(expiresIn),
	})
}

func refreshOK(w http.ResponseWriter, form url.Values) {
	writeJSON(w, http.StatusOK, `{"access_token":"AT2","expires_in":3600,"token_type":"Bearer"}`)
}

func TestGetValidAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
		assert.Equal(t, 0, f.tokens.Calls())
	})

	t.Run("fresh token returned without network", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.seed(t, "AT1", "RT1", 10*time.Minute)

		token, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		require.NoError(t, err)
		assert.Equal(t, "AT1", token)
		assert.Equal(t, 0, f.tokens.Calls())
	})

	t.Run("token inside margin is refreshed once", func(t *testing.T) {
		f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
			assert.Equal(t, "refresh_token", form.Get("grant_type"))
			assert.Equal(t, "RT1", form.Get("refresh_token"))
			assert.Equal(t, "client-secret", form.Get("client_secret"))
			refreshOK(w, form)
		})
		f.seed(t, "AT1", "RT1", time.Minute)

		token, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		require.NoError(t, err)
		assert.Equal(t, "AT2", token)
		assert.Equal(t, 1, f.tokens.Calls())

		rec, ok := f.integrations.get(testUserID)
		require.True(t, ok)
		assert.Equal(t, "AT2", mustDecrypt(t, f.mgr.cipher, rec.AccessTokenEncrypted))
		assert.Equal(t, "RT1", mustDecrypt(t, f.mgr.cipher, rec.RefreshTokenEncrypted))
		assert.Equal(t, f.now.Add(time.Hour), rec.ExpiresAt)

		token, err = f.mgr.GetValidAccessToken(ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, "AT2", token)
		assert.Equal(t, 1, f.tokens.Calls())
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.seed(t, "AT1", "RT1", -time.Hour)

		token, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		require.NoError(t, err)
		assert.Equal(t, "AT2", token)
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
			writeJSON(w, http.StatusOK, `{"access_token":"AT2","refresh_token":"RT2","expires_in":1800}`)
		})
		f.seed(t, "AT1", "RT1", time.Minute)

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)
		require.NoError(t, err)

		rec, _ := f.integrations.get(testUserID)
		assert.Equal(t, "RT2", mustDecrypt(t, f.mgr.cipher, rec.RefreshTokenEncrypted))
		assert.Equal(t, f.now.Add(30*time.Minute), rec.ExpiresAt)
	})

	t.Run("revoked grant deletes the record", func(t *testing.T) {
		f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
			writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Refresh token revoked"}`)
		})
		f.seed(t, "AT1", "RT1", time.Minute)

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)
		assert.Equal(t, apperrors.ErrCodeReauthorizationRequired, apperrors.GetCode(err))

		_, ok := f.integrations.get(testUserID)
		assert.False(t, ok)

		_, err = f.mgr.GetValidAccessToken(ctx, testUserID)
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
		assert.Equal(t, 1, f.tokens.Calls())
	})

	t.Run("bad client credentials delete the record", func(t *testing.T) {
		f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
			writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
		})
		f.seed(t, "AT1", "RT1", time.Minute)

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeReauthorizationRequired, apperrors.GetCode(err))
		_, ok := f.integrations.get(testUserID)
		assert.False(t, ok)
	})

	for _, status := range []int{http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		t.Run("transient status keeps the record "+http.StatusText(status), func(t *testing.T) {
			f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
				writeJSON(w, status, `{"error":"server_error"}`)
			})
			f.seed(t, "AT1", "RT1", time.Minute)
			before, _ := f.integrations.get(testUserID)

			_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

			assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
			after, ok := f.integrations.get(testUserID)
			require.True(t, ok)
			assert.Equal(t, before, after)
		})
	}

	t.Run("unreachable endpoint keeps the record", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.seed(t, "AT1", "RT1", time.Minute)
		f.tokens.Close()

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
		_, ok := f.integrations.get(testUserID)
		assert.True(t, ok)
	})

	t.Run("malformed refresh response keeps the record", func(t *testing.T) {
		f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
			writeJSON(w, http.StatusOK, `{"access_token":"AT2"}`)
		})
		f.seed(t, "AT1", "RT1", time.Minute)

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeTokenExchangeFailed, apperrors.GetCode(err))
		_, ok := f.integrations.get(testUserID)
		assert.True(t, ok)
	})

	t.Run("undecryptable refresh token fails closed", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.integrations.put(model.Integration{
			UserID:                testUserID,
			Provider:              model.ProviderSpotify,
			AccessTokenEncrypted:  "garbage",
			RefreshTokenEncrypted: "garbage",
			ExpiresAt:             f.now.Add(time.Minute),
		})

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeTokenExchangeFailed, apperrors.GetCode(err))
		assert.Equal(t, 0, f.tokens.Calls())
	})

	t.Run("undecryptable access token fails closed", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.integrations.put(model.Integration{
			UserID:               testUserID,
			Provider:             model.ProviderSpotify,
			AccessTokenEncrypted: "garbage",
			ExpiresAt:            f.now.Add(time.Hour),
		})

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeTokenExchangeFailed, apperrors.GetCode(err))
	})

	t.Run("empty refresh token requires reauthorization", func(t *testing.T) {
		f := newTokenFixture(t, refreshOK)
		f.integrations.put(model.Integration{
			UserID:               testUserID,
			Provider:             model.ProviderSpotify,
			AccessTokenEncrypted: mustEncrypt(t, f.mgr.cipher, "AT1"),
			ExpiresAt:            f.now.Add(time.Minute),
		})

		_, err := f.mgr.GetValidAccessToken(ctx, testUserID)

		assert.Equal(t, apperrors.ErrCodeReauthorizationRequired, apperrors.GetCode(err))
		_, ok := f.integrations.get(testUserID)
		assert.False(t, ok)
		assert.Equal(t, 0, f.tokens.Calls())
	})
}

func TestGetValidAccessTokenConcurrentRefresh(t *testing.T) {
	f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
		time.Sleep(50 * time.Millisecond)
		refreshOK(w, form)
	})
	f.seed(t, "AT1", "RT1", time.Minute)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.mgr.GetValidAccessToken(context.Background(), testUserID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "AT2", results[i])
	}
	assert.Equal(t, 1, f.tokens.Calls())
}

func TestGetValidAccessTokenSharedLockAcrossManagers(t *testing.T) {
	f := newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
		time.Sleep(30 * time.Millisecond)
		refreshOK(w, form)
	})
	f.seed(t, "AT1", "RT1", time.Minute)

	// Two managers stand in for two server instances sharing one store and lock.
	locker := lock.NewKeyedMutex()
	f.mgr.locker = locker
	other := NewTokenManager(f.integrations, f.tokens.oauthClient(), f.mgr.cipher, locker)
	other.now = f.mgr.now

	var wg sync.WaitGroup
	for _, m := range []*TokenManager{f.mgr, other} {
		wg.Add(1)
		go func(m *TokenManager) {
			defer wg.Done()
			token, err := m.GetValidAccessToken(context.Background(), testUserID)
			assert.NoError(t, err)
			assert.Equal(t, "AT2", token)
		}(m)
	}
	wg.Wait()

	assert.Equal(t, 1, f.tokens.Calls())
}

func TestGetValidAccessTokenLockTimeout(t *testing.T) {
	f := newTokenFixture(t, refreshOK)
	f.seed(t, "AT1", "RT1", time.Minute)
	f.mgr.refreshTimeout = 50 * time.Millisecond

	unlock, err := f.mgr.locker.Lock(context.Background(), refreshKey(testUserID))
	require.NoError(t, err)
	defer unlock()

	_, err = f.mgr.GetValidAccessToken(context.Background(), testUserID)

	assert.Equal(t, apperrors.ErrCodeProviderUnavailable, apperrors.GetCode(err))
	assert.Equal(t, 0, f.tokens.Calls())
}

func TestGetValidAccessTokenConcurrentWriteWins(t *testing.T) {
	var f *tokenFixture
	f = newTokenFixture(t, func(w http.ResponseWriter, form url.Values) {
		// A reconnect lands while the refresh is in flight.
		f.integrations.put(model.Integration{
			UserID:                testUserID,
			Provider:              model.ProviderSpotify,
			AccessTokenEncrypted:  mustEncrypt(t, f.mgr.cipher, "AT9"),
			RefreshTokenEncrypted: mustEncrypt(t, f.mgr.cipher, "RT9"),
			ExpiresAt:             f.now.Add(time.Hour),
		})
		refreshOK(w, form)
	})
	f.seed(t, "AT1", "RT1", time.Minute)

	token, err := f.mgr.GetValidAccessToken(context.Background(), testUserID)

	require.NoError(t, err)
	assert.Equal(t, "AT9", token)
	rec, ok := f.integrations.get(testUserID)
	require.True(t, ok)
	assert.Equal(t, "RT9", mustDecrypt(t, f.mgr.cipher, rec.RefreshTokenEncrypted))
	assert.Equal(t, 1, f.tokens.Calls())
}
