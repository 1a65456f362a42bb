package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/coach-server-go/internal/model"
	"github.com/pulsefit/coach-server-go/internal/spotify"
	"github.com/pulsefit/coach-server-go/internal/util"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *util.Cipher {
	t.Helper()
	c, err := util.NewCipher(testEncryptionKey)
	require.NoError(t, err)
	return c
}

func mustEncrypt(t *testing.T, c *util.Cipher, plaintext string) string {
	t.Helper()
	enc, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	return enc
}

func mustDecrypt(t *testing.T, c *util.Cipher, ciphertext string) string {
	t.Helper()
	plain, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	return plain
}

// memIntegrationRepo is an in-memory IntegrationRepository.
type memIntegrationRepo struct {
	mu      sync.Mutex
	records map[string]model.Integration
	upserts int
}

func newMemIntegrationRepo() *memIntegrationRepo {
	return &memIntegrationRepo{records: make(map[string]model.Integration)}
}

func integrationKey(userID, provider string) string {
	return userID + "/" + provider
}

func (r *memIntegrationRepo) put(rec model.Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[integrationKey(rec.UserID, rec.Provider)] = rec
}

func (r *memIntegrationRepo) get(userID string) (model.Integration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[integrationKey(userID, model.ProviderSpotify)]
	return rec, ok
}

func (r *memIntegrationRepo) Find(ctx context.Context, userID, provider string) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[integrationKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memIntegrationRepo) Upsert(ctx context.Context, params model.UpsertIntegrationParams) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	key := integrationKey(params.UserID, params.Provider)
	rec, ok := r.records[key]
	if !ok {
		rec = model.Integration{ID: "int-" + params.UserID, UserID: params.UserID, Provider: params.Provider, CreatedAt: time.Now()}
	}
	rec.AccessTokenEncrypted = params.AccessTokenEncrypted
	rec.RefreshTokenEncrypted = params.RefreshTokenEncrypted
	rec.ExpiresAt = params.ExpiresAt
	rec.Scopes = params.Scopes
	rec.UpdatedAt = time.Now()
	r.records[key] = rec
	return &rec, nil
}

func (r *memIntegrationRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams, prevExpiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := integrationKey(params.UserID, params.Provider)
	rec, ok := r.records[key]
	if !ok || !rec.ExpiresAt.Equal(prevExpiresAt) {
		return false, nil
	}
	rec.AccessTokenEncrypted = params.AccessTokenEncrypted
	rec.RefreshTokenEncrypted = params.RefreshTokenEncrypted
	rec.ExpiresAt = params.ExpiresAt
	rec.UpdatedAt = time.Now()
	r.records[key] = rec
	return true, nil
}

func (r *memIntegrationRepo) Delete(ctx context.Context, userID, provider string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := integrationKey(userID, provider)
	_, ok := r.records[key]
	delete(r.records, key)
	return ok, nil
}

// memStateRepo is an in-memory OAuthStateRepository.
// Expiry is judged by now, which tests point at the service clock.
type memStateRepo struct {
	mu     sync.Mutex
	states map[string]model.OAuthState
	now    func() time.Time
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{states: make(map[string]model.OAuthState), now: time.Now}
}

func (r *memStateRepo) Create(ctx context.Context, params model.CreateOAuthStateParams) (*model.OAuthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := model.OAuthState{
		ID:                    "state-" + params.State[:8],
		State:                 params.State,
		UserID:                params.UserID,
		Provider:              params.Provider,
		CodeVerifierEncrypted: params.CodeVerifierEncrypted,
		ExpiresAt:             params.ExpiresAt,
		CreatedAt:             r.now(),
	}
	r.states[params.State] = st
	return &st, nil
}

func (r *memStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[state]
	if !ok {
		return nil, nil
	}
	delete(r.states, state)
	if !st.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &st, nil
}

func (r *memStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, st := range r.states {
		if st.ExpiresAt.Before(r.now()) {
			delete(r.states, k)
			n++
		}
	}
	return n, nil
}

func (r *memStateRepo) only(t *testing.T) model.OAuthState {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.states, 1)
	for _, st := range r.states {
		return st
	}
	return model.OAuthState{}
}

// mockInteractionRepo is a testify mock of MusicInteractionRepository.
type mockInteractionRepo struct {
	mock.Mock
}

func (m *mockInteractionRepo) Create(ctx context.Context, params model.CreateMusicInteractionParams) (*model.MusicInteraction, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MusicInteraction), args.Error(1)
}

func (m *mockInteractionRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MusicInteraction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MusicInteraction), args.Error(1)
}

// tokenServer is a fake accounts token endpoint that counts requests.
type tokenServer struct {
	*httptest.Server
	calls   int32
	handler func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()
	ts := &tokenServer{handler: handler}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.calls, 1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ts.handler(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) Calls() int {
	return int(atomic.LoadInt32(&ts.calls))
}

func (ts *tokenServer) oauthClient() *spotify.OAuthClient {
	return spotify.NewOAuthClient(spotify.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://coach.example.com/api/v1/music/callback/spotify",
		Scopes:       []string{"user-read-recently-played", "playlist-modify-private"},
		TokenURL:     ts.URL,
	}, ts.Client())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type staticTokenSource struct {
	token string
	err   error
}

func (s staticTokenSource) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	return s.token, s.err
}
