package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/coach-server-go/internal/database"
	"github.com/pulsefit/coach-server-go/internal/model"
)

// setupTestDB connects to TEST_DATABASE_URL and applies the schema.
// Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db
}

func TestIntegrationRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewIntegrationRepository(db.DB)
	ctx := context.Background()
	userID := uuid.NewString()
	defer repo.Delete(ctx, userID, model.ProviderSpotify)

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	t.Run("Find returns nil when absent", func(t *testing.T) {
		integration, err := repo.Find(ctx, userID, model.ProviderSpotify)
		require.NoError(t, err)
		assert.Nil(t, integration)
	})

	t.Run("Upsert creates record", func(t *testing.T) {
		integration, err := repo.Upsert(ctx, model.UpsertIntegrationParams{
			UserID:                userID,
			Provider:              model.ProviderSpotify,
			AccessTokenEncrypted:  "enc-at-1",
			RefreshTokenEncrypted: "enc-rt-1",
			ExpiresAt:             expiresAt,
			Scopes:                []string{"user-read-recently-played"},
		})
		require.NoError(t, err)
		assert.Equal(t, "enc-at-1", integration.AccessTokenEncrypted)
		assert.Equal(t, []string{"user-read-recently-played"}, []string(integration.Scopes))
		assert.True(t, expiresAt.Equal(integration.ExpiresAt))
	})

	t.Run("Upsert keeps one record per user and provider", func(t *testing.T) {
		_, err := repo.Upsert(ctx, model.UpsertIntegrationParams{
			UserID:                userID,
			Provider:              model.ProviderSpotify,
			AccessTokenEncrypted:  "enc-at-2",
			RefreshTokenEncrypted: "enc-rt-2",
			ExpiresAt:             expiresAt,
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM integrations WHERE user_id = $1 AND provider = $2`, userID, model.ProviderSpotify))
		assert.Equal(t, 1, count)

		integration, err := repo.Find(ctx, userID, model.ProviderSpotify)
		require.NoError(t, err)
		assert.Equal(t, "enc-at-2", integration.AccessTokenEncrypted)
	})

	t.Run("UpdateTokens applies only against the expected expiry", func(t *testing.T) {
		current, err := repo.Find(ctx, userID, model.ProviderSpotify)
		require.NoError(t, err)

		next := current.ExpiresAt.Add(time.Hour)
		params := model.UpdateTokensParams{
			UserID:                userID,
			Provider:              model.ProviderSpotify,
			AccessTokenEncrypted:  "enc-at-3",
			RefreshTokenEncrypted: "enc-rt-2",
			ExpiresAt:             next,
		}

		updated, err := repo.UpdateTokens(ctx, params, current.ExpiresAt)
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = repo.UpdateTokens(ctx, params, current.ExpiresAt)
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("Delete removes record", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, userID, model.ProviderSpotify)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, userID, model.ProviderSpotify)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestOAuthStateRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOAuthStateRepository(db.DB)
	ctx := context.Background()
	userID := uuid.NewString()

	t.Run("Consume returns state once", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateOAuthStateParams{
			State:                 "state-" + userID,
			UserID:                userID,
			Provider:              model.ProviderSpotify,
			CodeVerifierEncrypted: "enc-verifier",
			ExpiresAt:             time.Now().Add(10 * time.Minute),
		})
		require.NoError(t, err)

		first, err := repo.Consume(ctx, "state-"+userID)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, userID, first.UserID)
		assert.Equal(t, "enc-verifier", first.CodeVerifierEncrypted)

		second, err := repo.Consume(ctx, "state-"+userID)
		require.NoError(t, err)
		assert.Nil(t, second)
	})

	t.Run("Consume ignores expired state", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateOAuthStateParams{
			State:                 "expired-" + userID,
			UserID:                userID,
			Provider:              model.ProviderSpotify,
			CodeVerifierEncrypted: "enc-verifier",
			ExpiresAt:             time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)

		state, err := repo.Consume(ctx, "expired-"+userID)
		require.NoError(t, err)
		assert.Nil(t, state)

		count, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(1))
	})
}

func TestMusicInteractionRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewMusicInteractionRepository(db.DB)
	ctx := context.Background()
	userID := uuid.NewString()
	defer db.ExecContext(ctx, `DELETE FROM music_interactions WHERE user_id = $1`, userID)

	sessionID := "session-1"
	created, err := repo.Create(ctx, model.CreateMusicInteractionParams{
		UserID:       userID,
		SessionID:    &sessionID,
		TrackID:      "track-1",
		FeedbackType: model.FeedbackSkip,
		OccurredAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackSkip, created.FeedbackType)
	assert.JSONEq(t, `{}`, string(created.Context))

	interactions, err := repo.FindByUserID(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, "track-1", interactions[0].TrackID)
}
