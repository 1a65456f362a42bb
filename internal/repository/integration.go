package repository

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/pulsefit/coach-server-go/internal/database"
	"github.com/pulsefit/coach-server-go/internal/model"
)

type IntegrationRepository interface {
	Find(ctx context.Context, userID, provider string) (*model.Integration, error)
	Upsert(ctx context.Context, params model.UpsertIntegrationParams) (*model.Integration, error)
	// UpdateTokens writes refreshed tokens only if the row still carries prevExpiresAt.
	// It reports false when another writer got there first.
	UpdateTokens(ctx context.Context, params model.UpdateTokensParams, prevExpiresAt time.Time) (bool, error)
	Delete(ctx context.Context, userID, provider string) (bool, error)
}

type integrationRepo struct {
	db database.DBTX
}

func NewIntegrationRepository(db database.DBTX) IntegrationRepository {
	return &integrationRepo{db: db}
}

func (r *integrationRepo) Find(ctx context.Context, userID, provider string) (*model.Integration, error) {
	var integration model.Integration
	err := r.db.GetContext(ctx, &integration, `
		SELECT * FROM integrations
		WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	return HandleNotFound(&integration, err)
}

func (r *integrationRepo) Upsert(ctx context.Context, params model.UpsertIntegrationParams) (*model.Integration, error) {
	var integration model.Integration
	err := r.db.GetContext(ctx, &integration, `
		INSERT INTO integrations (user_id, provider, access_token_encrypted, refresh_token_encrypted, expires_at, scopes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = NOW()
		RETURNING *
	`, params.UserID, params.Provider, params.AccessTokenEncrypted, params.RefreshTokenEncrypted,
		params.ExpiresAt, pq.StringArray(params.Scopes))
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (r *integrationRepo) UpdateTokens(ctx context.Context, params model.UpdateTokensParams, prevExpiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE integrations
		SET access_token_encrypted = $3, refresh_token_encrypted = $4, expires_at = $5, updated_at = NOW()
		WHERE user_id = $1 AND provider = $2 AND expires_at = $6
	`, params.UserID, params.Provider, params.AccessTokenEncrypted, params.RefreshTokenEncrypted,
		params.ExpiresAt, prevExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *integrationRepo) Delete(ctx context.Context, userID, provider string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM integrations WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
