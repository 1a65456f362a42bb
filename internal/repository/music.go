package repository

import (
	"context"

	"github.com/pulsefit/coach-server-go/internal/database"
	"github.com/pulsefit/coach-server-go/internal/model"
)

type MusicInteractionRepository interface {
	Create(ctx context.Context, params model.CreateMusicInteractionParams) (*model.MusicInteraction, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MusicInteraction, error)
}

type musicInteractionRepo struct {
	db database.DBTX
}

func NewMusicInteractionRepository(db database.DBTX) MusicInteractionRepository {
	return &musicInteractionRepo{db: db}
}

func (r *musicInteractionRepo) Create(ctx context.Context, params model.CreateMusicInteractionParams) (*model.MusicInteraction, error) {
	var interaction model.MusicInteraction
	err := r.db.GetContext(ctx, &interaction, `
		INSERT INTO music_interactions (user_id, session_id, track_id, feedback_type, occurred_at, context)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.UserID, params.SessionID, params.TrackID, params.FeedbackType, params.OccurredAt, jsonOrEmpty(params.Context))
	if err != nil {
		return nil, err
	}
	return &interaction, nil
}

func (r *musicInteractionRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MusicInteraction, error) {
	interactions := []model.MusicInteraction{}
	err := r.db.SelectContext(ctx, &interactions, `
		SELECT * FROM music_interactions
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return interactions, nil
}
