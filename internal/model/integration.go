package model

import (
	"time"

	"github.com/lib/pq"
)

// Integration is a user's link to an external provider. Token columns hold ciphertext only.
type Integration struct {
	ID                    string         `db:"id" json:"id"`
	UserID                string         `db:"user_id" json:"userId"`
	Provider              string         `db:"provider" json:"provider"`
	AccessTokenEncrypted  string         `db:"access_token_encrypted" json:"-"`
	RefreshTokenEncrypted string         `db:"refresh_token_encrypted" json:"-"`
	ExpiresAt             time.Time      `db:"expires_at" json:"expiresAt"`
	Scopes                pq.StringArray `db:"scopes" json:"scopes"`
	CreatedAt             time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updatedAt"`
}

type UpsertIntegrationParams struct {
	UserID                string
	Provider              string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             time.Time
	Scopes                []string
}

type UpdateTokensParams struct {
	UserID                string
	Provider              string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             time.Time
}

type IntegrationStatus struct {
	Provider  string     `json:"provider"`
	Connected bool       `json:"connected"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
