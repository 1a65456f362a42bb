package model

import "time"

// OAuthState binds one authorization attempt to its user and PKCE verifier.
// Rows are consumed exactly once by the callback.
type OAuthState struct {
	ID                    string    `db:"id"`
	State                 string    `db:"state"`
	UserID                string    `db:"user_id"`
	Provider              string    `db:"provider"`
	CodeVerifierEncrypted string    `db:"code_verifier_encrypted"`
	ExpiresAt             time.Time `db:"expires_at"`
	CreatedAt             time.Time `db:"created_at"`
}

type CreateOAuthStateParams struct {
	State                 string
	UserID                string
	Provider              string
	CodeVerifierEncrypted string
	ExpiresAt             time.Time
}

// CallbackParams are the query parameters the provider appends to the redirect URI.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}
