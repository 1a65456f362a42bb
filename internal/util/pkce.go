package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	verifierBytes = 64

	CodeChallengeMethod = "S256"
)

// PKCE is a verifier/challenge pair for one authorization attempt.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE draws 64 random bytes for the verifier (86 base64url chars).
func GeneratePKCE() (PKCE, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return PKCE{}, fmt.Errorf("generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)

	return PKCE{
		Verifier:  verifier,
		Challenge: CodeChallenge(verifier),
	}, nil
}

func CodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
