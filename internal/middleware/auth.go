package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/coach-server-go/internal/audit"
	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/httputil"
	"github.com/pulsefit/coach-server-go/internal/util"
)

type contextKey string

const UserIDContextKey contextKey = "userID"

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errExpiredToken = errors.New("token expired")
)

func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDContextKey).(string); ok {
		return userID
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// SupabaseClaims are the claims of an identity-provider access token. Subject is the user id.
type SupabaseClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 access tokens signed with the identity provider's secret.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(jwtSecret)}
}

// Handler rejects requests without a valid token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.authenticate(r)
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Optional attaches the user when a valid token is present. A present but invalid
// token is still rejected.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.authenticate(r)
		switch {
		case errors.Is(err, errMissingToken):
			next.ServeHTTP(w, r)
		case err != nil:
			m.reject(w, r, err)
		default:
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		}
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (string, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return "", errMissingToken
	}
	return m.ValidateToken(tokenString)
}

// ValidateToken returns the user id carried in the token's subject.
func (m *AuthMiddleware) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SupabaseClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errExpiredToken
		}
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(*SupabaseClaims)
	if !ok || !token.Valid {
		return "", errInvalidToken
	}

	if !util.IsValidUUID(claims.Subject) {
		return "", errInvalidToken
	}
	return uuid.MustParse(claims.Subject).String(), nil
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errMissingToken):
		httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
	case errors.Is(err, errExpiredToken):
		httputil.WriteError(w, apperrors.TokenExpired())
	default:
		log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid token attempt")
		audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
		httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
