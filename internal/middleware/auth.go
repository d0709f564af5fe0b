package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/windfall/prosody_service/pkg/response"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Auth returns a middleware that validates JWT tokens from the Authorization header.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				response.Unauthorized(w, "missing or malformed authorization header")
				return
			}

			userID, err := validator.ValidateToken(token)
			if err != nil {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// WithUserID stores the user ID in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
