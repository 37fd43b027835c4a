package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"go-dm/internal/apperr"
	"go-dm/internal/httpx"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator is the slice of the user service the middleware needs.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}

		// Browsers cannot set headers on a websocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			httpx.WriteError(w, http.StatusUnauthorized, apperr.ErrUnauthorized, "missing_token")
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, apperr.ErrUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user id set by Handle.
func UserFromContext(ctx context.Context) (int, string, bool) {
	id, ok := ctx.Value(UserKey).(int)
	name, _ := ctx.Value(UsernameKey).(string)
	return id, name, ok && id > 0
}
