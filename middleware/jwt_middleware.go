package middleware

import (
	"context"
	"net/http"
	"strings"

	"houseparty-server/services"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/logger"
)

type userIDKey struct{}

// JWTMiddleware requires a valid access token and puts its user id on the
// request context. Expired and malformed tokens get the same answer.
func JWTMiddleware(tokens *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				WriteError(w, r, apierrors.ErrUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			userID, ok := tokens.Verify(r.Context(), tokenString, services.AccessToken)
			if !ok {
				WriteError(w, r, apierrors.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			ctx = logger.WithEntry(ctx, logger.FromContext(ctx).WithField("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user id placed by JWTMiddleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// WithUserID is used by tests to fake an authenticated request.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}
