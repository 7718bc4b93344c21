package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"wallet-service/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "auth_user_id"

type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates bearer tokens and injects the caller's user id
// into the request context.
type AuthMiddleware struct {
	secret []byte
	logger *zap.Logger
}

func RequireAuth(secret string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), logger: logger}
}

func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			a.logger.Debug("token rejected", zap.Error(err))
			response.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		userID := claims.UserID
		if userID == 0 && claims.Subject != "" {
			userID, _ = strconv.ParseInt(claims.Subject, 10, 64)
		}
		if userID == 0 {
			response.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user id set by Middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID is a test hook for handlers that read the auth context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
