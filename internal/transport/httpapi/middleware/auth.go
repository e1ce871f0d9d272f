package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hweilin/moneybook/internal/auth"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/logger"
)

// TokenValidator resolves a raw API token secret to its stored token
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*auth.APIToken, error)
}

// Auth authenticates a request with either a JWT session token or an
// opaque API token. API tokens are recognized by their "mbk_" prefix;
// everything else is parsed as a JWT.
func Auth(jwtService *JWTService, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			ctx := r.Context()
			if strings.HasPrefix(credential, auth.TokenPrefix+"_") {
				if tokens == nil {
					unauthorized(w, "api tokens are not enabled")
					return
				}
				t, err := tokens.Validate(ctx, credential)
				if err != nil {
					if apperrors.HasCode(err, apperrors.ErrCodeTokenRevoked) {
						unauthorized(w, "token has been revoked")
						return
					}
					unauthorized(w, "invalid token")
					return
				}
				ctx = context.WithValue(ctx, UserIDKey, t.UserID)
				ctx = context.WithValue(ctx, AuthMethodKey, AuthMethodAPIToken)
			} else {
				claims, err := jwtService.ValidateToken(credential)
				if err != nil {
					unauthorized(w, "invalid or expired token")
					return
				}
				ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
				ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
				ctx = context.WithValue(ctx, AuthMethodKey, AuthMethodJWT)
			}

			// Mirror the user id into the logger key so request logs
			// carry it.
			if userID, ok := GetUserIDFromContext(ctx); ok {
				ctx = context.WithValue(ctx, logger.UserIDKey, userID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
