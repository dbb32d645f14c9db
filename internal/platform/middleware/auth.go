package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/httputil"
	"civicledger/pkg/requestcontext"
)

// SessionHeader carries the session id for clients without a bearer token.
const SessionHeader = "X-Session-ID"

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Name   string
}

// CurrentSession resolves who is calling. A bearer token, when present, must
// be valid and its user id becomes the session id. Otherwise the
// X-Session-ID header is used. Requests with neither pass through without a
// session; handlers that need one reject them.
//
// validator may be nil when token auth is disabled; bearer tokens are then
// rejected.
func CurrentSession(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				if validator == nil {
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token authentication is not enabled"))
					return
				}
				claims, err := validator.ValidateToken(token)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
					return
				}
				ctx = requestcontext.WithUserID(ctx, claims.UserID)
				ctx = requestcontext.WithDisplayName(ctx, claims.Name)
				ctx = requestcontext.WithSessionID(ctx, claims.UserID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if sessionID := strings.TrimSpace(r.Header.Get(SessionHeader)); sessionID != "" {
				ctx = requestcontext.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
