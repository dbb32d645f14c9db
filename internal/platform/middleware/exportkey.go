package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/httputil"
)

// ExportKeyHeader carries the shared key for export endpoints.
const ExportKeyHeader = "X-Export-Key"

// RequireExportKey compares X-Export-Key against a bcrypt hash. An empty
// hash leaves the routes open.
func RequireExportKey(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(ExportKeyHeader)
			if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				logger.WarnContext(r.Context(), "export rejected - bad export key",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a valid export key is required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
