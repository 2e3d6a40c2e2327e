package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/requestcontext"
)

// RequireAdminToken guards operator endpoints behind the X-Admin-Token header.
// An empty expected token locks the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
