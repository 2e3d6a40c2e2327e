// Package requestid tags every request with a correlation ID.
package requestid

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"imgconvert/pkg/requestcontext"
)

// Header is echoed back on every response.
const Header = "X-Request-Id"

const maxInboundLength = 128

// Middleware reuses a caller-supplied X-Request-Id when it is reasonable,
// otherwise generates a UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(Header))
		if id == "" || len(id) > maxInboundLength {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
