package metadata

import (
	"net"
	"net/http"
	"strings"

	"imgconvert/pkg/requestcontext"
)

// UnknownClient is the identity used when no source resolves.
const UnknownClient = "unknown"

// Option configures client metadata extraction.
type Option func(*extractor)

type extractor struct {
	trustProxyHeaders bool
}

// WithTrustProxyHeaders controls whether X-Forwarded-For and X-Real-IP are honored.
// They are honored by default; disable when the service is not behind a proxy that
// overwrites them, otherwise clients can choose their own identity.
func WithTrustProxyHeaders(trust bool) Option {
	return func(e *extractor) {
		e.trustProxyHeaders = trust
	}
}

func newExtractor(opts ...Option) *extractor {
	e := &extractor{trustProxyHeaders: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClientMetadata extracts the client identity and User-Agent from the request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func ClientMetadata(opts ...Option) func(http.Handler) http.Handler {
	e := newExtractor(opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), e.clientIP(r), r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest derives the client identity with proxy headers trusted.
func ClientIPFromRequest(r *http.Request, opts ...Option) string {
	return newExtractor(opts...).clientIP(r)
}

// clientIP resolves, in order: first X-Forwarded-For entry, X-Real-IP, the
// socket address without port, and finally UnknownClient.
func (e *extractor) clientIP(r *http.Request) string {
	if e.trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}

	return UnknownClient
}
