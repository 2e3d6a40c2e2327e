// Package httptransport assembles the public HTTP surface: middleware order,
// routes and the fallback envelopes.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	admissionmw "imgconvert/internal/admission/middleware"
	cleanuphandler "imgconvert/internal/cleanup/handler"
	converthandler "imgconvert/internal/convert/handler"
	"imgconvert/internal/platform/metrics"
	"imgconvert/internal/upload"
	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/platform/middleware/admin"
	"imgconvert/pkg/platform/middleware/metadata"
	"imgconvert/pkg/platform/middleware/requestid"
	"imgconvert/pkg/platform/middleware/requesttime"
)

// RouterConfig holds the settings the router reads directly.
type RouterConfig struct {
	CORSOrigin        string
	AdminToken        string
	TrustProxyHeaders bool
	// Now overrides the request clock. Nil means time.Now.
	Now func() time.Time
}

// Dependencies are the handlers and middleware the router mounts. Cleanup and
// Gatherer are optional.
type Dependencies struct {
	Upload    *upload.Decoder
	Admission *admissionmw.Middleware
	Convert   *converthandler.Handler
	Cleanup   *cleanuphandler.Handler
	Health    *HealthHandler
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// NewRouter wires request id, client metadata and request time ahead of every
// route. Conversion routes then run upload decoding and admission, in that
// order, before the handler.
func NewRouter(cfg RouterConfig, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata(metadata.WithTrustProxyHeaders(cfg.TrustProxyHeaders)))
	if cfg.Now != nil {
		r.Use(requesttime.MiddlewareWithClock(cfg.Now))
	} else {
		r.Use(requesttime.Middleware)
	}
	r.Use(cors(cfg.CORSOrigin))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/", deps.Health.HandleRoot)
	r.Get("/api/health", deps.Health.HandleHealth)

	r.With(deps.Upload.Handler, deps.Admission.Admit(deps.Admission.FileCost)).
		Post("/api/convert", deps.Convert.HandleConvert)
	r.With(deps.Admission.LimitURLs, deps.Admission.Admit(deps.Admission.URLCost)).
		Post("/api/convert/url", deps.Convert.HandleConvertURLs)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if deps.Cleanup != nil {
		r.Group(func(ar chi.Router) {
			ar.Use(admin.RequireAdminToken(cfg.AdminToken, deps.Logger))
			ar.Use(middleware.Timeout(5 * time.Minute))
			ar.Post("/admin/cleanup", deps.Cleanup.HandleRun)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorCode(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return r
}

// cors answers preflights and tags responses for the configured origin. "*"
// reflects the caller's origin so credentials stay usable.
func cors(allowed string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed == "*" || allowed == origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers",
					"X-Request-Id, X-RateLimit-Limit, X-RateLimit-Remaining, X-Quota-Used, X-Quota-Limit, Retry-After")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id, X-Admin-Token")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
