package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/requestcontext"
)

// HealthChecker reports whether a dependency answers. The Redis client
// satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
}

// HealthHandler serves liveness endpoints. Redis being down is reported but
// does not fail the probe.
type HealthHandler struct {
	redis   HealthChecker
	timeout time.Duration
	logger  *slog.Logger
}

func NewHealthHandler(redis HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{redis: redis, timeout: 2 * time.Second, logger: logger}
}

func (h *HealthHandler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Backend running",
	})
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{
		Status:    "ok",
		Timestamp: requestcontext.Now(ctx).UTC(),
		Redis:     "ok",
	}

	if h.redis == nil {
		resp.Redis = "down"
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.redis.Health(pingCtx); err != nil {
			h.logger.WarnContext(ctx, "redis health check failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			resp.Redis = "down"
		}
	}

	httputil.WriteSuccess(w, http.StatusOK, resp)
}
