package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"imgconvert/internal/cleanup"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/requestcontext"
)

// Runner runs one cleanup sweep. *cleanup.Worker satisfies it.
type Runner interface {
	RunOnce(ctx context.Context, dryRun bool) (*cleanup.Result, error)
	DryRunDefault() bool
}

type Handler struct {
	runner Runner
	logger *slog.Logger
}

func New(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// HandleRun triggers a sweep. ?dryRun=false deletes; without the parameter the
// configured default applies.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	dryRun := h.runner.DryRunDefault()
	if raw := r.URL.Query().Get("dryRun"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "dryRun must be true or false"))
			return
		}
		dryRun = v
	}

	res, err := h.runner.RunOnce(ctx, dryRun)
	if errors.Is(err, cleanup.ErrRunning) {
		httputil.WriteErrorCode(w, http.StatusConflict, "conflict", "A cleanup run is already in progress")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "manual cleanup failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "Cleanup failed"))
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, res)
}
