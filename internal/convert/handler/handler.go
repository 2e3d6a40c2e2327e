package handler

import (
	"context"
	"log/slog"
	"net/http"

	"imgconvert/internal/convert/models"
	"imgconvert/internal/upload"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/requestcontext"
)

// Service defines the conversion operations the handler exposes.
type Service interface {
	Convert(ctx context.Context, req models.Request) (*models.Result, error)
	ConvertURLs(ctx context.Context, req models.URLRequest) (*models.Result, error)
}

// Handler serves the conversion endpoints. It runs after the upload decoder and
// admission middleware.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// HandleConvert converts the files decoded from a multipart upload.
func (h *Handler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, _ := upload.FromContext(ctx)

	req := models.Request{TargetFormat: form.Field("targetFormat")}
	if form != nil {
		req.Files = make([]models.File, len(form.Files))
		for i, f := range form.Files {
			req.Files[i] = models.File{Filename: f.Filename, Data: f.Data, Size: f.Size}
		}
	}

	result, err := h.svc.Convert(ctx, req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.logSuccess(ctx, result)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleConvertURLs converts remote files listed in a JSON body.
func (h *Handler) HandleConvertURLs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[models.URLRequest](w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.svc.ConvertURLs(ctx, *req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.logSuccess(ctx, result)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	requestID := requestcontext.RequestID(ctx)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "conversion failed", "request_id", requestID, "error", err)
	} else {
		h.logger.WarnContext(ctx, "conversion rejected", "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) logSuccess(ctx context.Context, result *models.Result) {
	args := []any{
		"request_id", requestcontext.RequestID(ctx),
		"mode", result.Mode,
		"failures", len(result.Failures),
	}
	if usage, ok := requestcontext.Admission(ctx); ok {
		args = append(args, "tokens_after", usage.TokensAfter, "quota_used", usage.NewQuota)
	}
	h.logger.InfoContext(ctx, "conversion completed", args...)
}
