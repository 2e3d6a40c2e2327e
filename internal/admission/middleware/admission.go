package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"imgconvert/internal/admission/models"
	"imgconvert/internal/upload"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/httputil"
	metadata "imgconvert/pkg/platform/middleware/metadata"
	"imgconvert/pkg/platform/privacy"
	"imgconvert/pkg/requestcontext"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderQuotaUsed          = "X-Quota-Used"
	HeaderQuotaLimit         = "X-Quota-Limit"
	HeaderRetryAfter         = "Retry-After"
)

const maxURLBody = 1 << 20

// Admitter makes one admission decision per call. *service.Service satisfies it.
type Admitter interface {
	Check(ctx context.Context, clientID string, cost models.Cost) (*models.Decision, error)
}

// Estimator computes request cost. *cost.Estimator satisfies it.
type Estimator interface {
	ForSizes(sizes []int64) models.Cost
	ForURLs(ctx context.Context, urls []string) models.Cost
}

// CostFunc derives what a request will be charged.
type CostFunc func(r *http.Request) models.Cost

type Middleware struct {
	admitter  Admitter
	estimator Estimator
	logger    *slog.Logger
	maxURLs   int
}

type Option func(*Middleware)

// WithMaxURLs bounds how many URLs one request may list. It must match the
// conversion limit so every converted URL has been probed and charged.
func WithMaxURLs(n int) Option {
	return func(m *Middleware) {
		m.maxURLs = n
	}
}

func New(admitter Admitter, estimator Estimator, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		admitter:  admitter,
		estimator: estimator,
		logger:    logger,
		maxURLs:   20,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit runs exactly one admission check per request. Admitted requests carry
// their usage on the context; rejected and failed checks never reach next.
func (m *Middleware) Admit(costFn CostFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientID := requestcontext.ClientIP(ctx)
			if clientID == "" {
				clientID = metadata.ClientIPFromRequest(r)
			}

			decision, err := m.admitter.Check(ctx, clientID, costFn(r))
			if err != nil {
				m.logger.ErrorContext(ctx, "admission check failed",
					"error", err,
					"ip_prefix", privacy.AnonymizeIP(clientID),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeInternalError(w)
				return
			}

			addRateLimitHeaders(w, decision)

			switch decision.Status {
			case models.StatusOK:
				addQuotaHeaders(w, decision)
				ctx = requestcontext.WithAdmission(ctx, requestcontext.AdmissionUsage{
					TokensAfter: decision.Tokens,
					NewQuota:    decision.Quota,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
			case models.StatusRateLimitExceeded:
				writeRateLimitExceeded(w, decision)
			case models.StatusDailyLimitExceeded:
				writeDailyLimitReached(w, decision)
			default:
				m.logger.ErrorContext(ctx, "admission returned unknown status",
					"status", decision.Status,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeInternalError(w)
			}
		})
	}
}

// FileCost charges the files decoded by the upload decoder.
func (m *Middleware) FileCost(r *http.Request) models.Cost {
	form, _ := upload.FromContext(r.Context())
	return m.estimator.ForSizes(form.Sizes())
}

// LimitURLs rejects URL lists longer than the configured maximum before any
// counter is touched. Lists within the limit are always probed by URLCost.
func (m *Middleware) LimitURLs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urls, _ := readURLs(r)
		if len(urls) > m.maxURLs {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest,
				"At most "+strconv.Itoa(m.maxURLs)+" URLs are accepted per request"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// URLCost reads the {"urls": [...]} body, restores it for the handler, and
// charges the probed remote sizes. An unreadable body costs one unit.
func (m *Middleware) URLCost(r *http.Request) models.Cost {
	urls, err := readURLs(r)
	if err != nil {
		return m.estimator.ForURLs(r.Context(), nil)
	}
	if len(urls) > m.maxURLs {
		// unreachable behind LimitURLs; never probe an unbounded list
		urls = urls[:m.maxURLs]
	}
	return m.estimator.ForURLs(r.Context(), urls)
}

// readURLs decodes the urls field and leaves r.Body readable again.
func readURLs(r *http.Request) ([]string, error) {
	if r.Body == nil {
		return nil, io.EOF
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxURLBody))
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var payload struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.URLs, nil
}

func addRateLimitHeaders(w http.ResponseWriter, d *models.Decision) {
	w.Header().Set(HeaderRateLimitLimit, strconv.FormatInt(d.Limits.Capacity, 10))
	w.Header().Set(HeaderRateLimitRemaining, strconv.FormatInt(int64(math.Floor(math.Max(d.Tokens, 0))), 10))
}

func addQuotaHeaders(w http.ResponseWriter, d *models.Decision) {
	w.Header().Set(HeaderQuotaUsed, strconv.FormatInt(d.Quota, 10))
	w.Header().Set(HeaderQuotaLimit, strconv.FormatInt(d.Limits.DailyBytesLimit, 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, d *models.Decision) {
	retryAfterSeconds := max(int64(math.Ceil(float64(d.RetryAfterMs)/1000)), 1)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds, 10))
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.RejectionResponse{
		Error: models.RateLimitErrorBody{
			Code:         models.CodeRateLimitPerSecond,
			Message:      "Max " + humanize.FtoaWithDigits(d.Limits.RefillPerSecond(), 2) + " files/sec exceeded",
			RetryAfterMs: d.RetryAfterMs,
		},
	})
}

func writeDailyLimitReached(w http.ResponseWriter, d *models.Decision) {
	httputil.WriteJSON(w, http.StatusTooManyRequests, models.RejectionResponse{
		Error: models.DailyLimitErrorBody{
			Code:    models.CodeDailyLimitReached,
			Message: "Daily " + humanize.IBytes(uint64(d.Limits.DailyBytesLimit)) + " limit reached",
			Quota:   d.Quota,
			Limit:   d.Limits.DailyBytesLimit,
		},
	})
}

func writeInternalError(w http.ResponseWriter) {
	httputil.WriteErrorCode(w, http.StatusInternalServerError, models.CodeInternalError, "Admission check failed")
}
