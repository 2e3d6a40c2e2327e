package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"imgconvert/internal/admission/metrics"
	"imgconvert/internal/admission/models"
	"imgconvert/internal/admission/observability"
	"imgconvert/internal/admission/ports"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/audit"
	"imgconvert/pkg/platform/privacy"
	"imgconvert/pkg/requestcontext"
)

// Type aliases for shared interfaces.
type (
	Store          = ports.CounterStore
	AuditPublisher = ports.AuditPublisher
)

// Service turns a client identity and a request cost into an admission
// decision. It holds no limit state of its own; every decision is one call to
// the counter store.
type Service struct {
	store          Store
	limits         models.Limits
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, limits models.Limits, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	if limits.Capacity <= 0 || limits.RefillPerMs <= 0 || limits.DailyBytesLimit <= 0 || limits.TTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid admission limits: %+v", limits)
	}

	svc := &Service{
		store:  store,
		limits: limits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Limits returns the fixed parameters used for every check.
func (s *Service) Limits() models.Limits {
	return s.limits
}

// Check runs exactly one admission check for clientID. Rejections are returned
// as a Decision, not an error; errors mean the check itself could not be made
// and the request must not proceed.
func (s *Service) Check(ctx context.Context, clientID string, cost models.Cost) (*models.Decision, error) {
	if cost.Units < 1 {
		cost.Units = 1
	}
	if cost.Bytes < 0 {
		cost.Bytes = 0
	}

	now := requestcontext.Now(ctx)
	start := time.Now()
	result, err := s.store.Check(ctx, models.CheckInput{
		Keys:   models.KeysFor(clientID, now),
		Now:    now,
		Cost:   cost,
		Limits: s.limits,
	})
	s.metrics.ObserveStoreLatency(time.Since(start))
	if err != nil {
		s.metrics.IncrementStoreFailures()
		s.logger.ErrorContext(ctx, "admission check failed",
			"error", err,
			"ip_prefix", privacy.AnonymizeIP(clientID),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "admission check failed")
	}
	if result == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "admission check returned no result")
	}

	decision := &models.Decision{
		Result:   *result,
		ClientID: clientID,
		Cost:     cost,
		Limits:   s.limits,
	}

	switch result.Status {
	case models.StatusOK:
		s.metrics.AddChargedBytes(cost.Bytes)
	case models.StatusRateLimitExceeded:
		decision.RetryAfterMs = retryAfterMs(cost.Units, result.Tokens, s.limits.RefillPerMs)
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAdmissionRateLimited,
			"ip_prefix", privacy.AnonymizeIP(clientID),
			"reason", string(result.Status),
			"units", cost.Units,
			"tokens", result.Tokens,
			"retry_after_ms", decision.RetryAfterMs,
		)
	case models.StatusDailyLimitExceeded:
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAdmissionQuotaReached,
			"ip_prefix", privacy.AnonymizeIP(clientID),
			"reason", string(result.Status),
			"bytes", cost.Bytes,
			"quota", result.Quota,
			"limit", s.limits.DailyBytesLimit,
		)
	default:
		s.metrics.ObserveDecision("unknown")
		s.logger.ErrorContext(ctx, "unknown admission status", "status", string(result.Status))
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unknown admission status %q", result.Status))
	}

	s.metrics.ObserveDecision(string(result.Status))
	return decision, nil
}

// retryAfterMs is how long until the bucket holds enough tokens for units.
func retryAfterMs(units int64, tokens, refillPerMs float64) int64 {
	missing := float64(units) - tokens
	if missing <= 0 {
		return 0
	}
	return int64(math.Ceil(missing / refillPerMs))
}
