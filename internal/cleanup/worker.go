// Package cleanup deletes provider resources older than a TTL.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"imgconvert/internal/provider"
	"imgconvert/pkg/platform/audit"
	"imgconvert/pkg/platform/sentinel"
	"imgconvert/pkg/requestcontext"
)

const listPageSize = 500

// Provider is the listing and deletion surface cleanup needs.
type Provider interface {
	List(ctx context.Context, in provider.ListInput) (*provider.ListPage, error)
	Delete(ctx context.Context, resourceType provider.ResourceType, publicIDs []string) (*provider.DeleteResult, error)
}

// AuditPublisher receives one event per completed sweep.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ErrRunning is returned when a sweep is requested while another is in progress.
var ErrRunning = errors.New("cleanup already running")

type Worker struct {
	provider  Provider
	cfg       Config
	limiter   *rate.Limiter
	listTries uint
	backoff   func() backoff.BackOff
	publisher AuditPublisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(w *Worker) {
		w.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithListRetry sets how often a listing call is tried when the provider is
// unavailable and the backoff between tries.
func WithListRetry(tries uint, newBackOff func() backoff.BackOff) Option {
	return func(w *Worker) {
		w.listTries = tries
		w.backoff = newBackOff
	}
}

func New(p Provider, cfg Config, opts ...Option) *Worker {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	w := &Worker{
		provider:  p,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		listTries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start sweeps every Interval until ctx is cancelled. Sweep errors are logged
// and the loop keeps going.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "cleanup worker started",
		"interval", w.cfg.Interval,
		"ttl", w.cfg.TTL,
		"prefix", w.cfg.Prefix,
		"dry_run", w.cfg.DryRun,
	)
	for {
		select {
		case <-ticker.C:
			if _, err := w.RunOnce(ctx, w.cfg.DryRun); err != nil && !errors.Is(err, ErrRunning) {
				w.logger.ErrorContext(ctx, "cleanup sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DryRunDefault is the configured dry run setting.
func (w *Worker) DryRunDefault() bool {
	return w.cfg.DryRun
}

// RunOnce lists every image and raw resource under the prefix, selects those
// older than TTL and, unless dryRun, deletes them in paced batches. A listing
// failure aborts the sweep; delete failures are counted and reported.
func (w *Worker) RunOnce(ctx context.Context, dryRun bool) (*Result, error) {
	if !w.mu.TryLock() {
		return nil, ErrRunning
	}
	defer w.mu.Unlock()

	start := w.now()
	res := &Result{DryRun: dryRun, Candidates: []Candidate{}, Errors: []string{}}

	for _, rt := range provider.CleanupTypes {
		candidates, err := w.expired(ctx, rt, start)
		if err != nil {
			w.metrics.ObserveRun(nil, err)
			return nil, err
		}
		res.Candidates = append(res.Candidates, candidates...)
		if dryRun || len(candidates) == 0 {
			continue
		}
		w.delete(ctx, rt, candidates, res)
	}

	w.metrics.ObserveRun(res, nil)
	w.logger.InfoContext(ctx, "cleanup sweep completed",
		"dry_run", dryRun,
		"candidates", len(res.Candidates),
		"deleted", res.Deleted,
		"failed", res.Failed,
		"duration", w.now().Sub(start),
		"request_id", requestcontext.RequestID(ctx),
	)
	w.emit(ctx, res)
	return res, nil
}

func (w *Worker) expired(ctx context.Context, rt provider.ResourceType, now time.Time) ([]Candidate, error) {
	var out []Candidate
	in := provider.ListInput{ResourceType: rt, Prefix: w.cfg.Prefix, MaxResults: listPageSize}
	for {
		page, err := w.list(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list %s resources: %w", rt, err)
		}
		for _, a := range page.Resources {
			if a.CreatedAt.IsZero() || now.Sub(a.CreatedAt) <= w.cfg.TTL {
				continue
			}
			out = append(out, Candidate{
				PublicID:     a.PublicID,
				ResourceType: rt,
				SecureURL:    a.SecureURL,
				CreatedAt:    a.CreatedAt,
				Bytes:        a.Bytes,
			})
		}
		if page.NextCursor == "" {
			return out, nil
		}
		in.Cursor = page.NextCursor
	}
}

// list retries only while the provider is unavailable.
func (w *Worker) list(ctx context.Context, in provider.ListInput) (*provider.ListPage, error) {
	return backoff.Retry(ctx, func() (*provider.ListPage, error) {
		page, err := w.provider.List(ctx, in)
		if err != nil && !errors.Is(err, sentinel.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return page, err
	}, backoff.WithBackOff(w.backoff()), backoff.WithMaxTries(w.listTries))
}

func (w *Worker) delete(ctx context.Context, rt provider.ResourceType, candidates []Candidate, res *Result) {
	for i := 0; i < len(candidates); i += w.cfg.BatchSize {
		batch := candidates[i:min(i+w.cfg.BatchSize, len(candidates))]
		ids := make([]string, len(batch))
		for j, c := range batch {
			ids[j] = c.PublicID
		}

		if err := w.limiter.Wait(ctx); err != nil {
			res.Failed += len(candidates) - i
			res.Errors = append(res.Errors, fmt.Sprintf("Batch delete error: %v", err))
			return
		}

		out, err := w.provider.Delete(ctx, rt, ids)
		if err != nil {
			res.Failed += len(ids)
			res.Errors = append(res.Errors, fmt.Sprintf("Batch delete error: %v", err))
			w.logger.WarnContext(ctx, "cleanup batch delete failed", "resource_type", rt, "batch", len(ids), "error", err)
			continue
		}
		res.Deleted += len(out.Deleted)
		if len(out.NotFound) > 0 {
			res.Failed += len(out.NotFound)
			res.Errors = append(res.Errors, "Not found: "+strings.Join(out.NotFound, ", "))
		}
	}
}

func (w *Worker) emit(ctx context.Context, res *Result) {
	if w.publisher == nil {
		return
	}
	err := w.publisher.Emit(ctx, audit.Event{
		Action:    audit.EventCleanupCompleted,
		Subject:   "cleanup:" + w.cfg.Prefix,
		RequestID: requestcontext.RequestID(ctx),
		Attributes: map[string]any{
			"dry_run":    res.DryRun,
			"candidates": len(res.Candidates),
			"deleted":    res.Deleted,
			"failed":     res.Failed,
		},
	})
	if err != nil {
		w.logger.WarnContext(ctx, "failed to emit audit event", "event", audit.EventCleanupCompleted, "error", err)
	}
}
