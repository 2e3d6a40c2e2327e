package cost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"imgconvert/internal/admission/metrics"
	"imgconvert/internal/admission/models"
	"imgconvert/pkg/platform/urlguard"
	"imgconvert/pkg/requestcontext"
)

const maxParallelProbes = 8

// Estimator computes what a request will be charged before any conversion work.
type Estimator struct {
	client  *http.Client
	timeout time.Duration
	guard   func(string) error
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Estimator)

// WithHTTPClient replaces the probe client. The default client refuses to dial
// non-public addresses.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Estimator) {
		e.client = client
	}
}

// WithURLGuard replaces the pre-probe URL check.
func WithURLGuard(guard func(string) error) Option {
	return func(e *Estimator) {
		e.guard = guard
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Estimator) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) {
		e.logger = logger
	}
}

func New(probeTimeout time.Duration, opts ...Option) *Estimator {
	e := &Estimator{
		timeout: probeTimeout,
		guard: func(raw string) error {
			_, err := urlguard.Check(raw)
			return err
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           urlguard.DialContext(probeTimeout),
				TLSHandshakeTimeout:   probeTimeout,
				ResponseHeaderTimeout: probeTimeout,
				MaxIdleConnsPerHost:   2,
			},
		}
	}
	return e
}

// ForSizes charges one unit per file and the sum of their sizes. A request
// with no files is still charged one unit.
func (e *Estimator) ForSizes(sizes []int64) models.Cost {
	c := models.Cost{Units: int64(len(sizes))}
	for _, size := range sizes {
		if size > 0 {
			c.Bytes += size
		}
	}
	if c.Units == 0 {
		c.Units = 1
	}
	return c
}

// ForURLs charges one unit per URL and the sum of the remote Content-Length
// values. Probes run concurrently with a per-probe timeout and no retries; a
// URL whose size cannot be learned counts as zero bytes.
func (e *Estimator) ForURLs(ctx context.Context, urls []string) models.Cost {
	c := models.Cost{Units: int64(len(urls))}
	if c.Units == 0 {
		c.Units = 1
		return c
	}

	var total atomic.Int64
	var g errgroup.Group
	g.SetLimit(maxParallelProbes)
	for _, raw := range urls {
		g.Go(func() error {
			size, err := e.probe(ctx, raw)
			if err != nil {
				e.metrics.IncrementProbeFailures()
				e.logger.WarnContext(ctx, "size probe failed, counting as zero bytes",
					"url", raw,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				return nil
			}
			total.Add(size)
			return nil
		})
	}
	_ = g.Wait()

	c.Bytes = total.Load()
	return c
}

func (e *Estimator) probe(ctx context.Context, raw string) (int64, error) {
	if err := e.guard(raw); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("probe response has no content length")
	}
	return resp.ContentLength, nil
}
