// Package e2e drives the assembled HTTP router through godog scenarios. The
// counter store is miniredis and the provider is the in-memory one, so the
// scenarios need no external services.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"imgconvert/e2e/steps/common"
	"imgconvert/internal/admission/cost"
	admissionmw "imgconvert/internal/admission/middleware"
	"imgconvert/internal/admission/models"
	admissionsvc "imgconvert/internal/admission/service"
	"imgconvert/internal/admission/store/counter"
	converthandler "imgconvert/internal/convert/handler"
	convertsvc "imgconvert/internal/convert/service"
	"imgconvert/internal/platform/metrics"
	"imgconvert/internal/provider/memory"
	httptransport "imgconvert/internal/transport/http"
	"imgconvert/internal/upload"
)

// TestContext is the per-scenario state shared by every step package.
type TestContext struct {
	mu  sync.Mutex
	now time.Time

	mr       *miniredis.Miniredis
	redis    *redis.Client
	server   *httptest.Server
	provider *memory.Provider
	limits   models.Limits

	batch []common.Response
}

func NewTestContext() *TestContext {
	return &TestContext{}
}

// Reset starts a fresh counter store and server with default limits.
func (tc *TestContext) Reset() error {
	tc.Close()
	mr, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("start miniredis: %w", err)
	}
	tc.mr = mr
	tc.redis = redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	tc.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tc.batch = nil
	tc.limits = models.Limits{
		Capacity:        5,
		RefillPerMs:     0.005,
		DailyBytesLimit: 1610612736,
		TTLSeconds:      90000,
	}
	return tc.startServer()
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.redis != nil {
		_ = tc.redis.Close()
		tc.redis = nil
	}
	if tc.mr != nil {
		tc.mr.Close()
		tc.mr = nil
	}
}

func (tc *TestContext) startServer() error {
	if tc.server != nil {
		tc.server.Close()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	admitter, err := admissionsvc.New(counter.New(tc.redis), tc.limits, admissionsvc.WithLogger(logger))
	if err != nil {
		return err
	}
	tc.provider = memory.New("love-u-convert", memory.WithClock(tc.Now))
	converter, err := convertsvc.New(tc.provider, convertsvc.WithLogger(logger))
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		CORSOrigin:        "*",
		TrustProxyHeaders: true,
		Now:               tc.Now,
	}, httptransport.Dependencies{
		Upload:    upload.New(100<<20, 20, logger),
		Admission: admissionmw.New(admitter, cost.New(time.Second, cost.WithLogger(logger)), logger),
		Convert:   converthandler.New(converter, logger),
		Health:    httptransport.NewHealthHandler(nil, logger),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Logger:    logger,
	})
	tc.server = httptest.NewServer(router)
	return nil
}

// Now is the scenario clock.
func (tc *TestContext) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *TestContext) SetClock(t time.Time) {
	tc.mu.Lock()
	tc.now = t
	tc.mu.Unlock()
}

func (tc *TestContext) Advance(d time.Duration) {
	tc.mu.Lock()
	tc.now = tc.now.Add(d)
	tc.mu.Unlock()
}

// SetLimits rebuilds the server with new admission parameters. Counters
// already in the store are kept.
func (tc *TestContext) SetLimits(capacity int64, perSecond float64, dailyBytes int64) error {
	tc.limits.Capacity = capacity
	tc.limits.RefillPerMs = perSecond / 1000
	tc.limits.DailyBytesLimit = dailyBytes
	return tc.startServer()
}

// StopCounterStore makes every later admission check fail.
func (tc *TestContext) StopCounterStore() {
	tc.mr.Close()
}

// ConvertedFiles counts the files the provider has accepted.
func (tc *TestContext) ConvertedFiles() int {
	return tc.provider.Len()
}

// BeginBatch starts a new group of responses for the next assertions.
func (tc *TestContext) BeginBatch() {
	tc.batch = nil
}

func (tc *TestContext) Batch() []common.Response {
	return tc.batch
}

func (tc *TestContext) Last() (common.Response, error) {
	if len(tc.batch) == 0 {
		return common.Response{}, fmt.Errorf("no request has been sent")
	}
	return tc.batch[len(tc.batch)-1], nil
}

// Upload posts one multipart request carrying one file per size.
func (tc *TestContext) Upload(clientIP string, sizes []int64) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, size := range sizes {
		part, err := mw.CreateFormFile("files", fmt.Sprintf("file-%d.png", i+1))
		if err != nil {
			return err
		}
		if _, err := part.Write(bytes.Repeat([]byte{'x'}, int(size))); err != nil {
			return err
		}
	}
	if err := mw.WriteField("targetFormat", "webp"); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tc.server.URL+"/api/convert", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Forwarded-For", clientIP)
	return tc.send(req)
}

// ConvertURLs posts a URL conversion request.
func (tc *TestContext) ConvertURLs(clientIP string, urls []string) error {
	payload, err := json.Marshal(map[string]any{"urls": urls, "targetFormat": "png"})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+"/api/convert/url", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", clientIP)
	return tc.send(req)
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.batch = append(tc.batch, common.Response{Status: resp.StatusCode, Header: resp.Header, Body: body})
	return nil
}
