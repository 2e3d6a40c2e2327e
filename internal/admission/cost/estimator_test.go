package cost

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"imgconvert/internal/admission/metrics"
	"imgconvert/internal/admission/models"
)

func newProbeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	sized := func(n string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Length", n)
			w.WriteHeader(http.StatusOK)
		}
	}
	mux.HandleFunc("/small.png", sized("100"))
	mux.HandleFunc("/large.png", sized("2048"))
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.Header().Set("Content-Length", "999")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEstimator(srv *httptest.Server, m *metrics.Metrics) *Estimator {
	return New(100*time.Millisecond,
		WithHTTPClient(srv.Client()),
		WithURLGuard(func(string) error { return nil }),
		WithMetrics(m),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestForSizes(t *testing.T) {
	e := New(time.Second)

	assert.Equal(t, models.Cost{Units: 3, Bytes: 600}, e.ForSizes([]int64{100, 200, 300}))
	assert.Equal(t, models.Cost{Units: 1, Bytes: 0}, e.ForSizes(nil), "indeterminate requests cost one unit")
	assert.Equal(t, models.Cost{Units: 2, Bytes: 10}, e.ForSizes([]int64{10, -1}))
}

func TestForURLs_SumsContentLength(t *testing.T) {
	srv := newProbeServer(t)
	e := newTestEstimator(srv, nil)

	c := e.ForURLs(context.Background(), []string{srv.URL + "/small.png", srv.URL + "/large.png"})
	assert.Equal(t, models.Cost{Units: 2, Bytes: 2148}, c)
}

func TestForURLs_FailedProbesCountAsZero(t *testing.T) {
	srv := newProbeServer(t)
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEstimator(srv, m)

	start := time.Now()
	c := e.ForURLs(context.Background(), []string{
		srv.URL + "/small.png",
		srv.URL + "/missing.png",
		srv.URL + "/slow.png",
		"http://127.0.0.1:1/refused.png",
	})

	assert.Equal(t, models.Cost{Units: 4, Bytes: 100}, c)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ProbeFailures))
	assert.Less(t, time.Since(start), time.Second, "slow probe is bounded by the timeout")
}

func TestForURLs_GuardRejectsWithoutProbing(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Header().Set("Content-Length", "50")
	}))
	defer srv.Close()

	e := New(time.Second, WithHTTPClient(srv.Client()), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	c := e.ForURLs(context.Background(), []string{srv.URL + "/a.png"})

	assert.Equal(t, models.Cost{Units: 1, Bytes: 0}, c)
	assert.Zero(t, hits, "loopback URL is never probed")
}

func TestForURLs_Empty(t *testing.T) {
	e := New(time.Second)
	assert.Equal(t, models.Cost{Units: 1}, e.ForURLs(context.Background(), nil))
}
