package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"imgconvert/internal/cleanup"
	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/testutil"
)

type stubRunner struct {
	dryRunDefault bool
	gotDryRun     *bool
	res           *cleanup.Result
	err           error
}

func (s *stubRunner) RunOnce(_ context.Context, dryRun bool) (*cleanup.Result, error) {
	s.gotDryRun = &dryRun
	return s.res, s.err
}

func (s *stubRunner) DryRunDefault() bool {
	return s.dryRunDefault
}

func serve(t *testing.T, runner *stubRunner, target string) *http.Response {
	t.Helper()
	h := New(runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rr := testutil.DoRequest(http.HandlerFunc(h.HandleRun), testutil.NewRequest(t, http.MethodPost, target))
	return rr.Result()
}

func TestHandleRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	testutil.Given(t, "no dryRun parameter", func(t *testing.T) {
		runner := &stubRunner{dryRunDefault: true, res: &cleanup.Result{DryRun: true, Candidates: []cleanup.Candidate{}, Errors: []string{}}}
		rr := testutil.DoRequest(http.HandlerFunc(New(runner, logger).HandleRun), testutil.NewRequest(t, http.MethodPost, "/admin/cleanup"))

		testutil.Then(t, "the configured default applies", func(t *testing.T) {
			testutil.AssertStatusOK(t, rr)
			assert.True(t, *runner.gotDryRun)
			body := testutil.UnmarshalResponse[httputil.SuccessResponse](t, rr)
			assert.True(t, body.Success)
			assert.Equal(t, map[string]any{
				"dryRun":     true,
				"deleted":    float64(0),
				"failed":     float64(0),
				"candidates": []any{},
				"errors":     []any{},
			}, body.Data)
		})
	})

	testutil.When(t, "dryRun=false is passed", func(t *testing.T) {
		runner := &stubRunner{dryRunDefault: true, res: &cleanup.Result{}}
		resp := serve(t, runner, "/admin/cleanup?dryRun=false")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, *runner.gotDryRun)
	})

	testutil.When(t, "the flag is not a boolean", func(t *testing.T) {
		runner := &stubRunner{}
		rr := testutil.DoRequest(http.HandlerFunc(New(runner, logger).HandleRun), testutil.NewRequest(t, http.MethodPost, "/admin/cleanup?dryRun=maybe"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
		assert.Nil(t, runner.gotDryRun)
	})

	testutil.When(t, "a sweep is already running", func(t *testing.T) {
		rr := testutil.DoRequest(http.HandlerFunc(New(&stubRunner{err: cleanup.ErrRunning}, logger).HandleRun),
			testutil.NewRequest(t, http.MethodPost, "/admin/cleanup"))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
	})

	testutil.When(t, "the provider fails", func(t *testing.T) {
		resp := serve(t, &stubRunner{err: errors.New("list image resources: unavailable")}, "/admin/cleanup")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}
