package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgconvert/pkg/requestcontext"
)

func run(t *testing.T, inbound string) (ctxID string, headerID string) {
	t.Helper()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = requestcontext.RequestID(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		r.Header.Set(Header, inbound)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return ctxID, w.Header().Get(Header)
}

func TestMiddleware_ReusesInboundID(t *testing.T) {
	ctxID, headerID := run(t, "abc-123")
	assert.Equal(t, "abc-123", ctxID)
	assert.Equal(t, "abc-123", headerID)
}

func TestMiddleware_GeneratesID(t *testing.T) {
	ctxID, headerID := run(t, "")
	require.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, headerID)
	_, err := uuid.Parse(ctxID)
	assert.NoError(t, err)
}

func TestMiddleware_RejectsOversizedID(t *testing.T) {
	ctxID, _ := run(t, strings.Repeat("x", maxInboundLength+1))
	_, err := uuid.Parse(ctxID)
	assert.NoError(t, err)
}
