package logging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(prev) })
	return logs
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	logs := observe(t)

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, seen, fields["request_id"])
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestMiddlewareLogsAbortedRequests(t *testing.T) {
	logs := observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, 1, logs.FilterMessage("request aborted").Len())
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	observe(t)

	assert.Same(t, L(), WithContext(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))

	ctx := WithRequestID(context.Background(), "r1")
	assert.Equal(t, "r1", GetRequestID(ctx))
	assert.NotSame(t, L(), WithContext(ctx))
}

func TestResponseWriterCapturesSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), rw.size)
	assert.Same(t, rec, rw.Unwrap())
}

func TestFieldHelpers(t *testing.T) {
	logs := observe(t)

	Info("fields",
		String("path", "a.txt"),
		Int("n", 3),
		Int64("size", 1<<40),
		Duration("took", 2*time.Second),
		Err(errors.New("boom")))

	entries := logs.FilterMessage("fields").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a.txt", fields["path"])
	assert.Equal(t, int64(3), fields["n"])
	assert.Equal(t, int64(1<<40), fields["size"])
	assert.Equal(t, 2*time.Second, fields["took"])
	assert.Equal(t, "boom", fields["error"])
}
