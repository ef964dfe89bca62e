package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

type staticFetcher struct{ pool []entity.Provider }

func (f staticFetcher) Fetch(ctx context.Context, locale string) ([]entity.Provider, error) {
	return append([]entity.Provider(nil), f.pool...), nil
}

func newTestRouter(t *testing.T) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	sugar := zap.New(core).Sugar()
	reg := prometheus.NewRegistry()
	metrics := directory.NewMetrics(reg)
	svc := directory.NewService(directory.DefaultConfig(), staticFetcher{}, nil, metrics, sugar)
	t.Cleanup(svc.Shutdown)
	return RegisterRoutes(sugar, directory.NewHandler(svc, nil, sugar), reg), logs
}

func TestHealth(t *testing.T) {
	h, logs := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/directory/sessions", strings.NewReader(`{"locale":"de"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["session_id"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "directory_sessions 1")
}

func TestLoggingWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rec}
	var w http.ResponseWriter = lrw
	f, ok := w.(http.Flusher)
	require.True(t, ok)
	_, _ = w.Write([]byte("data: x\n\n"))
	f.Flush()
	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, lrw.status)
	assert.Equal(t, 9, lrw.size)
}
