package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/observability"
	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

type pingModule struct{}

func (pingModule) MountRoutes(r chi.Router) {
	r.Get("/ping/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(cfg *Config, ready func(*http.Request) error) (http.Handler, *observability.Metrics) {
	metrics := observability.NewMetrics()
	return NewRouter(RouterParams{
		Logger:     testLogger(),
		Config:     cfg,
		Modules:    []Mountable{pingModule{}},
		JobHandler: jobs.NewHandler(nil, testLogger()),
		Metrics:    metrics,
		Ready:      ready,
	}), metrics
}

func TestRouterServesModulesAndHealth(t *testing.T) {
	router, _ := newTestRouter(&Config{RateLimitPerMinute: 100}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `odyssey_http_requests_total{code="200",route="/ping/{id}"} 1`))
}

func TestRouterHealthReportsUnready(t *testing.T) {
	router, _ := newTestRouter(&Config{RateLimitPerMinute: 100}, func(*http.Request) error { return errors.New("pg down") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterRateLimitsPerIP(t *testing.T) {
	router, _ := newTestRouter(&Config{RateLimitPerMinute: 2}, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/1", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
