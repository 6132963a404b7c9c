package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/lifecycle"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeConfig struct {
	snap *configstore.Snapshot
}

func (f *fakeConfig) Path() string                    { return "/etc/sidecar/influxdb.properties" }
func (f *fakeConfig) Snapshot() *configstore.Snapshot { return f.snap }
func (f *fakeConfig) Settings() configstore.Settings {
	return configstore.NewView(f.snap, zap.NewNop()).Settings()
}

type fakeReporter struct {
	status lifecycle.Status
}

func (f *fakeReporter) Status() lifecycle.Status { return f.status }

type fakeTrigger struct {
	mu    sync.Mutex
	allow bool
	calls int
}

func (f *fakeTrigger) Trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.allow
}

type testDeps struct {
	config   *fakeConfig
	reporter *fakeReporter
	trigger  *fakeTrigger
	clock    *controllableClock
}

func setupTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *testDeps) {
	t.Helper()

	deps := &testDeps{
		config: &fakeConfig{snap: configstore.NewSnapshot(map[string]string{
			"host": "influx",
			"port": "8087",
			"auth": "admin:secret",
			"tags": "env=test",
		})},
		reporter: &fakeReporter{status: lifecycle.Status{State: "running", TaskID: "task-1", Sender: "http://influx:8087/hivemq"}},
		trigger:  &fakeTrigger{allow: true},
		clock:    newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)),
	}

	opts = append([]HandlerOption{WithClock(deps.clock.Now)}, opts...)
	handler := NewHandler(deps.config, deps.reporter, deps.trigger, opts...)
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false))

	return router, deps
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
}

func TestWriteJSONReportsEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"rate": math.NaN()})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body, got %q: %v", rec.Body.String(), err)
	}
	if body.Error != "Internal error" || !strings.Contains(body.Details, "NaN") {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, deps := setupTestRouter(t)
	deps.clock.Advance(90 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Reporter  string    `json:"reporter"`
		Uptime    string    `json:"uptime"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" || body.Reporter != "running" {
		t.Fatalf("unexpected health body %+v", body)
	}
	if body.Uptime != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %s", body.Uptime)
	}
	if !body.Timestamp.Equal(deps.clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", deps.clock.Now(), body.Timestamp)
	}
}

func TestGetConfigRedactsAuth(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("response leaked credentials: %s", rec.Body.String())
	}

	var body struct {
		Path     string            `json:"path"`
		Values   map[string]string `json:"values"`
		Settings struct {
			Host    string            `json:"host"`
			Port    int               `json:"port"`
			Mode    string            `json:"mode"`
			HasAuth bool              `json:"hasAuth"`
			Tags    map[string]string `json:"tags"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Path == "" {
		t.Fatalf("expected file path")
	}
	if body.Values["host"] != "influx" || body.Values["auth"] != "****" {
		t.Fatalf("unexpected values %v", body.Values)
	}
	if body.Settings.Port != 8087 || body.Settings.Mode != "http" || !body.Settings.HasAuth {
		t.Fatalf("unexpected settings %+v", body.Settings)
	}
	if body.Settings.Tags["env"] != "test" {
		t.Fatalf("expected parsed tags, got %v", body.Settings.Tags)
	}
}

func TestGetReporterStatus(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reporter", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body lifecycle.Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.State != "running" || body.TaskID != "task-1" {
		t.Fatalf("unexpected status %+v", body)
	}
}

func TestReloadEndpoint(t *testing.T) {
	router, deps := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	deps.trigger.mu.Lock()
	deps.trigger.allow = false
	deps.trigger.mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 when the trigger is refused, got %d", rec.Code)
	}
	if deps.trigger.calls != 2 {
		t.Fatalf("expected two trigger calls, got %d", deps.trigger.calls)
	}
}

func TestReloadRequiresPost(t *testing.T) {
	router, deps := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if deps.trigger.calls != 0 {
		t.Fatalf("expected no trigger for GET")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "admin_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router, _ := setupTestRouter(t, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin_test_total 1") {
		t.Fatalf("expected counter in scrape output, got %s", rec.Body.String())
	}
}

func TestMetricsEndpointWithoutHandler(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}
