package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/metrics-sidecar/internal/config"
	"github.com/eugenenazirov/metrics-sidecar/internal/lifecycle"
)

func noEnv(string) (string, bool) { return "", false }

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(t, ":8085")

	app, err := New(cfg, zaptest.NewLogger(t), WithLookupEnv(noEnv))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if app.server == nil || app.store == nil || app.reporter == nil || app.scheduler == nil {
		t.Fatalf("expected server, store, reporter and scheduler to be initialized")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
	if want := filepath.Join(cfg.ConfigDir, "influxdb.properties"); app.Store().Path() != want {
		t.Fatalf("expected store path %s, got %s", want, app.Store().Path())
	}
	if app.Registry() == nil {
		t.Fatalf("expected a default metric registry")
	}
	if app.Reporter().State() != lifecycle.Stopped {
		t.Fatalf("expected reporter to stay stopped until Start")
	}
}

func TestNewWithoutAdminPort(t *testing.T) {
	cfg := baseTestConfig(t, "")

	app, err := New(cfg, zaptest.NewLogger(t), WithLookupEnv(noEnv), WithRegistry(metrics.NewRegistry()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if app.Server() != nil {
		t.Fatalf("expected admin server to be disabled")
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if app.AdminAddr() != "" {
		t.Fatalf("expected no admin address")
	}
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig(t, "9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func TestStartExportsAndServesAdminAPI(t *testing.T) {
	var writes atomic.Int32
	var lastBody atomic.Value
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/write" || r.URL.Query().Get("db") != "sidecar" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		writes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	cfg := baseTestConfig(t, "127.0.0.1:0")
	writeProperties(t, cfg, influxProperties(t, influx.URL, "sidecar"))

	registry := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("jobs.done", registry).Inc(3)

	app, err := New(cfg, zaptest.NewLogger(t), WithLookupEnv(noEnv), WithRegistry(registry))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer app.Stop(context.Background())

	if err := app.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	waitFor(t, func() bool { return writes.Load() > 0 })
	if body, _ := lastBody.Load().(string); !strings.Contains(body, "jobs.done count=3i") {
		t.Fatalf("unexpected line protocol body %q", body)
	}

	resp, err := http.Get("http://" + app.AdminAddr() + "/api/reporter")
	if err != nil {
		t.Fatalf("admin request failed: %v", err)
	}
	defer resp.Body.Close()
	var status lifecycle.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "running" || status.TaskID == "" {
		t.Fatalf("unexpected reporter status %+v", status)
	}

	metricsResp, err := http.Get("http://" + app.AdminAddr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer metricsResp.Body.Close()
	if !strings.Contains(readAllResponse(t, metricsResp), "metrics_sidecar_reporter_running 1") {
		t.Fatalf("expected reporter gauge in scrape output")
	}

	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if app.Reporter().State() != lifecycle.Closed {
		t.Fatalf("expected reporter closed after Stop")
	}
}

func TestStartSurvivesMissingPropertiesFile(t *testing.T) {
	cfg := baseTestConfig(t, "")

	app, err := New(cfg, zaptest.NewLogger(t), WithLookupEnv(noEnv), WithRegistry(metrics.NewRegistry()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer app.Stop(context.Background())

	st := app.Reporter().Status()
	if st.Settings == nil || st.Settings.Host != "localhost" || st.Settings.Port != 8086 {
		t.Fatalf("expected defaults to be used, got %+v", st.Settings)
	}
}

func TestFailedStartReleasesAdminListener(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	app, err := New(baseTestConfig(t, addr), zaptest.NewLogger(t), WithLookupEnv(noEnv), WithRegistry(metrics.NewRegistry()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	// A stopped app cannot start its reporter again.
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	err = app.Start()
	if !errors.Is(err, lifecycle.ErrClosed) {
		t.Fatalf("expected ErrClosed from Start, got %v", err)
	}
	if got := app.AdminAddr(); got != "" {
		t.Fatalf("expected no admin address after failed start, got %q", got)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("expected admin port to be released: %v", err)
	}
	ln.Close()

	if err := app.Start(); !errors.Is(err, lifecycle.ErrClosed) {
		t.Fatalf("expected a retried Start to fail the same way, got %v", err)
	}
}

func TestTriggerReloadRebuildsReporter(t *testing.T) {
	cfg := baseTestConfig(t, "")
	writeProperties(t, cfg, "mode=tcp\nhost=127.0.0.1\nport=1\ndatabase=first\nreportingInterval=3600\n")

	app, err := New(cfg, zaptest.NewLogger(t), WithLookupEnv(noEnv), WithRegistry(metrics.NewRegistry()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if app.TriggerReload() {
		t.Fatalf("expected trigger to be refused before Start")
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer app.Stop(context.Background())

	firstTask := app.Reporter().Status().TaskID
	writeProperties(t, cfg, "mode=tcp\nhost=127.0.0.1\nport=1\ndatabase=second\nreportingInterval=3600\n")
	if !app.TriggerReload() {
		t.Fatalf("expected trigger to be accepted")
	}

	waitFor(t, func() bool {
		st := app.Reporter().Status()
		return st.Settings != nil && st.Settings.Database == "second" && st.TaskID != firstTask
	})
}

func baseTestConfig(t *testing.T, adminPort string) config.Config {
	t.Helper()
	return config.Config{
		ConfigDir:            t.TempDir(),
		FileName:             "influxdb.properties",
		EnvPrefix:            "INFLUXDB_EXPORT",
		ReloadInitialDelay:   time.Hour,
		ReloadPeriod:         time.Hour,
		WatchFiles:           false,
		AdminPort:            adminPort,
		LogLevel:             "debug",
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    time.Second,
		WriteTimeout:         time.Second,
		IdleTimeout:          time.Second,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
	}
}

func writeProperties(t *testing.T, cfg config.Config, body string) {
	t.Helper()
	path := filepath.Join(cfg.ConfigDir, cfg.FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename properties: %v", err)
	}
}

func influxProperties(t *testing.T, rawURL, database string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return fmt.Sprintf("mode=http\nprotocol=http\nhost=%s\nport=%s\ndatabase=%s\nreportingInterval=1\n", u.Hostname(), u.Port(), database)
}

func readAllResponse(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return string(data)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
