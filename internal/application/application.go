package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/api"
	"github.com/eugenenazirov/metrics-sidecar/internal/config"
	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/exporter"
	"github.com/eugenenazirov/metrics-sidecar/internal/lifecycle"
	"github.com/eugenenazirov/metrics-sidecar/internal/notifier"
	"github.com/eugenenazirov/metrics-sidecar/internal/scheduler"
	"github.com/eugenenazirov/metrics-sidecar/internal/telemetry"
)

// Option configures App.
type Option func(*options)

type options struct {
	registry  metrics.Registry
	lookupEnv func(string) (string, bool)
}

// WithRegistry exports reg instead of a private registry holding runtime
// memory statistics.
func WithRegistry(reg metrics.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLookupEnv replaces os.LookupEnv for the export overrides.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookupEnv = lookup
	}
}

// App encapsulates the sidecar's components and the admin HTTP server.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *configstore.Store
	notifier  *notifier.Notifier
	reporter  *lifecycle.Lifecycle
	scheduler *scheduler.Scheduler
	registry  metrics.Registry
	telemetry *telemetry.Metrics
	server    *http.Server

	mu         sync.Mutex
	started    bool
	subscribed bool
	listener   net.Listener
}

// New initializes the application with all dependencies from the provided
// configuration. Nothing runs until Start.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tm, err := telemetry.New(promRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to register telemetry: %w", err)
	}

	lookupEnv := o.lookupEnv
	if lookupEnv == nil {
		lookupEnv = cfg.LookupEnv
	}
	storeOpts := []configstore.Option{
		configstore.WithEnvPrefix(cfg.EnvPrefix),
		configstore.WithLookupEnv(lookupEnv),
	}
	store := configstore.New(cfg.ConfigDir, cfg.FileName, logger.Named("configstore"), storeOpts...)

	var taskOpts []exporter.Option
	registry := o.registry
	if registry == nil {
		registry = metrics.NewRegistry()
		metrics.RegisterRuntimeMemStats(registry)
		taskOpts = append(taskOpts, exporter.WithBeforeReport(func() {
			metrics.CaptureRuntimeMemStatsOnce(registry)
		}))
	}

	n := notifier.New(logger.Named("notifier"), tm)
	reporter := lifecycle.New(store, registry, logger.Named("reporter"), tm, lifecycle.WithTaskOptions(taskOpts...))
	sched := scheduler.New(store, n, logger.Named("scheduler"), tm,
		scheduler.WithInitialDelay(cfg.ReloadInitialDelay),
		scheduler.WithPeriod(cfg.ReloadPeriod),
	)

	app := &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		notifier:  n,
		reporter:  reporter,
		scheduler: sched,
		registry:  registry,
		telemetry: tm,
	}

	if cfg.AdminEnabled() {
		handler := api.NewHandler(store, reporter, sched,
			api.WithMetricsHandler(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
		)
		router := api.NewRouter(handler, logger.Named("admin"),
			api.WithLogging(cfg.EnableRequestLogging),
			api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		)
		app.server = NewServer(cfg, router)
	}

	return app, nil
}

// NewServer creates and configures the admin HTTP server from the provided
// configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.AdminPort
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start is the host start hook: it loads the properties file, starts the
// reporter, subscribes it to export key changes, schedules reloads and
// serves the admin API. A missing or unreadable properties file is not fatal;
// the defaults are used until a reload succeeds.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("application already started")
	}

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
		}
		a.listener = ln
	}
	a.started = true

	_ = a.store.Load()

	if !a.subscribed {
		if err := a.reporter.Subscribe(a.notifier); err != nil {
			return a.abortStart(fmt.Errorf("subscribe reporter: %w", err))
		}
		a.subscribed = true
	}
	if err := a.reporter.Start(); err != nil {
		return a.abortStart(fmt.Errorf("start reporter: %w", err))
	}
	if err := a.scheduler.Start(); err != nil {
		return a.abortStart(fmt.Errorf("start reload scheduler: %w", err))
	}
	if a.cfg.WatchFiles {
		if err := a.scheduler.Watch(a.store.Path()); err != nil {
			a.logger.Warn("file watching disabled, relying on the reload schedule", zap.Error(err))
		}
	}

	if a.listener != nil {
		ln := a.listener
		go func() {
			a.logger.Info("admin server listening", zap.String("addr", ln.Addr().String()))
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("admin server error", zap.Error(err))
			}
		}()
	}
	return nil
}

// abortStart releases the admin listener and marks the app as not started.
// Callers hold a.mu.
func (a *App) abortStart(err error) error {
	if a.listener != nil {
		if closeErr := a.listener.Close(); closeErr != nil {
			a.logger.Warn("closing admin listener failed", zap.Error(closeErr))
		}
		a.listener = nil
	}
	a.started = false
	return err
}

// Stop is the host stop hook: reloads stop first, then the reporter is shut
// down (waiting for an in-flight export) and finally the admin server drains.
func (a *App) Stop(ctx context.Context) error {
	a.scheduler.Stop()
	if err := a.reporter.Shutdown(); err != nil {
		a.logger.Warn("reporter shutdown failed", zap.Error(err))
	}

	if a.server == nil {
		return nil
	}
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := a.server.Close(); closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}
	return nil
}

// TriggerReload requests a reload ahead of the schedule.
func (a *App) TriggerReload() bool {
	return a.scheduler.Trigger()
}

// Registry returns the metric registry that is exported.
func (a *App) Registry() metrics.Registry {
	return a.registry
}

// Store returns the export configuration store.
func (a *App) Store() *configstore.Store {
	return a.store
}

// Reporter returns the reporter lifecycle.
func (a *App) Reporter() *lifecycle.Lifecycle {
	return a.reporter
}

// Server returns the admin HTTP server, or nil when it is disabled.
func (a *App) Server() *http.Server {
	return a.server
}

// AdminAddr returns the address the admin server listens on once started.
func (a *App) AdminAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}
