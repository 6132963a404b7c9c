// Package lifecycle owns the running export task and rebuilds it whenever
// the export configuration changes.
//
// A Lifecycle is Stopped (no task), Running (one task bound to one sender) or
// Closed (terminal). Every transition runs under one lock and the old task is
// closed, which waits for its in-flight tick, before the next one is started.
// At most one task is ever ticking.
package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/exporter"
	"github.com/eugenenazirov/metrics-sidecar/internal/notifier"
	"github.com/eugenenazirov/metrics-sidecar/internal/sender"
	"github.com/eugenenazirov/metrics-sidecar/internal/telemetry"
)

// ErrClosed is returned by transitions requested after Shutdown.
var ErrClosed = errors.New("reporter lifecycle closed")

// State of the reporter.
type State int

const (
	Stopped State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// SettingsSource supplies the export settings of the current snapshot.
type SettingsSource interface {
	Settings() configstore.Settings
}

// Subscriber is the part of the change notifier the lifecycle needs.
type Subscriber interface {
	SubscribeAll(keys []string, cb notifier.Callback) error
}

// SenderFactory builds a sender for one configuration.
type SenderFactory func(cfg sender.Config) (sender.Sender, error)

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithSenderFactory replaces sender.New.
func WithSenderFactory(f SenderFactory) Option {
	return func(l *Lifecycle) {
		if f != nil {
			l.newSender = f
		}
	}
}

// WithTaskOptions are passed to every export task the lifecycle builds.
func WithTaskOptions(opts ...exporter.Option) Option {
	return func(l *Lifecycle) {
		l.taskOpts = append(l.taskOpts, opts...)
	}
}

// WithClock overrides the time source used for status timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = clock
	}
}

// Status describes the reporter for the admin API.
type Status struct {
	State     string                `json:"state"`
	TaskID    string                `json:"taskId,omitempty"`
	Sender    string                `json:"sender,omitempty"`
	Interval  string                `json:"interval,omitempty"`
	StartedAt *time.Time            `json:"startedAt,omitempty"`
	LastError string                `json:"lastError,omitempty"`
	Rebuilds  int                   `json:"rebuilds"`
	Settings  *configstore.Settings `json:"settings,omitempty"`
}

// Lifecycle drives the Stopped/Running/Closed state machine.
type Lifecycle struct {
	source    SettingsSource
	registry  metrics.Registry
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	newSender SenderFactory
	taskOpts  []exporter.Option
	now       func() time.Time

	// transition serializes Start, Reconfigure and Shutdown. It is held
	// while an old task drains, so status reads use mu instead.
	transition sync.Mutex

	mu        sync.RWMutex
	state     State
	task      *exporter.Task
	attempted *configstore.Settings
	lastErr   error
	startedAt time.Time
	rebuilds  int
}

// New creates a stopped lifecycle.
func New(source SettingsSource, registry metrics.Registry, logger *zap.Logger, tm *telemetry.Metrics, opts ...Option) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lifecycle{
		source:    source,
		registry:  registry,
		logger:    logger,
		metrics:   tm,
		newSender: sender.New,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers Reconfigure for every export-affecting key.
func (l *Lifecycle) Subscribe(n Subscriber) error {
	return n.SubscribeAll(configstore.ExportKeys, l.onChange)
}

func (l *Lifecycle) onChange(change configstore.Change) {
	l.logger.Debug("export configuration changed",
		zap.String("key", change.Key),
		zap.Stringer("kind", change.Kind),
	)
	if err := l.Reconfigure(); err != nil && !errors.Is(err, ErrClosed) {
		l.logger.Error("reporter reconfiguration failed", zap.Error(err))
	}
}

// Start performs the initial transition from Stopped. A sender that cannot
// be built is logged and leaves the lifecycle Stopped; only ErrClosed is
// returned. Starting a running lifecycle is a no-op.
func (l *Lifecycle) Start() error {
	l.transition.Lock()
	defer l.transition.Unlock()

	switch l.State() {
	case Closed:
		return ErrClosed
	case Running:
		return nil
	}
	l.startLocked(l.source.Settings())
	return nil
}

// Reconfigure closes the running task and starts a new one from the current
// settings. Settings equal to the running (or last failed) attempt are not
// rebuilt, so a reload that changes several keys restarts the reporter once.
func (l *Lifecycle) Reconfigure() error {
	l.transition.Lock()
	defer l.transition.Unlock()

	if l.State() == Closed {
		return ErrClosed
	}

	settings := l.source.Settings()
	l.mu.RLock()
	attempted := l.attempted
	l.mu.RUnlock()
	if attempted != nil && attempted.Equal(settings) {
		l.logger.Debug("export settings unchanged, keeping reporter")
		return nil
	}

	l.logger.Info("restarting reporter")
	l.stopLocked()
	l.startLocked(settings)

	l.mu.Lock()
	l.rebuilds++
	l.mu.Unlock()
	l.metrics.Rebuilt()
	return nil
}

// Shutdown stops the running task without rebuilding. It is terminal and
// idempotent.
func (l *Lifecycle) Shutdown() error {
	l.transition.Lock()
	defer l.transition.Unlock()

	if l.State() == Closed {
		return nil
	}
	l.stopLocked()

	l.mu.Lock()
	l.state = Closed
	l.mu.Unlock()
	l.logger.Info("reporter shut down")
	return nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Status returns a point-in-time description of the reporter. Credentials in
// the settings are redacted.
func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{State: l.state.String(), Rebuilds: l.rebuilds}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	if l.attempted != nil {
		redacted := l.attempted.Redacted()
		st.Settings = &redacted
	}
	if l.task != nil {
		startedAt := l.startedAt
		st.TaskID = l.task.ID()
		st.Sender = l.task.SenderName()
		st.Interval = l.task.Interval().String()
		st.StartedAt = &startedAt
	}
	return st
}

// startLocked builds a sender and a task for settings and starts ticking.
// Failures are recorded and leave the lifecycle Stopped.
func (l *Lifecycle) startLocked(settings configstore.Settings) {
	l.mu.Lock()
	l.attempted = &settings
	l.mu.Unlock()

	snd, err := l.newSender(sender.ConfigFromSettings(settings))
	l.metrics.SenderBuilt(settings.Mode, err)
	if err != nil {
		l.logger.Error("could not create metrics sender",
			zap.String("mode", settings.Mode),
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
		)
		l.logger.Debug("metrics sender failure cause", zap.Error(err))
		l.setFailed(err)
		return
	}

	task, err := exporter.New(l.registry, snd, settings.ReportingInterval, settings.Tags, l.logger.Named("exporter"), l.metrics, l.taskOpts...)
	if err == nil {
		err = task.Start()
	}
	if err != nil {
		_ = snd.Close()
		l.logger.Error("could not start export task", zap.Error(err))
		l.setFailed(err)
		return
	}

	l.mu.Lock()
	l.task = task
	l.state = Running
	l.lastErr = nil
	l.startedAt = l.now()
	l.mu.Unlock()
	l.metrics.SetRunning(true)

	l.logger.Info("reporter started",
		zap.String("task_id", task.ID()),
		zap.String("sender", task.SenderName()),
		zap.Duration("interval", settings.ReportingInterval),
	)
}

// stopLocked closes the running task and waits for it to finish.
func (l *Lifecycle) stopLocked() {
	l.mu.RLock()
	task := l.task
	l.mu.RUnlock()
	if task == nil {
		return
	}

	if err := task.Close(); err != nil {
		l.logger.Warn("closing metrics sender failed", zap.String("task_id", task.ID()), zap.Error(err))
	}

	l.mu.Lock()
	l.task = nil
	l.state = Stopped
	l.mu.Unlock()
	l.metrics.SetRunning(false)
}

func (l *Lifecycle) setFailed(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.state = Stopped
	l.mu.Unlock()
	l.metrics.SetRunning(false)
}
