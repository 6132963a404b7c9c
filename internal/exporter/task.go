// Package exporter runs the periodic export task: on every tick it snapshots
// the metric registry, formats each metric and hands the batch to a sender.
package exporter

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/sender"
	"github.com/eugenenazirov/metrics-sidecar/internal/telemetry"
)

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("export task closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("export task already started")
	// ErrInvalidTask is returned by New for a missing sender/registry or a
	// non-positive interval.
	ErrInvalidTask = errors.New("export task requires a registry, a sender and a positive interval")
)

// Option configures a Task.
type Option func(*Task)

// WithClock overrides the timestamp source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Task) {
		t.now = clock
	}
}

// WithBeforeReport runs fn at the start of every tick, before the registry is
// read. It is used to refresh sampled gauges such as runtime memory stats.
func WithBeforeReport(fn func()) Option {
	return func(t *Task) {
		t.beforeReport = fn
	}
}

// Task periodically exports one registry through one sender. Ticks of a task
// never overlap.
type Task struct {
	id           string
	registry     metrics.Registry
	sender       sender.Sender
	interval     time.Duration
	tags         map[string]string
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	now          func() time.Time
	beforeReport func()

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a task that is not ticking yet. The task owns snd from now on
// and closes it in Close.
func New(registry metrics.Registry, snd sender.Sender, interval time.Duration, tags map[string]string, logger *zap.Logger, tm *telemetry.Metrics, opts ...Option) (*Task, error) {
	if registry == nil || snd == nil || interval <= 0 {
		return nil, ErrInvalidTask
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	t := &Task{
		id:       id,
		registry: registry,
		sender:   snd,
		interval: interval,
		tags:     maps.Clone(tags),
		logger:   logger.With(zap.String("task_id", id)),
		metrics:  tm,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ID identifies this task instance.
func (t *Task) ID() string { return t.id }

// Interval returns the export period.
func (t *Task) Interval() time.Duration { return t.interval }

// SenderName returns the upstream the task exports to.
func (t *Task) SenderName() string { return t.sender.Name() }

// Start begins ticking. The first export happens one interval after Start.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	go t.loop()

	t.logger.Info("export task started",
		zap.String("sender", t.sender.Name()),
		zap.Duration("interval", t.interval),
	)
	return nil
}

// Close stops the task and releases its sender. It blocks until a tick that
// is in flight has finished; no tick begins after Close returns. Calling
// Close more than once is a no-op.
func (t *Task) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	close(t.stopCh)
	t.mu.Unlock()

	if started {
		<-t.doneCh
	}
	err := t.sender.Close()
	t.logger.Info("export task closed")
	return err
}

// Report performs one export immediately and returns the send error.
func (t *Task) Report(ctx context.Context) (err error) {
	points := 0
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("export tick panicked")
			t.logger.Error("export tick panicked", zap.Any("error", rec))
		}
		t.metrics.ExportTick(points, err)
	}()

	if t.beforeReport != nil {
		t.beforeReport()
	}
	batch := Collect(t.registry, t.tags, t.now())
	points = len(batch)
	if points == 0 {
		return nil
	}
	return t.sender.Send(ctx, batch)
}

func (t *Task) loop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			// A close requested while this tick was pending wins.
			select {
			case <-t.stopCh:
				return
			default:
			}
			if err := t.Report(context.Background()); err != nil {
				t.logger.Warn("export failed", zap.String("sender", t.sender.Name()), zap.Error(err))
			}
		}
	}
}
