// Package scheduler runs the process-wide configuration reload loop. Reloads
// happen on a fixed cadence after an initial delay and can be requested early
// by a file watcher, the admin API or a signal. Every reload, scheduled or
// requested, runs on the scheduler's own goroutine, so reloads never overlap.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/telemetry"
)

const (
	DefaultInitialDelay = 10 * time.Second
	DefaultPeriod       = 3 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped is returned by Start and Watch once Stop was called.
	ErrStopped = errors.New("scheduler stopped")
)

// Reloader produces the diff of one reload.
type Reloader interface {
	Reload() ([]configstore.Change, error)
}

// Dispatcher delivers a diff to subscribers.
type Dispatcher interface {
	Notify(changes []configstore.Change)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInitialDelay sets the delay before the first scheduled reload.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.initialDelay = d
		}
	}
}

// WithPeriod sets the interval between scheduled reloads.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

// WithTriggerLimiter overrides the limiter applied to early reload requests.
func WithTriggerLimiter(limiter triggerLimiter) Option {
	return func(s *Scheduler) {
		s.limiter = limiter
	}
}

// Scheduler owns the reload goroutine.
type Scheduler struct {
	reloader   Reloader
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	initialDelay time.Duration
	period       time.Duration
	limiter      triggerLimiter
	trigger      chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	watcher *fileWatcher
}

// New creates a stopped scheduler.
func New(reloader Reloader, dispatcher Dispatcher, logger *zap.Logger, metrics *telemetry.Metrics, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		reloader:     reloader,
		dispatcher:   dispatcher,
		logger:       logger,
		metrics:      metrics,
		initialDelay: DefaultInitialDelay,
		period:       DefaultPeriod,
		limiter:      newTriggerLimiter(time.Second, 1),
		trigger:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the reload goroutine. It can only be called once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true

	go s.loop()
	s.logger.Info("configuration reload scheduled",
		zap.Duration("initial_delay", s.initialDelay),
		zap.Duration("period", s.period),
	)
	return nil
}

// Trigger requests a reload ahead of the schedule. It returns false when the
// scheduler is not running, the request was rate limited or a request is
// already pending.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running || !s.limiter.Allow() {
		return false
	}

	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the reload goroutine and the file watcher and waits for both.
// An in-flight reload, including its notifications, completes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	watcher := s.watcher
	s.watcher = nil
	close(s.stopCh)
	s.mu.Unlock()

	if watcher != nil {
		watcher.close()
	}
	if wasRunning {
		<-s.doneCh
	}
	s.logger.Info("configuration reload stopped")
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()

	var ticks <-chan time.Time
	for {
		select {
		case <-s.stopCh:
			return
		case <-delay.C:
			ticker := time.NewTicker(s.period)
			defer ticker.Stop()
			ticks = ticker.C
			s.runOnce("schedule")
		case <-ticks:
			s.runOnce("schedule")
		case <-s.trigger:
			s.runOnce("trigger")
		}
	}
}

func (s *Scheduler) runOnce(source string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.ReloadFailed()
			s.logger.Error("configuration reload panicked",
				zap.String("source", source),
				zap.Any("error", rec),
			)
		}
	}()

	changes, err := s.reloader.Reload()
	if err != nil {
		s.metrics.ReloadFailed()
		return
	}

	kinds := make([]string, 0, len(changes))
	for _, c := range changes {
		kinds = append(kinds, c.Kind.String())
	}
	s.metrics.ReloadCompleted(kinds)

	if len(changes) == 0 {
		return
	}
	s.logger.Debug("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
	)
	s.dispatcher.Notify(changes)
}
