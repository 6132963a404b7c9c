// Package notifier keeps the ordered subscriber lists per configuration key
// and fans out reload diffs to them.
package notifier

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
	"github.com/eugenenazirov/metrics-sidecar/internal/telemetry"
)

// ErrInvalidSubscription is returned when the key or callback is empty.
var ErrInvalidSubscription = errors.New("subscription requires a key and a callback")

// Callback receives one change for a key it subscribed to.
type Callback func(change configstore.Change)

// Notifier is an append-only registry mapping keys to callbacks. Subscribe and
// Notify may run concurrently.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string][]Callback

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New creates an empty registry.
func New(logger *zap.Logger, metrics *telemetry.Metrics) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subscribers: make(map[string][]Callback),
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscribe appends cb to the subscribers of key. Registration order is the
// notification order.
func (n *Notifier) Subscribe(key string, cb Callback) error {
	if key == "" || cb == nil {
		return ErrInvalidSubscription
	}

	n.mu.Lock()
	n.subscribers[key] = append(n.subscribers[key], cb)
	n.mu.Unlock()
	return nil
}

// SubscribeAll registers the same callback for every key, in order.
func (n *Notifier) SubscribeAll(keys []string, cb Callback) error {
	for _, key := range keys {
		if err := n.Subscribe(key, cb); err != nil {
			return fmt.Errorf("subscribe %q: %w", key, err)
		}
	}
	return nil
}

// SubscriberCount returns the number of callbacks registered for key.
func (n *Notifier) SubscriberCount(key string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[key])
}

// Notify invokes the subscribers of every change, one key at a time and one
// subscriber at a time. The subscriber list of a key is copied before the
// callbacks run, so a callback added meanwhile is not invoked for this change.
// A panicking callback is logged and does not stop the others.
func (n *Notifier) Notify(changes []configstore.Change) {
	for _, change := range changes {
		for _, cb := range n.callbacks(change.Key) {
			n.invoke(change, cb)
		}
	}
}

func (n *Notifier) callbacks(key string) []Callback {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.subscribers[key])
}

func (n *Notifier) invoke(change configstore.Change, cb Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			n.metrics.SubscriberFailed()
			n.logger.Error("configuration subscriber failed",
				zap.String("key", change.Key),
				zap.Stringer("kind", change.Kind),
				zap.Any("error", rec),
			)
		}
	}()
	cb(change)
	n.metrics.Notified()
}
