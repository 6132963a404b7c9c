// Package telemetry exposes the sidecar's own operational metrics (reloads,
// notifications, sender builds, export ticks) as prometheus collectors. All
// recording methods are safe to call on a nil *Metrics.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metrics_sidecar"

// Metrics groups the sidecar's self-observability collectors.
type Metrics struct {
	Reloads            *prometheus.CounterVec
	Changes            *prometheus.CounterVec
	Notifications      prometheus.Counter
	SubscriberFailures prometheus.Counter
	SenderBuilds       *prometheus.CounterVec
	Rebuilds           prometheus.Counter
	ExportTicks        *prometheus.CounterVec
	ExportedPoints     prometheus.Counter
	ReporterRunning    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "reloads_total",
				Help:      "Configuration reload attempts by result (changed, unchanged, failed)",
			},
			[]string{"result"},
		),
		Changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "changes_total",
				Help:      "Configuration keys reported by reload diffs",
			},
			[]string{"kind"},
		),
		Notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "notifications_total",
				Help:      "Subscriber callbacks completed",
			},
		),
		SubscriberFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "subscriber_failures_total",
				Help:      "Subscriber callbacks that panicked",
			},
		),
		SenderBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reporter",
				Name:      "sender_builds_total",
				Help:      "Sender constructions by mode and result",
			},
			[]string{"mode", "result"},
		),
		Rebuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reporter",
				Name:      "rebuilds_total",
				Help:      "Reporter restarts caused by configuration changes",
			},
		),
		ExportTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "ticks_total",
				Help:      "Export ticks by result (ok, error)",
			},
			[]string{"result"},
		),
		ExportedPoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "points_total",
				Help:      "Points handed to the sender",
			},
		),
		ReporterRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reporter",
				Name:      "running",
				Help:      "Reporter state (0=stopped, 1=running)",
			},
		),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Reloads,
		m.Changes,
		m.Notifications,
		m.SubscriberFailures,
		m.SenderBuilds,
		m.Rebuilds,
		m.ExportTicks,
		m.ExportedPoints,
		m.ReporterRunning,
	}
}

// ReloadFailed counts a reload that could not read the file.
func (m *Metrics) ReloadFailed() {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues("failed").Inc()
}

// ReloadCompleted counts a successful reload and the kinds of its changes.
func (m *Metrics) ReloadCompleted(kinds []string) {
	if m == nil {
		return
	}
	if len(kinds) == 0 {
		m.Reloads.WithLabelValues("unchanged").Inc()
		return
	}
	m.Reloads.WithLabelValues("changed").Inc()
	for _, k := range kinds {
		m.Changes.WithLabelValues(k).Inc()
	}
}

func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) SubscriberFailed() {
	if m == nil {
		return
	}
	m.SubscriberFailures.Inc()
}

// SenderBuilt records the outcome of a sender construction.
func (m *Metrics) SenderBuilt(mode string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SenderBuilds.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) Rebuilt() {
	if m == nil {
		return
	}
	m.Rebuilds.Inc()
}

// ExportTick records one export attempt and the points it produced.
func (m *Metrics) ExportTick(points int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ExportTicks.WithLabelValues("error").Inc()
		return
	}
	m.ExportTicks.WithLabelValues("ok").Inc()
	m.ExportedPoints.Add(float64(points))
}

// SetRunning publishes the reporter state.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.ReporterRunning.Set(1)
		return
	}
	m.ReporterRunning.Set(0)
}
