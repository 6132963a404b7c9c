package exporter

import (
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/eugenenazirov/metrics-sidecar/internal/sender"
)

func fieldMap(t *testing.T, p sender.Point) map[string]any {
	t.Helper()
	out := make(map[string]any, len(p.Fields))
	for _, f := range p.Fields {
		out[f.Key] = f.Value
	}
	return out
}

func fieldKeys(p sender.Point) []string {
	keys := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

func TestCollectFormatsEveryKind(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("counter", registry).Inc(7)
	metrics.GetOrRegisterGauge("gauge", registry).Update(42)
	metrics.GetOrRegisterGaugeFloat64("gauge.float", registry).Update(1.5)
	h := metrics.GetOrRegisterHistogram("histogram", registry, metrics.NewUniformSample(100))
	h.Update(10)
	h.Update(20)
	metrics.GetOrRegisterMeter("meter", registry).Mark(3)
	timer := metrics.GetOrRegisterTimer("timer", registry)
	timer.Update(10 * time.Millisecond)
	timer.Update(30 * time.Millisecond)

	now := time.Unix(1700000000, 0)
	points := Collect(registry, map[string]string{"env": "test"}, now)

	byName := make(map[string]sender.Point, len(points))
	for _, p := range points {
		byName[p.Measurement] = p
		if p.Tags["env"] != "test" {
			t.Fatalf("expected static tag on %s", p.Measurement)
		}
		if !p.Time.Equal(now) {
			t.Fatalf("expected timestamp on %s", p.Measurement)
		}
	}
	if len(byName) != 6 {
		t.Fatalf("expected 6 points, got %d", len(byName))
	}

	if got := fieldMap(t, byName["counter"])["count"]; got != int64(7) {
		t.Fatalf("unexpected counter value %v", got)
	}
	if got := fieldMap(t, byName["gauge"])["value"]; got != int64(42) {
		t.Fatalf("unexpected gauge value %v", got)
	}
	if got := fieldMap(t, byName["gauge.float"])["value"]; got != 1.5 {
		t.Fatalf("unexpected float gauge value %v", got)
	}

	hist := fieldMap(t, byName["histogram"])
	if hist["count"] != int64(2) || hist["min"] != int64(10) || hist["max"] != int64(20) {
		t.Fatalf("unexpected histogram fields %v", hist)
	}

	meterKeys := fieldKeys(byName["meter"])
	if len(meterKeys) != len(MeterFields) {
		t.Fatalf("expected meter fields %v, got %v", MeterFields, meterKeys)
	}
	for i, k := range MeterFields {
		if meterKeys[i] != k {
			t.Fatalf("expected meter fields %v, got %v", MeterFields, meterKeys)
		}
	}

	timerFields := fieldMap(t, byName["timer"])
	for _, k := range TimerFields {
		if _, ok := timerFields[k]; !ok {
			t.Fatalf("missing timer field %q in %v", k, timerFields)
		}
	}
	if len(timerFields) != len(TimerFields) {
		t.Fatalf("expected exactly %d timer fields, got %d", len(TimerFields), len(timerFields))
	}
	if timerFields["max"] != 30.0 || timerFields["min"] != 10.0 {
		t.Fatalf("expected timer durations in milliseconds, got min=%v max=%v", timerFields["min"], timerFields["max"])
	}
	if timerFields["mean"] != 20.0 {
		t.Fatalf("expected timer mean 20ms, got %v", timerFields["mean"])
	}
}

func TestCollectIncludesIdleMetricsSortedByName(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("b", registry)
	metrics.GetOrRegisterCounter("a", registry)

	first := Collect(registry, nil, time.Now())
	second := Collect(registry, nil, time.Now())

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected idle counters every time, got %d and %d", len(first), len(second))
	}
	if first[0].Measurement != "a" || first[1].Measurement != "b" {
		t.Fatalf("expected points sorted by name, got %s, %s", first[0].Measurement, first[1].Measurement)
	}
}

func TestCollectSkipsUnknownMetricTypes(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry()
	if err := registry.Register("health", metrics.NewHealthcheck(func(metrics.Healthcheck) {})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if points := Collect(registry, nil, time.Now()); len(points) != 0 {
		t.Fatalf("expected healthchecks to be skipped, got %d points", len(points))
	}
}

func TestCollectCopiesTagsPerPoint(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("a", registry)
	metrics.GetOrRegisterCounter("b", registry)

	points := Collect(registry, map[string]string{"k": "v"}, time.Now())
	points[0].Tags["k"] = "mutated"
	if points[1].Tags["k"] != "v" {
		t.Fatalf("expected independent tag maps")
	}
}
