package exporter

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/eugenenazirov/metrics-sidecar/internal/sender"
)

var (
	// MeterFields are emitted for every meter.
	MeterFields = []string{"count", "m1_rate", "m5_rate", "m15_rate", "mean_rate"}
	// TimerFields are emitted for every timer.
	TimerFields = []string{"count", "min", "max", "mean", "stddev", "p50", "p75", "p95", "p98", "p99", "p999", "m1_rate", "m5_rate", "m15_rate", "mean_rate"}

	percentiles      = []float64{0.5, 0.75, 0.95, 0.98, 0.99, 0.999}
	percentileFields = []string{"p50", "p75", "p95", "p98", "p99", "p999"}
)

// Collect snapshots every metric in registry and formats it as one point per
// metric, ordered by name. Rates are per second, durations in milliseconds.
// Idle metrics are included.
func Collect(registry metrics.Registry, tags map[string]string, now time.Time) []sender.Point {
	points := make([]sender.Point, 0, 32)
	registry.Each(func(name string, m any) {
		fields := formatMetric(m)
		if len(fields) == 0 {
			return
		}
		points = append(points, sender.Point{
			Measurement: name,
			Tags:        maps.Clone(tags),
			Fields:      fields,
			Time:        now,
		})
	})
	slices.SortFunc(points, func(a, b sender.Point) int {
		return strings.Compare(a.Measurement, b.Measurement)
	})
	return points
}

func formatMetric(m any) []sender.Field {
	switch metric := m.(type) {
	case metrics.Counter:
		return []sender.Field{{Key: "count", Value: metric.Snapshot().Count()}}
	case metrics.Gauge:
		return []sender.Field{{Key: "value", Value: metric.Snapshot().Value()}}
	case metrics.GaugeFloat64:
		return []sender.Field{{Key: "value", Value: metric.Snapshot().Value()}}
	case metrics.Histogram:
		h := metric.Snapshot()
		fields := []sender.Field{
			{Key: "count", Value: h.Count()},
			{Key: "min", Value: h.Min()},
			{Key: "max", Value: h.Max()},
			{Key: "mean", Value: h.Mean()},
			{Key: "stddev", Value: h.StdDev()},
		}
		return appendPercentiles(fields, h.Percentiles(percentiles), 1)
	case metrics.Meter:
		mt := metric.Snapshot()
		return []sender.Field{
			{Key: "count", Value: mt.Count()},
			{Key: "m1_rate", Value: mt.Rate1()},
			{Key: "m5_rate", Value: mt.Rate5()},
			{Key: "m15_rate", Value: mt.Rate15()},
			{Key: "mean_rate", Value: mt.RateMean()},
		}
	case metrics.Timer:
		tm := metric.Snapshot()
		fields := []sender.Field{
			{Key: "count", Value: tm.Count()},
			{Key: "min", Value: toMillis(float64(tm.Min()))},
			{Key: "max", Value: toMillis(float64(tm.Max()))},
			{Key: "mean", Value: toMillis(tm.Mean())},
			{Key: "stddev", Value: toMillis(tm.StdDev())},
		}
		fields = appendPercentiles(fields, tm.Percentiles(percentiles), float64(time.Millisecond))
		return append(fields,
			sender.Field{Key: "m1_rate", Value: tm.Rate1()},
			sender.Field{Key: "m5_rate", Value: tm.Rate5()},
			sender.Field{Key: "m15_rate", Value: tm.Rate15()},
			sender.Field{Key: "mean_rate", Value: tm.RateMean()},
		)
	default:
		return nil
	}
}

func appendPercentiles(fields []sender.Field, values []float64, divisor float64) []sender.Field {
	for i, v := range values {
		fields = append(fields, sender.Field{Key: percentileFields[i], Value: v / divisor})
	}
	return fields
}

func toMillis(nanos float64) float64 {
	return nanos / float64(time.Millisecond)
}
