package sender

import (
	"math"
	"time"
)

// Field is one named value of a point. Value must be int64, float64, string
// or bool.
type Field struct {
	Key   string
	Value any
}

// Point is a single line protocol record.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      []Field
	Time        time.Time
}

// fieldMap keeps the fields the line protocol can carry. NaN, infinities and
// unknown types are dropped.
func fieldMap(p Point) map[string]any {
	fields := make(map[string]any, len(p.Fields))
	for _, f := range p.Fields {
		if f.Key == "" {
			continue
		}
		switch v := f.Value.(type) {
		case int64, string, bool:
			fields[f.Key] = v
		case int:
			fields[f.Key] = int64(v)
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			fields[f.Key] = v
		}
	}
	return fields
}

// tagMap drops tags with an empty key or value, which the line protocol
// cannot express.
func tagMap(p Point) map[string]string {
	tags := make(map[string]string, len(p.Tags))
	for k, v := range p.Tags {
		if k == "" || v == "" {
			continue
		}
		tags[k] = v
	}
	return tags
}

func pointTime(p Point) time.Time {
	if p.Time.IsZero() {
		return time.Now()
	}
	return p.Time
}
