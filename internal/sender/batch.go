package sender

import (
	"fmt"

	client "github.com/influxdata/influxdb1-client/v2"
)

// precision of every timestamp written by the senders.
const precision = "s"

// newBatch converts points into a client batch. Points left without fields
// are skipped.
func newBatch(database, prefix string, points []Point) (client.BatchPoints, error) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  database,
		Precision: precision,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		fields := fieldMap(p)
		if len(fields) == 0 {
			continue
		}
		pt, err := client.NewPoint(prefix+p.Measurement, tagMap(p), fields, pointTime(p))
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", prefix+p.Measurement, err)
		}
		bp.AddPoint(pt)
	}
	return bp, nil
}
