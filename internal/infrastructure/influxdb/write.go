package influxdb

import (
	"math"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Point is one row of a measurement.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Write queues p. The write is batched and non-blocking; failures are
// logged. Non-finite float fields are dropped since the server rejects the
// whole batch over one of them.
//
// Returns:
//   - error: ErrNotConnected after Close, ErrEmptyPoint when no usable field is left
func (c *Client) Write(p Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	fields := finiteFields(p.Fields)
	if len(fields) == 0 {
		return ErrEmptyPoint
	}
	c.writeAPI.WritePoint(write.NewPoint(p.Measurement, p.Tags, fields, p.Time))
	return nil
}

func finiteFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		out[k] = v
	}
	return out
}
