package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nerrad567/brewbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/brewbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewbridge/internal/session"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "fermentation"

// FanOut delivers each reading to every sink. Errors are joined; one
// failing sink does not stop the others.
type FanOut []session.Sink

// SavePoint implements session.Sink.
func (f FanOut) SavePoint(ctx context.Context, r session.Reading) error {
	var errs []error
	for _, s := range f {
		if err := s.SavePoint(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PointWriter writes one time-series point. *influxdb.Client satisfies it.
type PointWriter interface {
	Write(p influxdb.Point) error
}

// InfluxSink writes readings as points of Measurement.
type InfluxSink struct {
	Writer PointWriter
}

// SavePoint implements session.Sink. Readings with no values are skipped.
func (s InfluxSink) SavePoint(_ context.Context, r session.Reading) error {
	fields := readingFields(r)
	if len(fields) == 0 {
		return nil
	}
	tags := map[string]string{"device": r.Device}
	if r.BrewName != "" {
		tags["brew"] = r.BrewName
	}
	if r.RunID != "" {
		tags["run_id"] = r.RunID
	}
	return s.Writer.Write(influxdb.Point{Measurement: Measurement, Tags: tags, Fields: fields, Time: r.Time})
}

func readingFields(r session.Reading) map[string]any {
	fields := make(map[string]any, 6)
	for name, v := range map[string]*float64{
		"beer_temp":   r.BeerTemp,
		"beer_set":    r.BeerSet,
		"fridge_temp": r.FridgeTemp,
		"fridge_set":  r.FridgeSet,
		"room_temp":   r.RoomTemp,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	if r.State != nil {
		fields["state"] = int64(*r.State)
	}
	return fields
}

// MQTTSink publishes readings to brewbridge/{device}/reading.
type MQTTSink struct {
	Publisher Publisher
	QoS       byte
}

// SavePoint implements session.Sink. Nothing is sent while disconnected.
func (s MQTTSink) SavePoint(_ context.Context, r session.Reading) error {
	if !s.Publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.Publisher.Publish(mqtt.Topics{}.Reading(r.Device), payload, s.QoS, false)
}
