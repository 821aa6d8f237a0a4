// Package influxdb stores fermentation readings in InfluxDB 2.x.
//
// Points go through influxdb-client-go's non-blocking write API: they are
// batched (BatchSize), flushed every FlushInterval seconds and timestamped
// to the second. Write failures are logged, not returned.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Write(influxdb.Point{
//	    Measurement: "fermentation",
//	    Tags:        map[string]string{"device": "fermenter"},
//	    Fields:      map[string]any{"beer_temp": 18.5},
//	    Time:        time.Now(),
//	})
package influxdb
