// Package influxdb mirrors accepted readings into InfluxDB.
//
// The mirror is optional and off by default. When enabled, every reading
// the feed accepts is written as a point of the pv_readings measurement,
// tagged with its topic:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("ESS/Enphase/production", 1234.5, time.Now())
//
// Writes go through the non-blocking write API of influxdb-client-go v2:
// points are buffered and flushed in batches of batch_size or every
// flush_interval seconds, whichever comes first. Failed batches are
// reported to the logger set with SetLogger.
//
// *Client satisfies feed.ReadingSink.
package influxdb
