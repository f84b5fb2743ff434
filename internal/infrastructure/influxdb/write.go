package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Reading point layout.
const (
	MeasurementReadings = "pv_readings"
	tagTopic            = "topic"
	fieldValue          = "value"
)

// WriteReading queues one reading as
//
//	pv_readings,topic=<topic> value=<value> <at>
//
// It does not block; points are batched and sent in the background.
// Dropped silently when the client is closed.
func (c *Client) WriteReading(topic string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(topic, value, at))
}

// ReadingPoint builds the point written for a reading.
func ReadingPoint(topic string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReadings,
		map[string]string{tagTopic: topic},
		map[string]interface{}{fieldValue: value},
		at,
	)
}
