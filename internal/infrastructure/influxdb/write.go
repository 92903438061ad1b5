package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMeasurement writes one derived capability measurement.
//
// This is the primary method for recording telemetry history. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Tags are low-cardinality device metadata so dashboards can slice by
// room or model; the derived value is the only field.
//
// Example:
//
//	client.WriteMeasurement("158d0001a2b3c4", "temperature", "kitchen", "weather.v1", 21.5, time.Now())
func (c *Client) WriteMeasurement(sid, capability, room, model string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"sid":        sid,
			"capability": capability,
			"room":       room,
			"model":      model,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
