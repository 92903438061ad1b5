// Package influxdb provides InfluxDB connectivity for Gray Mesh Core.
//
// It wraps the official influxdb-client-go v2 library with Gray Mesh-specific
// patterns for connection management, measurement writing, and health
// monitoring.
//
// # Purpose
//
// This package handles time-series storage of telemetry: every derived
// capability measurement can be recorded with sid/capability/room/model
// tags for dashboarding and long-term history, complementing the short
// in-memory history each capability keeps.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graymesh",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMeasurement("158d0001a2b3c4", "temperature", "kitchen", "weather.v1", 21.5, time.Now())
//
// The Recorder wires the client into the device registry's event chain
// so every numeric data_new event becomes a point automatically.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
