// Package mqttpub connects the device registry to an MQTT broker in
// both directions.
//
// The bridge attaches to the registry and mirrors three event streams
// onto graymesh topics:
//
//   - device_new    → graymesh/discovery/device
//   - data_change   → graymesh/device/{sid}/{capability}
//   - coarse change → graymesh/device/{sid}/{capability}/coarse
//
// The command consumer subscribes to graymesh/command/+ and turns
// inbound messages into gateway writes, so dashboards and automations
// can both observe and act without joining the gateway multicast group.
//
// Both halves are optional and config-gated, like the TCP relay.
// Bridge callbacks run on the ingestion goroutine and never return
// errors: publish failures are counted and logged, so a broker outage
// only drops messages for its duration. Command handlers run on paho
// goroutines and queue their work onto the ingestion goroutine, keeping
// the registry single-writer.
package mqttpub
