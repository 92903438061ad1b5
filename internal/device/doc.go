// Package device implements the device/capability event model and
// registry for Gray Mesh Core.
//
// The Registry is the single entry point for telemetry ingestion: it
// ingests one normalized packet at a time, creating devices on first
// sight of an unseen sid via a model-tag dispatch table and maintaining
// secondary indices by room, model and declared capability. Devices in
// turn own dynamically discovered CapabilityData holders, one per
// reported quantity, each with a bounded newest-first measurement
// history and a type-specific value-derivation hook (unit scaling,
// percentage mapping, bit unpacking, status value sets).
//
// # Events
//
// Every entity publishes through its own eventbus instance:
//
//   - Registry: device_new
//   - Device: capability_new
//   - CapabilityData: data_new, data_change, data_change_coarse
//
// data_new fires on every measurement; data_change only when the raw
// value differs from the immediately prior one. data_change_coarse is
// the drift-filtered variant for numeric quantities: each subscriber
// registers its own precision and is notified only when the value has
// moved more than that precision away from the value at its own last
// notification.
//
// Subscribers are fault-isolated: a callback that errors or panics is
// logged and revoked, and ingestion continues.
//
// # Usage
//
//	store := device.NewSQLiteContextStore(db.DB)
//	registry := device.NewRegistry(store)
//	registry.SetLogger(log)
//
//	registry.Subscribe(device.EventDeviceNew, func(ev eventbus.Event) error {
//	    payload := ev.Payload.(device.DeviceNew)
//	    log.Info("device discovered", "sid", payload.DeviceObject.SID)
//	    return nil
//	}, nil)
//
//	packet, err := device.NormalizePacket(datagram)
//	if err != nil {
//	    return err
//	}
//	registry.CreateOrUpdate(ctx, packet)
//
// # Thread Safety
//
// The registry and everything below it is single-writer: CreateOrUpdate
// must be invoked from exactly one ingestion goroutine. Event delivery is
// synchronous on that goroutine's call stack.
package device
