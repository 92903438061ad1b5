package device

import "github.com/nerrad567/gray-mesh-core/internal/eventbus"

// Event names published by the registry, devices, and capability holders.
const (
	EventDeviceNew        = "device_new"
	EventCapabilityNew    = "capability_new"
	EventDataNew          = "data_new"
	EventDataChange       = "data_change"
	EventDataChangeCoarse = "data_change_coarse"

	// EventAll selects every event of an entity when unsubscribing.
	EventAll = "all"
)

// DeviceNew is the payload for device_new. Field names are part of the
// wire contract for downstream consumers and must not change.
type DeviceNew struct {
	SourceObject *Registry `json:"source_object"`
	DeviceObject *Device   `json:"device_object"`
}

// CapabilityNew is the payload for capability_new.
type CapabilityNew struct {
	SourceDevice *Device         `json:"source_device"`
	Capability   string          `json:"capability"`
	DataObj      *CapabilityData `json:"data_obj"`
}

// DataNew is the payload for data_new, published on every measurement.
type DataNew struct {
	DataObj      *CapabilityData `json:"data_obj"`
	Value        any             `json:"value"`
	EventType    string          `json:"event_type"`
	Measurement  *Measurement    `json:"measurement"`
	SourceDevice *Device         `json:"source_device"`
}

// DataChange is the payload for data_change, published when the raw value
// differs from the immediately prior one (or on the first measurement).
type DataChange struct {
	DataObj        *CapabilityData `json:"data_obj"`
	Value          any             `json:"value"`
	EventType      string          `json:"event_type"`
	NewMeasurement *Measurement    `json:"new_measurement"`
	OldMeasurement *Measurement    `json:"old_measurement"`
	SourceDevice   *Device         `json:"source_device"`
}

// DataChangeCoarse is the payload for data_change_coarse, delivered to one
// drift-filter subscriber at a time.
type DataChangeCoarse struct {
	SourceDevice   *Device         `json:"source_device"`
	DataObj        *CapabilityData `json:"data_obj"`
	Precision      float64         `json:"precision"`
	Value          any             `json:"value"`
	NewMeasurement *Measurement    `json:"new_measurement"`
	OldMeasurement *Measurement    `json:"old_measurement"`
	EventType      string          `json:"event_type"`
}

// newBus builds an eventbus declaring the given events, wired to the
// entity's logger.
func newBus(logger Logger, events ...string) *eventbus.Bus {
	b := eventbus.New(events...)
	if logger != nil {
		b.SetLogger(logger)
	}
	return b
}

// unsubscribe removes sub from one event, or from every event when the
// EventAll sentinel is given.
func unsubscribe(b *eventbus.Bus, sub *eventbus.Subscription, event string) {
	if event == EventAll {
		b.UnsubscribeAll(sub)
		return
	}
	b.Unsubscribe(sub, event)
}
