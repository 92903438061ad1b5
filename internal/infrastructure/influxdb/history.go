package influxdb

import (
	"time"

	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

// PointWriter is the write surface the recorder needs. Satisfied by
// *Client.
type PointWriter interface {
	WriteMeasurement(sid, capability, room, model string, value float64, timestamp time.Time)
}

// Recorder streams derived measurements into InfluxDB.
//
// It rides the registry's discovery chain: device_new subscribes it to
// each new device's capability_new, which in turn subscribes it to each
// capability's data_new. Only numeric derived values become points;
// status strings and failed conversions are skipped.
//
// All callbacks run on the ingestion goroutine; the writer's batching
// keeps the hot path non-blocking.
type Recorder struct {
	writer PointWriter
}

// NewRecorder creates a recorder writing through the given client.
func NewRecorder(writer PointWriter) *Recorder {
	return &Recorder{writer: writer}
}

// Attach subscribes the recorder to the registry's discovery events.
// Devices and capabilities created after this call are recorded; call
// Attach before ingestion starts to capture everything.
func (r *Recorder) Attach(reg *device.Registry) error {
	_, err := reg.Subscribe(device.EventDeviceNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.DeviceNew)
		return r.watchDevice(payload.DeviceObject)
	}, nil)
	return err
}

// watchDevice subscribes to a device's capability discoveries.
func (r *Recorder) watchDevice(d *device.Device) error {
	_, err := d.Subscribe(device.EventCapabilityNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.CapabilityNew)
		return r.watchCapability(payload.DataObj)
	}, nil)
	return err
}

// watchCapability subscribes to a capability's measurement stream.
func (r *Recorder) watchCapability(capData *device.CapabilityData) error {
	_, err := capData.Subscribe(device.EventDataNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.DataNew)
		r.record(payload.SourceDevice, payload.Measurement)
		return nil
	}, nil)
	return err
}

// record writes one measurement if it carries a numeric derived value.
func (r *Recorder) record(d *device.Device, m *device.Measurement) {
	if d == nil || m == nil || m.ConversionFailed {
		return
	}
	value, ok := m.Value.(float64)
	if !ok {
		return
	}

	room := ""
	if d.Context != nil {
		room = d.Context.Room
	}
	r.writer.WriteMeasurement(d.SID, m.Quantity, room, d.Model, value, m.Time)
}
