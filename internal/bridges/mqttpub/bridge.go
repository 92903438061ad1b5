package mqttpub

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/mqtt"
)

// maxQoS is the highest valid MQTT QoS level.
const maxQoS = 2

// Publisher is the broker surface the bridge needs.
// Satisfied by *mqtt.Client; tests substitute a fake.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the structured logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds configuration for creating a bridge.
type Options struct {
	// Publisher is the MQTT publish surface. Required.
	Publisher Publisher

	// QoS is the quality-of-service level for all published messages (0-2).
	QoS byte

	// RetainState publishes capability state messages retained, so new
	// subscribers immediately see the last known value per topic.
	// Discovery messages are never retained.
	RetainState bool

	// CoarsePrecision, when positive, additionally republishes
	// drift-filtered changes at this precision on the coarse topic
	// variant. Zero disables the coarse stream.
	CoarsePrecision float64

	// Logger is optional; nil means silent.
	Logger Logger
}

// Bridge republishes registry telemetry events to an MQTT broker for
// secondary consumers that should not join the gateway multicast group
// themselves.
//
// It rides the registry's discovery chain the same way the history
// recorder does: device_new subscribes it to each device's
// capability_new, which subscribes it to each capability's data_change
// (and, when configured, a drift-filtered coarse stream).
//
// All callbacks run on the ingestion goroutine. Publish failures are
// logged and counted, never propagated: returning an error from a bus
// callback would revoke the subscription, and a transient broker outage
// must not permanently detach the bridge.
type Bridge struct {
	pub    Publisher
	topics mqtt.Topics
	logger Logger

	qos             byte
	retainState     bool
	coarsePrecision float64

	published atomic.Uint64
	failed    atomic.Uint64
}

// DiscoveryMessage is the payload published on the device discovery
// topic when the registry sees an unseen device id.
type DiscoveryMessage struct {
	SID   string    `json:"sid"`
	Model string    `json:"model"`
	Room  string    `json:"room,omitempty"`
	Name  string    `json:"name,omitempty"`
	Time  time.Time `json:"time"`
}

// StateMessage is the payload published on capability state topics.
// Precision is set on the coarse topic variant only.
type StateMessage struct {
	SID        string    `json:"sid"`
	Capability string    `json:"capability"`
	Value      any       `json:"value"`
	RawValue   any       `json:"raw_value"`
	Unit       string    `json:"unit,omitempty"`
	Room       string    `json:"room,omitempty"`
	Name       string    `json:"name,omitempty"`
	Model      string    `json:"model"`
	Time       time.Time `json:"time"`
	Precision  float64   `json:"precision,omitempty"`
}

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// New creates a republishing bridge. Call Attach to wire it to a
// registry before ingestion starts.
func New(opts Options) (*Bridge, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.QoS > maxQoS {
		return nil, fmt.Errorf("invalid qos %d: must be 0-2", opts.QoS)
	}
	if opts.CoarsePrecision < 0 {
		return nil, fmt.Errorf("invalid coarse precision %v: must not be negative", opts.CoarsePrecision)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Bridge{
		pub:             opts.Publisher,
		logger:          logger,
		qos:             opts.QoS,
		retainState:     opts.RetainState,
		coarsePrecision: opts.CoarsePrecision,
	}, nil
}

// Attach subscribes the bridge to the registry's discovery events.
// Devices and capabilities created after this call are republished;
// call Attach before ingestion starts to capture everything.
func (b *Bridge) Attach(reg *device.Registry) error {
	_, err := reg.Subscribe(device.EventDeviceNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.DeviceNew)
		b.watchDevice(payload.DeviceObject)
		return nil
	}, nil)
	return err
}

// watchDevice announces the device and subscribes to its capability
// discoveries. A subscription failure is logged, not returned: an error
// here would revoke the discovery callback and silently detach the
// bridge from every later device.
func (b *Bridge) watchDevice(d *device.Device) {
	b.publishDiscovery(d)

	_, err := d.Subscribe(device.EventCapabilityNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.CapabilityNew)
		b.watchCapability(payload.DataObj)
		return nil
	}, nil)
	if err != nil {
		b.logger.Error("capability watch failed", "sid", d.SID, "error", err)
	}
}

// watchCapability subscribes to a capability's change stream, and to a
// drift-filtered coarse stream when configured. Non-numeric capabilities
// carry no coarse stream and get the plain subscription only.
func (b *Bridge) watchCapability(capData *device.CapabilityData) {
	_, err := capData.Subscribe(device.EventDataChange, func(ev eventbus.Event) error {
		payload := ev.Payload.(device.DataChange)
		b.publishState(payload.SourceDevice, payload.NewMeasurement, 0)
		return nil
	}, nil)
	if err != nil {
		b.logger.Error("state watch failed",
			"capability", capData.Quantity(), "error", err)
		return
	}

	if b.coarsePrecision <= 0 || !capData.SupportsCoarse() {
		return
	}

	_, err = capData.RegisterCoarse(func(ev eventbus.Event) error {
		payload := ev.Payload.(device.DataChangeCoarse)
		b.publishState(payload.SourceDevice, payload.NewMeasurement, payload.Precision)
		return nil
	}, b.coarsePrecision, nil)
	if err != nil {
		b.logger.Error("coarse watch failed",
			"capability", capData.Quantity(), "error", err)
	}
}

// publishDiscovery announces a newly seen device on the discovery topic.
func (b *Bridge) publishDiscovery(d *device.Device) {
	if d == nil {
		return
	}

	msg := DiscoveryMessage{
		SID:   d.SID,
		Model: d.Model,
		Time:  time.Now(),
	}
	if d.Context != nil {
		msg.Room = d.Context.Room
		msg.Name = d.Context.Name
	}

	b.send(b.topics.DeviceDiscovery(), msg, false)
}

// publishState publishes one measurement on its capability topic.
// A positive precision routes it to the coarse topic variant instead.
func (b *Bridge) publishState(d *device.Device, m *device.Measurement, precision float64) {
	if d == nil || m == nil {
		return
	}

	msg := StateMessage{
		SID:        d.SID,
		Capability: m.Quantity,
		Value:      m.Value,
		RawValue:   m.RawValue,
		Unit:       m.Unit,
		Model:      d.Model,
		Time:       m.Time,
		Precision:  precision,
	}
	if d.Context != nil {
		msg.Room = d.Context.Room
		msg.Name = d.Context.Name
	}

	topic := b.topics.DeviceState(d.SID, m.Quantity)
	if precision > 0 {
		topic = b.topics.DeviceStateCoarse(d.SID, m.Quantity)
	}

	b.send(topic, msg, b.retainState)
}

// send marshals and publishes one message, counting the outcome.
func (b *Bridge) send(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.failed.Add(1)
		b.logger.Error("marshal failed", "topic", topic, "error", err)
		return
	}

	if err := b.pub.Publish(topic, payload, b.qos, retained); err != nil {
		b.failed.Add(1)
		b.logger.Warn("publish failed", "topic", topic, "error", err)
		return
	}

	b.published.Add(1)
}

// GetStats returns a snapshot of the bridge counters.
func (b *Bridge) GetStats() Stats {
	return Stats{
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
	}
}
