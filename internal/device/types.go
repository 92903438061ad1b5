package device

import (
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

// Command values carried in the packet "cmd" field.
const (
	CmdReport    = "report"
	CmdHeartbeat = "heartbeat"
	CmdWrite     = "write"
)

// Packet is the canonical normalized form of one inbound telemetry record.
// One packet reports one or more capability values for a single device.
type Packet struct {
	Cmd     string         `json:"cmd"`
	SID     string         `json:"sid"`
	ShortID int            `json:"short_id"`
	Model   string         `json:"model"`
	Data    map[string]any `json:"data"`

	// Token is present on gateway-origin packets only. It is the rolling
	// session token required to derive outbound command keys.
	Token string `json:"token,omitempty"`
}

// Validate checks the mandatory packet fields.
// ShortID is not checked: zero is a legal session id (the gateway itself
// reports short_id 0).
func (p *Packet) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", ErrMalformedPacket)
	}
	switch {
	case p.Cmd == "":
		return fmt.Errorf("%w: missing cmd", ErrMalformedPacket)
	case p.SID == "":
		return fmt.Errorf("%w: missing sid", ErrMalformedPacket)
	case p.Model == "":
		return fmt.Errorf("%w: missing model", ErrMalformedPacket)
	case p.Data == nil:
		return fmt.Errorf("%w: missing data", ErrMalformedPacket)
	}
	return nil
}

// Context is the room/name/model metadata for a device id, sourced from
// durable storage rather than the wire protocol. Devices hold a reference
// to the owning Context, not a copy: edits made through the store are
// visible to every holder.
type Context struct {
	Room  string `json:"room"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Device is one sensor or actuator on the mesh, keyed by its stable
// hardware identifier. Devices are created exactly once by the Registry
// on first sight of an unseen sid and live for the rest of the process.
type Device struct {
	// SID is the stable hardware identifier. Fixed at creation.
	SID string

	// ShortID is the transient numeric session id assigned by the
	// gateway. It may change across gateway restarts.
	ShortID int

	// Model is the wire model tag. The variant chosen from the model at
	// creation time is fixed; the field itself tracks the wire.
	Model string

	// Context is a reference to the owning Context record.
	Context *Context

	// LastSeen is the capture time of the most recent packet.
	LastSeen time.Time

	// LastPacket is the most recent raw packet, whatever its cmd.
	LastPacket *Packet

	lastCmd string
	profile Profile

	capabilities map[string]*CapabilityData
	capOrder     []string

	gateway *Gateway

	depth  int
	bus    *eventbus.Bus
	logger Logger
}

// newDevice builds a device for the given profile. Used by the Registry's
// device factory; not exported because creation outside the registry would
// break the sid bijection.
func newDevice(sid string, profile Profile, dctx *Context, depth int, logger Logger) *Device {
	d := &Device{
		SID:          sid,
		Model:        profile.Model,
		Context:      dctx,
		profile:      profile,
		capabilities: make(map[string]*CapabilityData),
		depth:        depth,
		bus:          newBus(logger, EventCapabilityNew),
		logger:       logger,
	}
	if profile.Kind == KindGateway {
		d.gateway = &Gateway{device: d}
	}
	return d
}

// Profile returns the variant profile the device was created with.
func (d *Device) Profile() Profile {
	return d.profile
}

// Gateway returns the gateway command surface, or nil for non-gateway
// devices.
func (d *Device) Gateway() *Gateway {
	return d.gateway
}

// Capability returns the named capability data holder, or nil if the
// capability has not been discovered yet.
func (d *Device) Capability(name string) *CapabilityData {
	return d.capabilities[name]
}

// Capabilities returns the discovered capability names in discovery order.
func (d *Device) Capabilities() []string {
	names := make([]string, len(d.capOrder))
	copy(names, d.capOrder)
	return names
}

// Subscribe registers fn for one of the device's events (capability_new).
func (d *Device) Subscribe(event string, fn eventbus.Callback, private any) (*eventbus.Subscription, error) {
	return d.bus.Subscribe(event, fn, private)
}

// Unsubscribe removes the subscription from the given event, or from all
// device events when event is EventAll.
func (d *Device) Unsubscribe(sub *eventbus.Subscription, event string) {
	unsubscribe(d.bus, sub, event)
}

// Update applies one packet to the device. Mandatory fields are copied
// first; a packet missing any of them is logged and dropped without
// mutating the device. Reporting and heartbeat packets then walk the data
// fields, creating capability holders on first sight and feeding each one
// its raw value.
func (d *Device) Update(p *Packet) {
	if err := p.Validate(); err != nil {
		d.logger.Error("device update dropped", "sid", d.SID, "error", err)
		return
	}

	d.ShortID = p.ShortID
	d.Model = p.Model
	d.LastSeen = time.Now()
	d.LastPacket = p
	d.lastCmd = p.Cmd

	if d.gateway != nil && p.Token != "" {
		d.gateway.setToken(p.Token)
	}

	if p.Cmd != CmdReport && p.Cmd != CmdHeartbeat {
		return
	}

	for _, name := range sortedKeys(p.Data) {
		capData, ok := d.capabilities[name]
		if !ok {
			capData = newCapabilityData(d, name, d.depth)
			d.capabilities[name] = capData
			d.capOrder = append(d.capOrder, name)
			d.bus.Publish(EventCapabilityNew, CapabilityNew{
				SourceDevice: d,
				Capability:   name,
				DataObj:      capData,
			})
		}
		capData.Update(p.Data[name])
	}
}

// String renders the device the way the operator-facing tooling expects:
// model plus room/name context.
func (d *Device) String() string {
	room, name := "", ""
	if d.Context != nil {
		room, name = d.Context.Room, d.Context.Name
	}
	return fmt.Sprintf("[%s] (%s/%s)", d.Model, room, name)
}

// sortedKeys returns the map keys in a stable order so capability
// discovery within a single packet is deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
