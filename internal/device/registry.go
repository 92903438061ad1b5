package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ContextResolver resolves a device id to its durable room/name/model
// context. Implementations create an empty context on first sighting of
// an unknown id and persist it. A persistence failure is reported
// alongside a still-usable in-memory context.
type ContextResolver interface {
	Resolve(ctx context.Context, sid, model string) (*Context, error)
}

// Registry owns the canonical device-by-sid map plus the secondary
// indices, runs the device factory, and is the single entry point that
// ingests one normalized packet at a time.
//
// The registry is single-writer by design: CreateOrUpdate is intended to
// be invoked from exactly one ingestion goroutine and performs no
// internal locking. Event delivery is synchronous and in-line, so
// subscriber runtime adds directly to ingestion latency.
type Registry struct {
	resolver ContextResolver
	depth    int

	devBySID        map[string]*Device
	devByRoom       map[string]map[*Device]struct{}
	devByModel      map[string]map[*Device]struct{}
	devByCapability map[string]map[*Device]struct{}

	gatewaySecret string
	sender        SendFunc

	bus    *eventbus.Bus
	logger Logger
}

// NewRegistry creates a device registry backed by the given context
// resolver.
func NewRegistry(resolver ContextResolver) *Registry {
	logger := Logger(noopLogger{})
	return &Registry{
		resolver:        resolver,
		depth:           DefaultHistoryDepth,
		devBySID:        make(map[string]*Device),
		devByRoom:       make(map[string]map[*Device]struct{}),
		devByModel:      make(map[string]map[*Device]struct{}),
		devByCapability: make(map[string]map[*Device]struct{}),
		bus:             newBus(logger, EventDeviceNew),
		logger:          logger,
	}
}

// SetLogger sets the logger for the registry and for entities it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	r.bus.SetLogger(logger)
}

// SetHistoryDepth configures the measurement history bound applied to
// capabilities created from this point on. Depth below 1 is an error.
func (r *Registry) SetHistoryDepth(depth int) error {
	if depth < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	r.depth = depth
	return nil
}

// SetGatewaySecret configures the shared secret handed to gateway
// devices at creation time.
func (r *Registry) SetGatewaySecret(secret string) {
	r.gatewaySecret = secret
}

// SetCommandSender injects the outbound transport handed to gateway
// devices at creation time.
func (r *Registry) SetCommandSender(send SendFunc) {
	r.sender = send
}

// Subscribe registers fn for one of the registry's events (device_new).
func (r *Registry) Subscribe(event string, fn eventbus.Callback, private any) (*eventbus.Subscription, error) {
	return r.bus.Subscribe(event, fn, private)
}

// Unsubscribe removes the subscription from the given event, or from all
// registry events when event is EventAll.
func (r *Registry) Unsubscribe(sub *eventbus.Subscription, event string) {
	unsubscribe(r.bus, sub, event)
}

// CreateOrUpdate ingests one normalized packet. A packet without a sid is
// logged and dropped without creating or updating anything. The first
// packet bearing an unseen sid creates the device (resolving context,
// running the device factory, populating the indices and publishing
// device_new); every packet is then applied via Device.Update.
func (r *Registry) CreateOrUpdate(ctx context.Context, p *Packet) {
	if p == nil || p.SID == "" {
		r.logger.Error("packet dropped: missing sid")
		return
	}

	d, ok := r.devBySID[p.SID]
	if !ok {
		d = r.createDevice(ctx, p)
	}

	d.Update(p)
}

// createDevice resolves context, runs the device factory, indexes the
// new device and announces it.
func (r *Registry) createDevice(ctx context.Context, p *Packet) *Device {
	dctx, err := r.resolver.Resolve(ctx, p.SID, p.Model)
	if err != nil {
		// Persistence failures are not fatal: the in-memory context
		// stays usable for the rest of the process.
		r.logger.Error("context persistence failed", "sid", p.SID, "error", err)
	}
	if dctx == nil {
		dctx = &Context{Model: p.Model}
	}

	profile, known := profileFor(p.Model)
	if !known {
		r.logger.Warn("unrecognized model, using generic sensing variant",
			"sid", p.SID, "model", p.Model)
	}

	d := newDevice(p.SID, profile, dctx, r.depth, r.logger)
	if gw := d.Gateway(); gw != nil {
		gw.SetSecret(r.gatewaySecret)
		gw.SetSender(r.sender)
	}

	r.devBySID[p.SID] = d
	r.indexDevice(d)

	r.logger.Info("device created",
		"sid", p.SID,
		"model", p.Model,
		"room", dctx.Room,
		"name", dctx.Name,
	)

	r.bus.Publish(EventDeviceNew, DeviceNew{
		SourceObject: r,
		DeviceObject: d,
	})

	return d
}

// indexDevice populates the secondary indices. Membership is computed
// once, at creation time, from the variant's declared capability set:
// capabilities discovered ad hoc by later updates do not retroactively
// join the capability index.
func (r *Registry) indexDevice(d *Device) {
	addToIndex(r.devByRoom, d.Context.Room, d)
	addToIndex(r.devByModel, d.Model, d)
	for _, capName := range d.profile.Capabilities {
		addToIndex(r.devByCapability, capName, d)
	}
}

func addToIndex(index map[string]map[*Device]struct{}, key string, d *Device) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Device]struct{})
		index[key] = set
	}
	set[d] = struct{}{}
}

// DeviceBySID returns the device with the given sid.
func (r *Registry) DeviceBySID(sid string) (*Device, bool) {
	d, ok := r.devBySID[sid]
	return d, ok
}

// DevicesByRoom returns all devices whose context placed them in the
// given room at creation time.
func (r *Registry) DevicesByRoom(room string) []*Device {
	return collectIndex(r.devByRoom, room)
}

// DevicesByModel returns all devices created from the given wire model.
func (r *Registry) DevicesByModel(model string) []*Device {
	return collectIndex(r.devByModel, model)
}

// DevicesByCapability returns all devices whose variant declares the
// given capability.
func (r *Registry) DevicesByCapability(capability string) []*Device {
	return collectIndex(r.devByCapability, capability)
}

func collectIndex(index map[string]map[*Device]struct{}, key string) []*Device {
	set := index[key]
	if len(set) == 0 {
		return nil
	}
	devices := make([]*Device, 0, len(set))
	for d := range set {
		devices = append(devices, d)
	}
	return devices
}

// DeviceCount returns the number of registered devices.
func (r *Registry) DeviceCount() int {
	return len(r.devBySID)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByModel      map[string]int
	ByRoom       map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	stats := Stats{
		TotalDevices: len(r.devBySID),
		ByModel:      make(map[string]int),
		ByRoom:       make(map[string]int),
	}
	for _, d := range r.devBySID {
		stats.ByModel[d.Model]++
		if d.Context != nil {
			stats.ByRoom[d.Context.Room]++
		}
	}
	return stats
}
