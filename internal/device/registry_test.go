package device

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

func TestCreateOrUpdateCreatesDeviceOnce(t *testing.T) {
	r := NewRegistry(NewMemoryContextStore())

	created := 0
	if _, err := r.Subscribe(EventDeviceNew, func(ev eventbus.Event) error {
		payload := ev.Payload.(DeviceNew)
		if payload.SourceObject != r {
			t.Error("device_new source is not the registry")
		}
		if payload.DeviceObject == nil {
			t.Error("device_new carries no device")
		}
		created++
		return nil
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	packet := func(temp string) *Packet {
		return &Packet{
			Cmd: CmdReport, SID: "sid-1", ShortID: 3, Model: "weather.v1",
			Data: map[string]any{"temperature": temp},
		}
	}

	r.CreateOrUpdate(context.Background(), packet("2100"))
	r.CreateOrUpdate(context.Background(), packet("2200"))

	if created != 1 {
		t.Errorf("device_new fired %d times, want 1", created)
	}
	if n := r.DeviceCount(); n != 1 {
		t.Errorf("device count = %d, want 1", n)
	}

	d, _ := r.DeviceBySID("sid-1")
	if n := d.Capability(CapTemperature).HistoryLen(); n != 2 {
		t.Errorf("temperature history = %d entries, want 2", n)
	}
}

func TestCreateOrUpdateRejectsMissingSID(t *testing.T) {
	r := NewRegistry(NewMemoryContextStore())

	r.CreateOrUpdate(context.Background(), &Packet{
		Cmd: CmdReport, Model: "weather.v1",
		Data: map[string]any{"temperature": "2100"},
	})
	r.CreateOrUpdate(context.Background(), nil)

	if n := r.DeviceCount(); n != 0 {
		t.Errorf("device count = %d after sid-less packets, want 0", n)
	}
}

func TestDeviceFactoryPurity(t *testing.T) {
	r := NewRegistry(NewMemoryContextStore())

	for _, sid := range []string{"sid-a", "sid-b"} {
		r.CreateOrUpdate(context.Background(), &Packet{
			Cmd: CmdReport, SID: sid, Model: "weather.v2",
			Data: map[string]any{"temperature": "2100"},
		})
	}

	a, _ := r.DeviceBySID("sid-a")
	b, _ := r.DeviceBySID("sid-b")
	if a == nil || b == nil || a == b {
		t.Fatalf("expected two distinct devices, got %v and %v", a, b)
	}

	byModel := r.DevicesByModel("weather.v2")
	if len(byModel) != 2 {
		t.Errorf("dev_by_model[weather.v2] has %d devices, want 2", len(byModel))
	}

	// Both weather devices declare temperature.
	byCap := r.DevicesByCapability(CapTemperature)
	if len(byCap) != 2 {
		t.Errorf("dev_by_capability[temperature] has %d devices, want 2", len(byCap))
	}
}

func TestUnknownModelFallsBackToGenericSensor(t *testing.T) {
	r, d := newTestDevice(t, "vendor.widget.v9", "sid-1", map[string]any{"blinkenlights": "on"})

	if d.Profile().Kind != KindSensor {
		t.Errorf("profile kind = %s, want sensor", d.Profile().Kind)
	}
	if len(d.Profile().Capabilities) != 0 {
		t.Errorf("generic profile declares %v, want none", d.Profile().Capabilities)
	}
	if d.Gateway() != nil {
		t.Error("generic sensor has a gateway surface")
	}

	// The ad hoc capability was still created and recorded.
	if d.Capability("blinkenlights") == nil {
		t.Error("ad hoc capability not created")
	}
	if len(r.DevicesByModel("vendor.widget.v9")) != 1 {
		t.Error("unknown model not indexed")
	}
}

func TestAdHocCapabilitiesDoNotJoinCapabilityIndex(t *testing.T) {
	r, d := newTestDevice(t, "magnet", "sid-1", map[string]any{"status": "open"})

	// A later update reports a quantity the magnet profile never declared.
	d.Update(&Packet{
		Cmd: CmdReport, SID: "sid-1", Model: "magnet",
		Data: map[string]any{"surprise": 1.0},
	})

	if d.Capability("surprise") == nil {
		t.Error("ad hoc capability not created")
	}
	// Index membership was fixed at creation time.
	if n := len(r.DevicesByCapability("surprise")); n != 0 {
		t.Errorf("ad hoc capability indexed %d devices, want 0", n)
	}
	if n := len(r.DevicesByCapability(CapStatus)); n != 1 {
		t.Errorf("declared capability index has %d devices, want 1", n)
	}
}

func TestRoomIndexFollowsContext(t *testing.T) {
	store := NewMemoryContextStore()
	if err := store.SetContext(context.Background(), "sid-1", "kitchen", "window"); err != nil {
		t.Fatalf("SetContext: %v", err)
	}

	r := NewRegistry(store)
	r.CreateOrUpdate(context.Background(), &Packet{
		Cmd: CmdReport, SID: "sid-1", Model: "magnet",
		Data: map[string]any{"status": "close"},
	})

	devices := r.DevicesByRoom("kitchen")
	if len(devices) != 1 {
		t.Fatalf("dev_by_room[kitchen] has %d devices, want 1", len(devices))
	}
	if devices[0].Context.Name != "window" {
		t.Errorf("context name = %s, want window", devices[0].Context.Name)
	}
}

func TestDeviceUpdateDropsMalformedPacket(t *testing.T) {
	_, d := newTestDevice(t, "magnet", "sid-1", map[string]any{"status": "open"})

	before := d.LastPacket
	d.Update(&Packet{SID: "sid-1", Model: "magnet"}) // no cmd, no data

	if d.LastPacket != before {
		t.Error("malformed packet mutated the device")
	}
	if err := (&Packet{}).Validate(); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Validate() = %v, want ErrMalformedPacket", err)
	}
}

func TestHeartbeatCreatesCapabilities(t *testing.T) {
	r := NewRegistry(NewMemoryContextStore())
	r.CreateOrUpdate(context.Background(), &Packet{
		Cmd: CmdHeartbeat, SID: "sid-1", Model: "motion",
		Data: map[string]any{"voltage": "3005"},
	})

	d, _ := r.DeviceBySID("sid-1")
	if d.Capability(CapVoltage) == nil {
		t.Error("heartbeat did not create capability")
	}

	// Write acknowledgements do not walk data fields.
	d.Update(&Packet{
		Cmd: CmdWrite, SID: "sid-1", ShortID: 1, Model: "motion",
		Data: map[string]any{"lux": 5.0},
	})
	if d.Capability(CapLux) != nil {
		t.Error("write packet created a capability")
	}
}

func TestGetStats(t *testing.T) {
	r := NewRegistry(NewMemoryContextStore())
	for i, model := range []string{"magnet", "magnet", "motion"} {
		r.CreateOrUpdate(context.Background(), &Packet{
			Cmd: CmdReport, SID: string(rune('a' + i)), Model: model,
			Data: map[string]any{"voltage": "3000"},
		})
	}

	stats := r.GetStats()
	if stats.TotalDevices != 3 {
		t.Errorf("total = %d, want 3", stats.TotalDevices)
	}
	if stats.ByModel["magnet"] != 2 || stats.ByModel["motion"] != 1 {
		t.Errorf("by model = %v", stats.ByModel)
	}
}
