package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/mqtt"
)

// fakeSubscriber captures the handler so tests can inject messages.
type fakeSubscriber struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

func (s *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	s.topic = topic
	s.qos = qos
	s.handler = handler
	return nil
}

// inlineRunner executes queued work immediately, standing in for the
// ingestion goroutine.
type inlineRunner struct {
	full bool
}

func (r *inlineRunner) Do(fn func(ctx context.Context)) error {
	if r.full {
		return errors.New("queue full")
	}
	fn(context.Background())
	return nil
}

// gatewaySend captures outbound gateway writes.
type gatewaySend struct {
	addr     string
	payloads [][]byte
}

func (g *gatewaySend) send(addr string, payload []byte) error {
	g.addr = addr
	g.payloads = append(g.payloads, payload)
	return nil
}

// newCommandFixture builds a registry holding a ready gateway device and
// a consumer listening on the command pattern.
func newCommandFixture(t *testing.T) (*CommandConsumer, *fakeSubscriber, *gatewaySend) {
	t.Helper()

	send := &gatewaySend{}
	reg := device.NewRegistry(device.NewMemoryContextStore())
	reg.SetGatewaySecret("0123456789abcdef")
	reg.SetCommandSender(send.send)

	reg.CreateOrUpdate(context.Background(), &device.Packet{
		Cmd: device.CmdReport, SID: "gw-1", Model: "gateway",
		Token: "fedcba9876543210",
		Data:  map[string]any{"ip": "192.168.1.10"},
	})

	consumer, err := NewCommandConsumer(CommandOptions{
		Devices: reg,
		Runner:  &inlineRunner{},
	})
	if err != nil {
		t.Fatalf("NewCommandConsumer: %v", err)
	}

	sub := &fakeSubscriber{}
	if err := consumer.Listen(sub, 1); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return consumer, sub, send
}

func TestNewCommandConsumerValidation(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryContextStore())

	tests := []struct {
		name string
		opts CommandOptions
	}{
		{"missing devices", CommandOptions{Runner: &inlineRunner{}}},
		{"missing runner", CommandOptions{Devices: reg}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCommandConsumer(tt.opts); err == nil {
				t.Error("NewCommandConsumer() expected error")
			}
		})
	}
}

func TestCommandConsumerExecutesGatewayWrite(t *testing.T) {
	consumer, sub, send := newCommandFixture(t)

	if sub.topic != "graymesh/command/+" {
		t.Errorf("subscribed to %q, want graymesh/command/+", sub.topic)
	}

	err := sub.handler("graymesh/command/gw-1", []byte(`{"action":"set_volume","volume":40}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	if send.addr != "192.168.1.10" {
		t.Errorf("sent to %q, want 192.168.1.10", send.addr)
	}
	if len(send.payloads) != 1 {
		t.Fatalf("gateway writes = %d, want 1", len(send.payloads))
	}

	var packet struct {
		Cmd  string         `json:"cmd"`
		SID  string         `json:"sid"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(send.payloads[0], &packet); err != nil {
		t.Fatalf("unmarshal write: %v", err)
	}
	if packet.Cmd != device.CmdWrite || packet.SID != "gw-1" {
		t.Errorf("write packet = %+v", packet)
	}
	if vol, ok := packet.Data["vol"].(float64); !ok || vol != 40 {
		t.Errorf("vol = %v, want 40", packet.Data["vol"])
	}
	if key, ok := packet.Data["key"].(string); !ok || key == "" {
		t.Error("write packet missing derived key")
	}

	stats := consumer.GetStats()
	if stats.Received != 1 || stats.Executed != 1 || stats.Rejected != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 1 received, 1 executed", stats)
	}
}

func TestCommandConsumerRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"nested topic", "graymesh/command/gw-1/extra", `{"action":"set_volume"}`},
		{"empty sid", "graymesh/command/", `{"action":"set_volume"}`},
		{"malformed payload", "graymesh/command/gw-1", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, sub, send := newCommandFixture(t)

			if err := sub.handler(tt.topic, []byte(tt.payload)); err == nil {
				t.Error("handler expected error")
			}
			if len(send.payloads) != 0 {
				t.Errorf("gateway writes = %d, want 0", len(send.payloads))
			}
			if stats := consumer.GetStats(); stats.Rejected != 1 {
				t.Errorf("rejected = %d, want 1", stats.Rejected)
			}
		})
	}
}

func TestCommandConsumerCountsFailures(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"unknown device", "graymesh/command/sid-99", `{"action":"set_volume","volume":10}`},
		{"unknown action", "graymesh/command/gw-1", `{"action":"reboot"}`},
		{"invalid volume", "graymesh/command/gw-1", `{"action":"set_volume","volume":900}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, sub, send := newCommandFixture(t)

			if err := sub.handler(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if len(send.payloads) != 0 {
				t.Errorf("gateway writes = %d, want 0", len(send.payloads))
			}
			if stats := consumer.GetStats(); stats.Failed != 1 || stats.Executed != 0 {
				t.Errorf("stats = %+v, want 1 failed, 0 executed", stats)
			}
		})
	}
}

func TestCommandConsumerFailsOnNonGatewayDevice(t *testing.T) {
	consumer, sub, send := newCommandFixture(t)

	// A magnet has no command surface.
	ctx := context.Background()
	reg := consumer.devices.(*device.Registry)
	reg.CreateOrUpdate(ctx, &device.Packet{
		Cmd: device.CmdReport, SID: "sid-1", Model: "magnet",
		Data: map[string]any{"status": "open"},
	})

	if err := sub.handler("graymesh/command/sid-1", []byte(`{"action":"set_volume","volume":10}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(send.payloads) != 0 {
		t.Errorf("gateway writes = %d, want 0", len(send.payloads))
	}
	if stats := consumer.GetStats(); stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestCommandConsumerRejectsWhenRunnerFull(t *testing.T) {
	send := &gatewaySend{}
	reg := device.NewRegistry(device.NewMemoryContextStore())
	reg.SetCommandSender(send.send)

	consumer, err := NewCommandConsumer(CommandOptions{
		Devices: reg,
		Runner:  &inlineRunner{full: true},
	})
	if err != nil {
		t.Fatalf("NewCommandConsumer: %v", err)
	}

	sub := &fakeSubscriber{}
	if err := consumer.Listen(sub, 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := sub.handler("graymesh/command/gw-1", []byte(`{"action":"stop_track"}`)); err == nil {
		t.Error("handler expected error when runner is full")
	}
	if stats := consumer.GetStats(); stats.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.Rejected)
	}
}
