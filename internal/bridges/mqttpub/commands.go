package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/mqtt"
)

// Command action names accepted on the device command topic.
const (
	ActionSetColor  = "set_color"
	ActionSetVolume = "set_volume"
	ActionPlayTrack = "play_track"
	ActionStopTrack = "stop_track"
)

// Subscriber is the broker surface the command consumer needs.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Runner serializes command execution with packet ingestion. Satisfied
// by the ingest loop.
type Runner interface {
	Do(fn func(ctx context.Context)) error
}

// DeviceLookup resolves a device id to its live device. Satisfied by
// the device registry.
type DeviceLookup interface {
	DeviceBySID(sid string) (*device.Device, bool)
}

// Command is the payload accepted on graymesh/command/{sid}. Only the
// fields the named action uses are read; the rest are ignored.
type Command struct {
	Action     string `json:"action"`
	Brightness int    `json:"brightness,omitempty"`
	Red        int    `json:"red,omitempty"`
	Green      int    `json:"green,omitempty"`
	Blue       int    `json:"blue,omitempty"`
	Volume     int    `json:"volume,omitempty"`
	TrackID    int    `json:"track_id,omitempty"`
}

// CommandOptions holds configuration for creating a command consumer.
type CommandOptions struct {
	// Devices resolves command targets. Required.
	Devices DeviceLookup

	// Runner executes commands on the ingestion goroutine. Required.
	Runner Runner

	// Logger is optional; nil means silent.
	Logger Logger
}

// CommandConsumer turns broker messages on the device command topics
// into gateway writes, so automations can drive the gateway ring and
// speaker without joining the multicast group.
//
// Broker handlers run on paho goroutines; everything downstream of the
// ingest loop is single-writer, so the handler only parses and
// validates, then queues the actual device work onto the ingestion
// goroutine through the Runner.
type CommandConsumer struct {
	devices DeviceLookup
	runner  Runner
	topics  mqtt.Topics
	logger  Logger

	received atomic.Uint64
	rejected atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64
}

// CommandStats is a point-in-time snapshot of consumer counters.
// Rejected counts messages dropped before execution (bad topic, bad
// payload, full queue); Failed counts commands the gateway refused.
type CommandStats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
	Executed uint64 `json:"executed"`
	Failed   uint64 `json:"failed"`
}

// NewCommandConsumer creates a command consumer. Call Listen to wire it
// to a broker connection.
func NewCommandConsumer(opts CommandOptions) (*CommandConsumer, error) {
	if opts.Devices == nil {
		return nil, fmt.Errorf("device lookup is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &CommandConsumer{
		devices: opts.Devices,
		runner:  opts.Runner,
		logger:  logger,
	}, nil
}

// Listen subscribes the consumer to the device command pattern. The
// subscription is restored automatically after a broker reconnect.
func (c *CommandConsumer) Listen(sub Subscriber, qos byte) error {
	return sub.Subscribe(c.topics.AllDeviceCommands(), qos, c.handle)
}

// handle is the broker message handler. Returned errors are logged by
// the client wrapper and never affect the subscription.
func (c *CommandConsumer) handle(topic string, payload []byte) error {
	c.received.Add(1)

	sid, ok := commandSID(topic)
	if !ok {
		c.rejected.Add(1)
		return fmt.Errorf("malformed command topic %q", topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.rejected.Add(1)
		return fmt.Errorf("decoding command for %s: %w", sid, err)
	}

	if err := c.runner.Do(func(context.Context) {
		c.execute(sid, cmd)
	}); err != nil {
		c.rejected.Add(1)
		return fmt.Errorf("queueing command for %s: %w", sid, err)
	}
	return nil
}

// execute runs on the ingestion goroutine and is the only place the
// consumer touches the registry.
func (c *CommandConsumer) execute(sid string, cmd Command) {
	d, ok := c.devices.DeviceBySID(sid)
	if !ok {
		c.failed.Add(1)
		c.logger.Warn("command for unknown device", "sid", sid, "action", cmd.Action)
		return
	}
	gw := d.Gateway()
	if gw == nil {
		c.failed.Add(1)
		c.logger.Warn("command for non-gateway device", "sid", sid, "action", cmd.Action)
		return
	}

	var err error
	switch cmd.Action {
	case ActionSetColor:
		err = gw.SetColor(cmd.Brightness, cmd.Red, cmd.Green, cmd.Blue)
	case ActionSetVolume:
		err = gw.SetVolume(cmd.Volume)
	case ActionPlayTrack:
		err = gw.PlayTrack(cmd.TrackID, cmd.Volume)
	case ActionStopTrack:
		err = gw.StopTrack()
	default:
		c.failed.Add(1)
		c.logger.Warn("unknown command action", "sid", sid, "action", cmd.Action)
		return
	}
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("command failed", "sid", sid, "action", cmd.Action, "error", err)
		return
	}

	c.executed.Add(1)
	c.logger.Info("command executed", "sid", sid, "action", cmd.Action)
}

// GetStats returns a snapshot of the consumer counters.
func (c *CommandConsumer) GetStats() CommandStats {
	return CommandStats{
		Received: c.received.Load(),
		Rejected: c.rejected.Load(),
		Executed: c.executed.Load(),
		Failed:   c.failed.Load(),
	}
}

// commandSID extracts the device id from graymesh/command/{sid}.
func commandSID(topic string) (string, bool) {
	const prefix = mqtt.TopicPrefixCommand + "/"
	sid, ok := strings.CutPrefix(topic, prefix)
	if !ok || sid == "" || strings.ContainsRune(sid, '/') {
		return "", false
	}
	return sid, true
}
