package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/transport"
)

// ErrQueueFull is returned by Do when the apply queue is saturated.
var ErrQueueFull = errors.New("ingest: apply queue full")

// applyQueueDepth bounds the number of pending out-of-band closures.
// Commands are rare next to telemetry; a saturated queue means the loop
// is stalled and shedding them is better than blocking a broker handler.
const applyQueueDepth = 16

// Logger defines the logging interface for the ingest loop.
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

// PacketSink consumes normalized packets. Satisfied by the device
// registry.
type PacketSink interface {
	CreateOrUpdate(ctx context.Context, p *device.Packet)
}

// Mirror receives every raw datagram before normalization and reports
// background faults on a bounded queue. Satisfied by the transport
// relay.
type Mirror interface {
	Broadcast(payload []byte) error
	Failures() <-chan error
}

// Loop is the single ingestion goroutine: everything downstream of it
// (registry, devices, capabilities, their subscribers) runs on its call
// stack and needs no locking. Transport faults are logged, never fatal.
type Loop struct {
	packets <-chan transport.Datagram
	sink    PacketSink
	mirror  Mirror
	apply   chan func(ctx context.Context)
	logger  Logger

	received  atomic.Uint64
	malformed atomic.Uint64
	applied   atomic.Uint64
}

// New creates an ingest loop reading datagrams from packets and feeding
// the sink.
func New(packets <-chan transport.Datagram, sink PacketSink) *Loop {
	return &Loop{
		packets: packets,
		sink:    sink,
		apply:   make(chan func(ctx context.Context), applyQueueDepth),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the loop.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// SetMirror attaches an optional datagram mirror. Must be called before
// Run.
func (l *Loop) SetMirror(m Mirror) {
	l.mirror = m
}

// Do schedules fn to run on the ingestion goroutine, serialized with
// packet handling. Everything downstream of the loop is single-writer,
// so out-of-band work (inbound broker commands, maintenance tasks) must
// come through here rather than touching the registry from another
// goroutine. Non-blocking: returns ErrQueueFull when the queue is
// saturated.
func (l *Loop) Do(fn func(ctx context.Context)) error {
	select {
	case l.apply <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes datagrams until ctx is cancelled or the packet channel
// closes. It is the only goroutine allowed to call the sink.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingest loop started")

	var failures <-chan error
	if l.mirror != nil {
		failures = l.mirror.Failures()
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ingest loop stopping", "reason", ctx.Err())
			return nil

		case err := <-failures:
			l.logger.Warn("relay fault", "error", err)

		case fn := <-l.apply:
			fn(ctx)
			l.applied.Add(1)

		case d, ok := <-l.packets:
			if !ok {
				l.logger.Info("ingest loop stopping, packet source closed")
				return nil
			}
			l.handle(ctx, d)
		}
	}
}

// handle mirrors, normalizes and dispatches one datagram.
func (l *Loop) handle(ctx context.Context, d transport.Datagram) {
	l.received.Add(1)

	if l.mirror != nil {
		if err := l.mirror.Broadcast(d.Payload); err != nil {
			l.logger.Debug("mirror write skipped", "error", err)
		}
	}

	p, err := device.NormalizePacket(d.Payload)
	if err != nil {
		l.malformed.Add(1)
		source := ""
		if d.Source != nil {
			source = d.Source.String()
		}
		l.logger.Warn("datagram dropped", "source", source, "error", err)
		return
	}

	l.sink.CreateOrUpdate(ctx, p)
}

// Stats holds ingest counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Applied   uint64 `json:"applied"`
}

// GetStats returns a snapshot of the ingest counters. Safe to call from
// any goroutine.
func (l *Loop) GetStats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Malformed: l.malformed.Load(),
		Applied:   l.applied.Load(),
	}
}
