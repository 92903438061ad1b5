package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Defaults for the TCP fan-out relay.
const (
	// DefaultRelayPort is the listen port for downstream consumers.
	DefaultRelayPort = 9899

	// defaultMaxClients caps concurrent consumer connections.
	defaultMaxClients = 32

	// defaultFailureQueueSize bounds the background failure queue
	// drained by the ingest loop.
	defaultFailureQueueSize = 16

	// defaultWriteTimeout bounds one fan-out write. A consumer that
	// cannot keep up is dropped, not waited on.
	defaultWriteTimeout = 5 * time.Second
)

// RelayConfig configures the TCP fan-out relay.
type RelayConfig struct {
	// Addr is the TCP listen address, e.g. ":9899".
	Addr string `yaml:"addr"`

	// MaxClients caps concurrent consumer connections. Excess
	// connections are refused on accept.
	MaxClients int `yaml:"max_clients"`

	// FailureQueueSize bounds the background failure queue.
	FailureQueueSize int `yaml:"failure_queue_size"`

	// WriteTimeout bounds one fan-out write per client.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// applyDefaults fills zero values with sensible defaults.
func (c *RelayConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = fmt.Sprintf(":%d", DefaultRelayPort)
	}
	if c.MaxClients == 0 {
		c.MaxClients = defaultMaxClients
	}
	if c.FailureQueueSize == 0 {
		c.FailureQueueSize = defaultFailureQueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

// Relay mirrors every telemetry datagram to connected TCP consumers as
// newline-delimited JSON. Consumers that fail a write are dropped and the
// failure is queued for the ingest loop to observe; a slow or dead
// consumer never blocks ingestion for longer than one write timeout.
//
// The connection set is the only shared state the relay guards with a
// mutex: Broadcast runs on the ingest goroutine while the accept loop
// adds connections concurrently.
type Relay struct {
	cfg    RelayConfig
	logger Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	failures chan error

	closed    chan struct{}
	closeOnce sync.Once
}

// NewRelay creates a relay. Zero config fields take the defaults.
func NewRelay(cfg RelayConfig) *Relay {
	cfg.applyDefaults()
	return &Relay{
		cfg:      cfg,
		logger:   noopLogger{},
		conns:    make(map[net.Conn]struct{}),
		failures: make(chan error, cfg.FailureQueueSize),
		closed:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Start binds the listen address and launches the accept loop. The relay
// stops when ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("binding relay address %s: %w", r.cfg.Addr, err)
	}
	r.ln = ln

	r.logger.Info("relay started", "addr", ln.Addr().String())

	go r.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.closed:
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful when the configured
// address carries port 0.
func (r *Relay) Addr() string {
	if r.ln == nil {
		return r.cfg.Addr
	}
	return r.ln.Addr().String()
}

// ClientCount returns the number of connected consumers.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Failures returns the background failure queue. The ingest loop drains
// it so client faults surface in the service log without interleaving
// with packet handling.
func (r *Relay) Failures() <-chan error {
	return r.failures
}

// Broadcast writes one payload to every connected consumer, framed with
// a trailing newline. Consumers that fail the write are closed, removed
// and reported on the failure queue.
func (r *Relay) Broadcast(payload []byte) error {
	select {
	case <-r.closed:
		return ErrRelayStopped
	default:
	}

	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.conns {
		if err := conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
			r.dropLocked(conn, err)
			continue
		}
		if _, err := conn.Write(framed); err != nil {
			r.dropLocked(conn, err)
		}
	}
	return nil
}

// dropLocked closes and removes a failing consumer. Callers hold r.mu.
func (r *Relay) dropLocked(conn net.Conn, cause error) {
	addr := conn.RemoteAddr().String()
	conn.Close()
	delete(r.conns, conn)
	r.reportFailure(fmt.Errorf("relay client %s dropped: %w", addr, cause))
}

// reportFailure queues a failure for the ingest loop. The queue is
// bounded; when full the failure is logged directly instead of blocking
// the broadcast path.
func (r *Relay) reportFailure(err error) {
	select {
	case r.failures <- err:
	default:
		r.logger.Warn("relay failure queue full", "error", err)
	}
}

// Stop closes the listener and every consumer connection.
func (r *Relay) Stop() error {
	if r.ln == nil {
		return ErrNotStarted
	}
	r.closeOnce.Do(func() {
		close(r.closed)
		r.ln.Close()

		r.mu.Lock()
		for conn := range r.conns {
			conn.Close()
			delete(r.conns, conn)
		}
		r.mu.Unlock()

		r.logger.Info("relay stopped")
	})
	return nil
}

// acceptLoop admits consumer connections until the listener closes.
func (r *Relay) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.closed:
				return
			default:
			}
			r.logger.Error("relay accept failed", "error", err)
			r.reportFailure(fmt.Errorf("relay accept: %w", err))
			return
		}

		r.mu.Lock()
		if len(r.conns) >= r.cfg.MaxClients {
			r.mu.Unlock()
			r.logger.Warn("relay client refused, limit reached",
				"remote", conn.RemoteAddr().String(),
				"max_clients", r.cfg.MaxClients,
			)
			conn.Close()
			continue
		}
		r.conns[conn] = struct{}{}
		count := len(r.conns)
		r.mu.Unlock()

		r.logger.Info("relay client connected",
			"remote", conn.RemoteAddr().String(),
			"clients", count,
		)
	}
}
