package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// Defaults for the multicast telemetry listener.
const (
	// DefaultMulticastGroup is the group gateways announce telemetry on.
	DefaultMulticastGroup = "224.0.0.50"

	// DefaultTelemetryPort is the UDP port for both multicast telemetry
	// and unicast gateway commands.
	DefaultTelemetryPort = 9898

	// defaultQueueSize bounds the datagram channel between the read loop
	// and the ingest loop.
	defaultQueueSize = 64

	// maxDatagramSize is the largest telemetry datagram we accept.
	// Real packets are a few hundred bytes.
	maxDatagramSize = 2048
)

// Datagram is one raw telemetry payload with its network origin.
type Datagram struct {
	Payload []byte
	Source  *net.UDPAddr
}

// ListenerConfig configures the multicast telemetry listener.
type ListenerConfig struct {
	// Group is the multicast group address.
	Group string `yaml:"group"`

	// Port is the UDP port to bind.
	Port int `yaml:"port"`

	// Interface optionally names the NIC to join the group on. Empty
	// lets the kernel choose.
	Interface string `yaml:"interface"`

	// QueueSize bounds the inbound datagram queue. Datagrams arriving
	// while the queue is full are dropped with a warning.
	QueueSize int `yaml:"queue_size"`
}

// applyDefaults fills zero values with the protocol defaults.
func (c *ListenerConfig) applyDefaults() {
	if c.Group == "" {
		c.Group = DefaultMulticastGroup
	}
	if c.Port == 0 {
		c.Port = DefaultTelemetryPort
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
}

// Validate checks the configuration for values that cannot work.
func (c *ListenerConfig) Validate() error {
	ip := net.ParseIP(c.Group)
	if ip == nil {
		return fmt.Errorf("invalid multicast group %q", c.Group)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("group %q is not a multicast address", c.Group)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("invalid queue size %d", c.QueueSize)
	}
	return nil
}

// Listener receives telemetry datagrams from the gateway multicast group
// and delivers them on a bounded channel consumed by the ingest loop.
type Listener struct {
	cfg    ListenerConfig
	logger Logger

	conn    *net.UDPConn
	pktConn *ipv4.PacketConn
	group   *net.UDPAddr
	ifi     *net.Interface

	packets chan Datagram

	closed    chan struct{}
	closeOnce sync.Once
}

// NewListener creates a listener. Zero config fields take the protocol
// defaults (224.0.0.50:9898).
func NewListener(cfg ListenerConfig) (*Listener, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid listener config: %w", err)
	}

	l := &Listener{
		cfg:     cfg,
		logger:  noopLogger{},
		packets: make(chan Datagram, cfg.QueueSize),
		closed:  make(chan struct{}),
	}

	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %q: %w", cfg.Interface, err)
		}
		l.ifi = ifi
	}

	return l, nil
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start binds the telemetry port, joins the multicast group and launches
// the read loop. The listener stops when ctx is cancelled or Stop is
// called.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.cfg.Port})
	if err != nil {
		return fmt.Errorf("binding telemetry port %d: %w", l.cfg.Port, err)
	}

	l.conn = conn
	l.group = &net.UDPAddr{IP: net.ParseIP(l.cfg.Group)}
	l.pktConn = ipv4.NewPacketConn(conn)

	if err := l.pktConn.JoinGroup(l.ifi, l.group); err != nil {
		conn.Close()
		return fmt.Errorf("joining group %s: %w", l.cfg.Group, err)
	}

	l.logger.Info("telemetry listener started",
		"group", l.cfg.Group,
		"port", l.cfg.Port,
	)

	go l.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.closed:
		}
	}()

	return nil
}

// Packets returns the inbound datagram channel. The channel is closed
// when the listener stops.
func (l *Listener) Packets() <-chan Datagram {
	return l.packets
}

// Stop leaves the multicast group and closes the socket. The packet
// channel is closed once the read loop drains.
func (l *Listener) Stop() error {
	if l.conn == nil {
		return ErrNotStarted
	}
	l.closeOnce.Do(func() {
		close(l.closed)
		if err := l.pktConn.LeaveGroup(l.ifi, l.group); err != nil {
			l.logger.Debug("leaving multicast group", "error", err)
		}
		l.conn.Close()
	})
	return nil
}

// readLoop pulls datagrams off the socket until the socket closes. Each
// payload is copied out of the shared read buffer before queueing.
func (l *Listener) readLoop() {
	defer close(l.packets)

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			l.logger.Error("telemetry read failed", "error", err)
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case l.packets <- Datagram{Payload: payload, Source: src}:
		default:
			l.logger.Warn("ingest queue full, datagram dropped",
				"source", src.String(),
				"queue_size", l.cfg.QueueSize,
			)
		}
	}
}
