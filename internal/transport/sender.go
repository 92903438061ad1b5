package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// defaultSendTimeout bounds one outbound command write.
const defaultSendTimeout = 2 * time.Second

// SenderConfig configures the unicast command sender.
type SenderConfig struct {
	// GatewayAddr is the fallback gateway address, used when the caller
	// passes an empty destination (gateway has not reported its ip yet).
	GatewayAddr string `yaml:"gateway_addr"`

	// CommandPort is appended to destinations given as a bare IP.
	CommandPort int `yaml:"command_port"`

	// Timeout bounds a single send.
	Timeout time.Duration `yaml:"timeout"`
}

// Sender delivers encoded write commands to a gateway over unicast UDP.
// Its Send method satisfies the device registry's command sender hook.
type Sender struct {
	cfg    SenderConfig
	logger Logger
}

// NewSender creates a command sender. Zero config fields take the
// protocol defaults.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.CommandPort == 0 {
		cfg.CommandPort = DefaultTelemetryPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSendTimeout
	}
	return &Sender{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the sender.
func (s *Sender) SetLogger(logger Logger) {
	s.logger = logger
}

// Send writes one command payload to addr. An empty addr falls back to
// the configured gateway address; a bare IP gets the command port
// appended. Each send dials a fresh socket, matching the fire-and-forget
// nature of the command protocol.
func (s *Sender) Send(addr string, payload []byte) error {
	dest, err := s.resolve(addr)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("udp4", dest, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("dialing gateway %s: %w", dest, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("sending command to %s: %w", dest, err)
	}

	s.logger.Debug("command sent", "dest", dest, "bytes", len(payload))
	return nil
}

// resolve picks the destination and normalizes it to host:port form.
func (s *Sender) resolve(addr string) (string, error) {
	if addr == "" {
		addr = s.cfg.GatewayAddr
	}
	if addr == "" {
		return "", ErrNoDestination
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(s.cfg.CommandPort))
	}
	return addr, nil
}
