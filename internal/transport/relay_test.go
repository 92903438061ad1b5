package transport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

// startTestRelay binds a relay on an ephemeral loopback port.
func startTestRelay(t *testing.T, cfg RelayConfig) *Relay {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	r := NewRelay(cfg)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Stop() })
	return r
}

// dialRelay connects a consumer and waits until the relay has admitted it.
func dialRelay(t *testing.T, r *Relay, want int) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return r.ClientCount() == want })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayBroadcastsToAllClients(t *testing.T) {
	r := startTestRelay(t, RelayConfig{})

	a := dialRelay(t, r, 1)
	b := dialRelay(t, r, 2)

	if err := r.Broadcast([]byte(`{"cmd":"report"}`)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, conn := range []net.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			t.Fatalf("reading fan-out: %v", err)
		}
		if line != `{"cmd":"report"}`+"\n" {
			t.Errorf("fan-out line = %q", line)
		}
	}
}

func TestRelayDropsFailingClient(t *testing.T) {
	r := startTestRelay(t, RelayConfig{WriteTimeout: 500 * time.Millisecond})

	conn := dialRelay(t, r, 1)
	conn.Close()

	// The first write after close may still land in the kernel buffer;
	// keep broadcasting until the failed write surfaces.
	deadline := time.Now().Add(2 * time.Second)
	for r.ClientCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead client never dropped")
		}
		if err := r.Broadcast([]byte(`x`)); err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-r.Failures():
		if err == nil {
			t.Error("failure queue delivered nil")
		}
	case <-time.After(2 * time.Second):
		t.Error("drop not reported on failure queue")
	}
}

func TestRelayRefusesClientsOverLimit(t *testing.T) {
	r := startTestRelay(t, RelayConfig{MaxClients: 1})

	dialRelay(t, r, 1)

	extra, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer extra.Close()

	// The refused connection is closed by the relay: the read ends.
	extra.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := extra.Read(buf); err == nil {
		t.Error("connection over the limit was not closed")
	}
	if n := r.ClientCount(); n != 1 {
		t.Errorf("client count = %d, want 1", n)
	}
}

func TestRelayStopClosesClients(t *testing.T) {
	r := startTestRelay(t, RelayConfig{})
	conn := dialRelay(t, r, 1)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("client connection still open after Stop")
	}

	if err := r.Broadcast([]byte(`x`)); err != ErrRelayStopped {
		t.Errorf("Broadcast after Stop = %v, want ErrRelayStopped", err)
	}
}

func TestRelayContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRelay(RelayConfig{Addr: "127.0.0.1:0"})
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cancel()
	waitFor(t, func() bool { return r.Broadcast(nil) == ErrRelayStopped })
}

func TestRelayStopBeforeStart(t *testing.T) {
	r := NewRelay(RelayConfig{})
	if err := r.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
}
