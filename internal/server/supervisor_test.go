package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"tracklink/decoder/internal/config"
	"tracklink/decoder/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		NodeID:      "test-node",
		IdleTimeout: time.Second,
		DrainGrace:  time.Second,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSupervisorBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	reg := protocol.NewRegistry()
	if err := reg.Register(port, stubDecoder{}); err != nil {
		t.Fatal(err)
	}

	sup := New(testConfig(), reg, &captureSink{}, nil)
	if err := sup.Start(); err == nil {
		sup.Stop()
		t.Fatal("Start() succeeded on an occupied port")
	}
}

func TestSupervisorAcceptsAndDrains(t *testing.T) {
	port := freePort(t)

	reg := protocol.NewRegistry()
	if err := reg.Register(port, stubDecoder{}); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.HTTPPort = freePort(t)

	sink := &captureSink{}
	sup := New(cfg, reg, sink, nil)
	if err := sup.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("(L9)(P1)")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	ack := make([]byte, 8)
	if n, err := conn.Read(ack); err != nil || string(ack[:n]) != "+L" {
		t.Fatalf("login ack = %q, %v", ack[:n], err)
	}

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 }, "event not published through supervisor")

	infos := sup.SessionInfos()
	if len(infos) != 1 {
		t.Fatalf("SessionInfos() has %d entries, want 1", len(infos))
	}
	if infos[0].DeviceID != "9" || infos[0].Protocol != "stub" || infos[0].State != "active" {
		t.Errorf("session info = %+v", infos[0])
	}

	sup.Stop()

	waitFor(t, func() bool { return len(sup.SessionInfos()) == 0 }, "sessions not reaped on shutdown")
}
