package loadtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/postalsys/slotline/internal/client"
	"github.com/postalsys/slotline/internal/protocol"
	"github.com/postalsys/slotline/internal/server"
	"github.com/postalsys/slotline/internal/session"
)

// mockConn is an in-memory client that echoes what it sends.
type mockConn struct {
	connectErr error
	echo       bool
	replies    chan []byte

	mu     sync.Mutex
	closed bool
}

func newMockConn(connectErr error, echo bool) *mockConn {
	return &mockConn{connectErr: connectErr, echo: echo, replies: make(chan []byte, 1)}
}

func (c *mockConn) Connect(ctx context.Context) error {
	return c.connectErr
}

func (c *mockConn) Send(class protocol.TrafficClass, payload []byte) error {
	if c.echo {
		c.replies <- append([]byte(nil), payload...)
	}
	return nil
}

func (c *mockConn) Receive(ctx context.Context) (protocol.Header, []byte, error) {
	select {
	case b := <-c.replies:
		return protocol.Header{Class: protocol.ClassUnreliable}, b, nil
	case <-ctx.Done():
		return protocol.Header{}, nil, ctx.Err()
	}
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestAdmissionTester_Classifies(t *testing.T) {
	var mu sync.Mutex
	var made []*mockConn
	n := 0

	dial := func() (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		var err error
		switch {
		case n <= 3:
		case n == 4:
			err = client.ErrDenied
		case n == 5:
			err = client.ErrNoReply
		default:
			err = errors.New("boom")
		}
		c := newMockConn(err, false)
		made = append(made, c)
		return c, nil
	}

	metrics, err := NewAdmissionTester(6).Run(context.Background(), dial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if metrics.TotalClients != 6 {
		t.Errorf("TotalClients = %d, want 6", metrics.TotalClients)
	}
	if metrics.Accepted != 3 || metrics.Denied != 1 || metrics.NoReply != 1 || metrics.Errors != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
	for i, c := range made {
		if !c.closed {
			t.Errorf("conn %d not closed", i)
		}
	}
}

func TestAdmissionTester_DialError(t *testing.T) {
	dial := func() (Conn, error) { return nil, errors.New("no socket") }

	metrics, err := NewAdmissionTester(2).Run(context.Background(), dial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.Errors != 2 || metrics.Accepted != 0 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestEchoLoadGenerator(t *testing.T) {
	dial := func() (Conn, error) { return newMockConn(nil, true), nil }

	metrics, err := NewEchoLoadGenerator(2, 64, 100*time.Millisecond).Run(context.Background(), dial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if metrics.Received == 0 {
		t.Error("expected at least one echo")
	}
	if metrics.Mismatched != 0 {
		t.Errorf("Mismatched = %d, want 0", metrics.Mismatched)
	}
	if metrics.TotalBytes != metrics.Received*64 {
		t.Errorf("TotalBytes = %d, want %d", metrics.TotalBytes, metrics.Received*64)
	}
	t.Logf("Echo metrics: sent=%d, received=%d, avg=%.3fms, pps=%.0f",
		metrics.Sent, metrics.Received, metrics.AvgLatencyMs, metrics.PacketsPerSecond)
}

func TestEchoLoadGenerator_CountsLoss(t *testing.T) {
	dial := func() (Conn, error) { return newMockConn(nil, false), nil }

	gen := NewEchoLoadGenerator(1, 16, 150*time.Millisecond).WithReplyTimeout(20 * time.Millisecond)
	metrics, err := gen.Run(context.Background(), dial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.Lost == 0 {
		t.Error("expected lost packets")
	}
	if metrics.Received != 0 || metrics.MinLatencyMs != 0 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestEchoLoadGenerator_ConnectFailure(t *testing.T) {
	dial := func() (Conn, error) { return newMockConn(client.ErrDenied, true), nil }

	metrics, err := NewEchoLoadGenerator(3, 16, 50*time.Millisecond).Run(context.Background(), dial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.ConnectFailures != 3 {
		t.Errorf("ConnectFailures = %d, want 3", metrics.ConnectFailures)
	}
}

func startEchoServer(t *testing.T, maxClients int) string {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.MaxClients = maxClients
	d, err := session.New(cfg, session.EchoHandler{}, nil, nil)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Listen = []string{"127.0.0.1:0"}
	srv := server.New(srvCfg, d, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv.Addrs()[0].String()
}

func TestAdmissionTester_RealServer(t *testing.T) {
	cfg := client.DefaultConfig()
	cfg.Server = startEchoServer(t, 4)

	metrics, err := NewAdmissionTester(6).Run(context.Background(), ClientDialer(cfg, nil))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.Accepted != 4 {
		t.Errorf("Accepted = %d, want 4", metrics.Accepted)
	}
	if metrics.Denied != 2 {
		t.Errorf("Denied = %d, want 2", metrics.Denied)
	}
}

func TestEchoLoadGenerator_RealServer(t *testing.T) {
	cfg := client.DefaultConfig()
	cfg.Server = startEchoServer(t, 8)

	metrics, err := NewEchoLoadGenerator(4, 128, 200*time.Millisecond).Run(context.Background(), ClientDialer(cfg, nil))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if metrics.ConnectFailures != 0 {
		t.Errorf("ConnectFailures = %d, want 0", metrics.ConnectFailures)
	}
	if metrics.Received == 0 {
		t.Error("expected echoes from server")
	}
}

func BenchmarkEchoRoundTrip(b *testing.B) {
	cfg := session.DefaultConfig()
	d, err := session.New(cfg, session.EchoHandler{}, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	srvCfg := server.DefaultConfig()
	srvCfg.Listen = []string{"127.0.0.1:0"}
	srv := server.New(srvCfg, d, nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer srv.Stop()

	ccfg := client.DefaultConfig()
	ccfg.Server = srv.Addrs()[0].String()
	c, err := client.Dial(ccfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, 512)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := c.Send(protocol.ClassUnreliable, payload); err != nil {
			b.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _, err := c.Receive(ctx)
		cancel()
		if err != nil {
			b.Fatal(err)
		}
	}
}
