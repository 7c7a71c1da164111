package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/postalsys/slotline/internal/client"
	"github.com/postalsys/slotline/internal/config"
	"github.com/postalsys/slotline/internal/control"
	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Listen = []string{"127.0.0.1:0"}
	cfg.Server.MaxClients = 2
	cfg.Server.Echo = true
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	a, err := New(cfg, Options{Logger: logging.NopLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a
}

func connect(t *testing.T, addr string) (*client.Client, error) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Server = addr
	cfg.Retry.InitialDelay = 100 * time.Millisecond
	cfg.Retry.MaxAttempts = 5
	c, err := client.Dial(cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, c.Connect(context.Background())
}

func TestNew(t *testing.T) {
	a, err := New(testConfig(t), Options{Logger: logging.NopLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("New agent should not be running")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxClients = 0
	if _, err := New(cfg, Options{}); err == nil {
		t.Error("New() should fail for invalid config")
	}
	if _, err := New(nil, Options{}); err == nil {
		t.Error("New() should fail for nil config")
	}
}

func TestAgent_StartStop(t *testing.T) {
	a := newTestAgent(t, testConfig(t))

	if !a.IsRunning() {
		t.Error("agent should be running")
	}
	if len(a.Listeners()) != 1 {
		t.Errorf("Listeners() = %v, want 1", a.Listeners())
	}
	if a.StartedAt().IsZero() {
		t.Error("StartedAt() is zero after Start")
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if a.IsRunning() {
		t.Error("agent should not be running after Stop")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestAgent_EndToEnd(t *testing.T) {
	a := newTestAgent(t, testConfig(t))
	addr := a.Listeners()[0]

	first, err := connect(t, addr)
	if err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if _, err := connect(t, addr); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if _, err := connect(t, addr); !errors.Is(err, client.ErrDenied) {
		t.Fatalf("third Connect() error = %v, want ErrDenied", err)
	}

	if err := first.Send(protocol.ClassUnreliable, []byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h, body, err := first.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if h.Class != protocol.ClassUnreliable || !bytes.Equal(body, []byte("hello")) {
		t.Errorf("echo = %s %q, want UNRELIABLE hello", h.Class, body)
	}

	st := a.Stats()
	if st.Connected != 2 || st.Capacity != 2 {
		t.Errorf("Stats() = %+v, want 2/2", st)
	}
	if len(a.Slots()) != 2 {
		t.Errorf("Slots() = %v", a.Slots())
	}
}

func TestAgent_HealthAndControl(t *testing.T) {
	cfg := testConfig(t)
	cfg.Health.Enabled = true
	cfg.Health.Address = "127.0.0.1:0"
	cfg.Control.Enabled = true
	cfg.Control.SocketPath = filepath.Join(t.TempDir(), "slotline.sock")

	a := newTestAgent(t, cfg)
	if _, err := connect(t, a.Listeners()[0]); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		resp, err = http.Get("http://" + a.HealthAddress() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()

	var healthz map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&healthz); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if healthz["status"] != "healthy" || int(healthz["connected"].(float64)) != 1 {
		t.Errorf("/healthz = %v", healthz)
	}

	ctl := control.NewClient(cfg.Control.SocketPath)
	defer ctl.Close()

	status, err := ctl.Status(context.Background())
	if err != nil {
		t.Fatalf("control Status() error = %v", err)
	}
	if !status.Running || status.Connected != 1 || status.Capacity != 2 {
		t.Errorf("control status = %+v", status)
	}

	slots, err := ctl.Slots(context.Background())
	if err != nil {
		t.Fatalf("control Slots() error = %v", err)
	}
	if len(slots.Slots) != 1 || slots.Slots[0].Index != 0 {
		t.Fatalf("control slots = %+v", slots)
	}

	if _, err := ctl.Release(context.Background(), 0); err != nil {
		t.Fatalf("control Release() error = %v", err)
	}
	if st := a.Stats(); st.Connected != 0 {
		t.Errorf("Connected = %d after release, want 0", st.Connected)
	}
}

func TestAgent_StartFailsOnBusyPort(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer conn.Close()

	cfg := testConfig(t)
	cfg.Server.Listen = []string{conn.LocalAddr().String()}

	a, err := New(cfg, Options{Logger: logging.NopLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		a.Stop()
		t.Fatal("Start() should fail on a busy port")
	}
}

func TestAgent_StopWithContext(t *testing.T) {
	a := newTestAgent(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.StopWithContext(ctx); err != nil {
		t.Errorf("StopWithContext() error = %v", err)
	}
}
