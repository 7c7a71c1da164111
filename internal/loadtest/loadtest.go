// Package loadtest provides load testing utilities for slotline servers.
package loadtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/slotline/internal/client"
	"github.com/postalsys/slotline/internal/protocol"
)

// Conn is one client session as seen by the load generators.
// *client.Client satisfies it.
type Conn interface {
	Connect(ctx context.Context) error
	Send(class protocol.TrafficClass, payload []byte) error
	Receive(ctx context.Context) (protocol.Header, []byte, error)
	Close() error
}

// DialFunc opens a new, not yet connected, client.
type DialFunc func() (Conn, error)

// ClientDialer returns a DialFunc that opens real UDP clients.
func ClientDialer(cfg client.Config, logger *slog.Logger) DialFunc {
	return func() (Conn, error) {
		c, err := client.Dial(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// AdmissionMetrics contains metrics from admission testing.
type AdmissionMetrics struct {
	TotalClients     int64
	Accepted         int64
	Denied           int64
	NoReply          int64
	Errors           int64
	AvgConnectTimeMs float64
	MaxConnectTimeMs float64
	Duration         time.Duration
}

// AdmissionTester opens many clients at once and records how the server
// admits them.
type AdmissionTester struct {
	clients int
	mu      sync.Mutex
}

// NewAdmissionTester creates a new admission tester.
func NewAdmissionTester(clients int) *AdmissionTester {
	return &AdmissionTester{clients: clients}
}

// Run connects all clients concurrently and closes them once every attempt
// has finished.
func (t *AdmissionTester) Run(ctx context.Context, dial DialFunc) (*AdmissionMetrics, error) {
	var wg sync.WaitGroup
	metrics := &AdmissionMetrics{}
	conns := make(chan Conn, t.clients)
	startTime := time.Now()

	for i := 0; i < t.clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.connectOne(ctx, dial, metrics, conns)
		}()
	}

	wg.Wait()
	close(conns)
	metrics.Duration = time.Since(startTime)

	for c := range conns {
		c.Close()
	}

	if metrics.Accepted > 0 {
		metrics.AvgConnectTimeMs = metrics.AvgConnectTimeMs / float64(metrics.Accepted)
	}
	if err := ctx.Err(); err != nil {
		return metrics, err
	}
	return metrics, nil
}

func (t *AdmissionTester) connectOne(ctx context.Context, dial DialFunc, metrics *AdmissionMetrics, conns chan<- Conn) {
	atomic.AddInt64(&metrics.TotalClients, 1)

	c, err := dial()
	if err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	conns <- c

	start := time.Now()
	err = c.Connect(ctx)
	elapsed := float64(time.Since(start).Milliseconds())

	switch {
	case err == nil:
		atomic.AddInt64(&metrics.Accepted, 1)
		t.mu.Lock()
		metrics.AvgConnectTimeMs += elapsed
		if elapsed > metrics.MaxConnectTimeMs {
			metrics.MaxConnectTimeMs = elapsed
		}
		t.mu.Unlock()
	case errors.Is(err, client.ErrDenied):
		atomic.AddInt64(&metrics.Denied, 1)
	case errors.Is(err, client.ErrNoReply):
		atomic.AddInt64(&metrics.NoReply, 1)
	default:
		atomic.AddInt64(&metrics.Errors, 1)
	}
}

// EchoMetrics contains metrics from echo round-trip testing.
type EchoMetrics struct {
	Workers          int64
	ConnectFailures  int64
	Sent             int64
	Received         int64
	Lost             int64
	Mismatched       int64
	TotalBytes       int64
	AvgLatencyMs     float64
	MaxLatencyMs     float64
	MinLatencyMs     float64
	Duration         time.Duration
	PacketsPerSecond float64
}

// EchoLoadGenerator keeps a set of connected clients busy with data
// round-trips against a server that echoes payloads.
type EchoLoadGenerator struct {
	concurrency  int
	payloadSize  int
	duration     time.Duration
	class        protocol.TrafficClass
	replyTimeout time.Duration

	metrics EchoMetrics
	mu      sync.Mutex
}

// NewEchoLoadGenerator creates a new echo load generator.
func NewEchoLoadGenerator(concurrency, payloadSize int, duration time.Duration) *EchoLoadGenerator {
	return &EchoLoadGenerator{
		concurrency:  concurrency,
		payloadSize:  payloadSize,
		duration:     duration,
		class:        protocol.ClassUnreliable,
		replyTimeout: time.Second,
		metrics: EchoMetrics{
			MinLatencyMs: float64(^uint64(0) >> 1),
		},
	}
}

// WithClass sets the traffic class used for payloads.
func (g *EchoLoadGenerator) WithClass(class protocol.TrafficClass) *EchoLoadGenerator {
	g.class = class
	return g
}

// WithReplyTimeout sets how long a worker waits for each echo.
func (g *EchoLoadGenerator) WithReplyTimeout(d time.Duration) *EchoLoadGenerator {
	g.replyTimeout = d
	return g
}

// Run executes the echo load test.
func (g *EchoLoadGenerator) Run(ctx context.Context, dial DialFunc) (*EchoMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, g.duration)
	defer cancel()

	var wg sync.WaitGroup
	startTime := time.Now()

	for i := 0; i < g.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runWorker(ctx, dial)
		}()
	}

	wg.Wait()
	g.metrics.Duration = time.Since(startTime)

	if g.metrics.Duration > 0 {
		g.metrics.PacketsPerSecond = float64(g.metrics.Received) / g.metrics.Duration.Seconds()
	}
	if g.metrics.Received > 0 {
		g.metrics.AvgLatencyMs = g.metrics.AvgLatencyMs / float64(g.metrics.Received)
	} else {
		g.metrics.MinLatencyMs = 0
	}

	return &g.metrics, nil
}

func (g *EchoLoadGenerator) runWorker(ctx context.Context, dial DialFunc) {
	atomic.AddInt64(&g.metrics.Workers, 1)

	c, err := dial()
	if err != nil {
		atomic.AddInt64(&g.metrics.ConnectFailures, 1)
		return
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		atomic.AddInt64(&g.metrics.ConnectFailures, 1)
		return
	}

	data := make([]byte, g.payloadSize)
	rand.Read(data)

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := c.Send(g.class, data); err != nil {
			return
		}
		atomic.AddInt64(&g.metrics.Sent, 1)

		rctx, rcancel := context.WithTimeout(ctx, g.replyTimeout)
		_, body, err := c.Receive(rctx)
		rcancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			atomic.AddInt64(&g.metrics.Lost, 1)
			continue
		}
		if !bytes.Equal(body, data) {
			atomic.AddInt64(&g.metrics.Mismatched, 1)
			continue
		}

		latency := float64(time.Since(start).Microseconds()) / 1000
		atomic.AddInt64(&g.metrics.Received, 1)
		atomic.AddInt64(&g.metrics.TotalBytes, int64(len(body)))

		g.mu.Lock()
		g.metrics.AvgLatencyMs += latency
		if latency > g.metrics.MaxLatencyMs {
			g.metrics.MaxLatencyMs = latency
		}
		if latency < g.metrics.MinLatencyMs {
			g.metrics.MinLatencyMs = latency
		}
		g.mu.Unlock()
	}
}
