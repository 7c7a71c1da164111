// Package server binds the UDP sockets that feed a session.Dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/metrics"
	"github.com/postalsys/slotline/internal/outbound"
	"github.com/postalsys/slotline/internal/recovery"
	"github.com/postalsys/slotline/internal/session"
)

// DefaultMaxDatagramSize fits an unfragmented datagram on a 1500-byte MTU link.
const DefaultMaxDatagramSize = 1472

// minExpiryInterval bounds how often the expiry ticker fires.
const minExpiryInterval = 10 * time.Millisecond

// ErrUnknownListener is returned when a packet names a socket that does not exist.
var ErrUnknownListener = errors.New("unknown listener")

// ErrNotRunning is returned when sending on a stopped server.
var ErrNotRunning = errors.New("server not running")

// Config contains UDP server configuration.
type Config struct {
	// Listen addresses, one socket each (e.g., "0.0.0.0:1053").
	Listen []string

	// MaxDatagramSize is the largest datagram accepted. Larger ones are dropped.
	MaxDatagramSize int

	// IdleTimeout enables the slot expiry ticker when positive.
	IdleTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:          []string{"0.0.0.0:1053", "0.0.0.0:5353"},
		MaxDatagramSize: DefaultMaxDatagramSize,
	}
}

// Server reads datagrams from every listen socket into the dispatcher and
// writes queued packets back out.
type Server struct {
	cfg        Config
	dispatcher *session.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	conns   []*net.UDPConn
	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Sockets are not bound until Start.
func New(cfg Config, d *session.Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Server {
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.NewIsolated()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.With(slog.String(logging.KeyComponent, "server")),
		metrics:    m,
	}
}

// Start binds every listen address and starts the read, write and expiry
// goroutines. On a bind failure the sockets already bound are closed.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	if len(s.cfg.Listen) == 0 {
		return errors.New("no listen addresses configured")
	}

	conns := make([]*net.UDPConn, 0, len(s.cfg.Listen))
	for _, addr := range s.cfg.Listen {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			closeAll(conns)
			return fmt.Errorf("resolve %s: %w", addr, err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			closeAll(conns)
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}
	s.conns = conns

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	for i, conn := range conns {
		s.logger.Info("listening",
			logging.KeyListener, i,
			logging.KeyLocalAddr, conn.LocalAddr().String())

		s.wg.Add(1)
		go s.readLoop(ctx, i, conn)
	}

	s.wg.Add(1)
	go s.writeLoop(ctx)

	if s.cfg.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.expiryLoop(ctx)
	}

	return nil
}

// Stop waits for the read loops to finish, flushes packets still queued,
// then closes the sockets.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.cancel()
	now := time.Now()
	for _, conn := range s.conns {
		conn.SetReadDeadline(now)
	}
	s.wg.Wait()

	if _, err := s.dispatcher.OnWritable(s); err != nil {
		s.logger.Debug("flush on stop failed", logging.KeyError, err)
	}
	s.running.Store(false)

	var errs []error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("stopped")
	return errors.Join(errs...)
}

// Addrs returns the bound socket addresses in listener order.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.conns))
	for i, conn := range s.conns {
		addrs[i] = conn.LocalAddr()
	}
	return addrs
}

// IsRunning reports whether the server has been started and not stopped.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SendPacket writes p through the socket it names.
func (s *Server) SendPacket(p outbound.Packet) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if p.Listener < 0 || p.Listener >= len(s.conns) {
		return fmt.Errorf("%w: %d", ErrUnknownListener, p.Listener)
	}
	_, err := s.conns[p.Listener].WriteToUDPAddrPort(p.Payload, p.Destination.AddrPort())
	return err
}

// readLoop feeds datagrams from one socket to the dispatcher.
func (s *Server) readLoop(ctx context.Context, listener int, conn *net.UDPConn) {
	defer s.wg.Done()

	name := fmt.Sprintf("server.read.%d", listener)
	onPanic := func(any) { s.metrics.RecordPanic(name) }

	// One spare byte detects datagrams larger than the limit.
	buf := make([]byte, s.cfg.MaxDatagramSize+1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline for responsiveness to cancellation
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Debug("read failed",
				logging.KeyListener, listener,
				logging.KeyError, err)
			continue
		}

		if n > s.cfg.MaxDatagramSize {
			s.metrics.RecordDrop(metrics.DropOversized)
			s.logger.Debug("dropping oversized datagram",
				logging.KeyRemoteAddr, from.String(),
				logging.KeyBytes, n)
			continue
		}

		recovery.Run(s.logger, name, func() {
			s.dispatcher.OnDatagramReceived(listener, buf[:n], from)
		}, onPanic)
	}
}

// writeLoop drains the outbound queue whenever the dispatcher signals.
func (s *Server) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer recovery.RecoverWithCallback(s.logger, "server.write", func(any) {
		s.metrics.RecordPanic("server.write")
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dispatcher.Wake():
			// Send failures are logged and counted by the dispatcher.
			s.dispatcher.OnWritable(s)
		}
	}
}

// expiryLoop periodically releases idle slots.
func (s *Server) expiryLoop(ctx context.Context) {
	defer s.wg.Done()
	defer recovery.RecoverWithCallback(s.logger, "server.expiry", func(any) {
		s.metrics.RecordPanic("server.expiry")
	})

	ticker := time.NewTicker(expiryInterval(s.cfg.IdleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatcher.ExpireIdle(now)
		}
	}
}

// expiryInterval checks twice per idle timeout, but no more often than
// minExpiryInterval.
func expiryInterval(idle time.Duration) time.Duration {
	return max(idle/2, minExpiryInterval)
}

func closeAll(conns []*net.UDPConn) {
	for _, c := range conns {
		c.Close()
	}
}
