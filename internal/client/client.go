// Package client implements the client side of the slotline handshake.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/protocol"
)

var (
	// ErrDenied is returned by Connect when the server has no free slot.
	ErrDenied = errors.New("connection denied: server full")

	// ErrNoReply is returned by Connect when every attempt timed out.
	ErrNoReply = errors.New("no reply from server")

	// ErrNotConnected is returned by Send before a successful Connect.
	ErrNotConnected = errors.New("not connected")
)

// pollInterval bounds each blocking read so context cancellation is noticed.
const pollInterval = 200 * time.Millisecond

// Config contains client configuration.
type Config struct {
	// Server address (e.g., "127.0.0.1:1053").
	Server string

	// MaxDatagramSize is the receive buffer size.
	MaxDatagramSize int

	Retry RetryConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxDatagramSize: 1472,
		Retry:           DefaultRetryConfig(),
	}
}

// Client is a connected UDP socket to one slotline server.
type Client struct {
	cfg    Config
	conn   *net.UDPConn
	logger *slog.Logger

	connected bool
	attempts  int
	buf       []byte
}

// Dial opens a UDP socket to cfg.Server. No datagram is sent until Connect.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultConfig().MaxDatagramSize
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Server, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Server, err)
	}

	return &Client{
		cfg:  cfg,
		conn: conn,
		logger: logger.With(
			slog.String(logging.KeyComponent, "client"),
			slog.String(logging.KeyRemoteAddr, raddr.String())),
		buf: make([]byte, cfg.MaxDatagramSize),
	}, nil
}

// Connect sends connection requests until the server accepts or denies, the
// attempts run out, or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	req := protocol.EncodeConnectionRequest()

	for attempt := 0; c.cfg.Retry.MaxAttempts == 0 || attempt < c.cfg.Retry.MaxAttempts; attempt++ {
		c.attempts = attempt + 1

		if _, err := c.conn.Write(req); err != nil {
			return fmt.Errorf("send connection request: %w", err)
		}
		c.logger.Debug("connection request sent", "attempt", c.attempts)

		wait := c.cfg.Retry.withJitter(c.cfg.Retry.Delay(attempt))
		status, err := c.awaitReply(ctx, time.Now().Add(wait))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errAttemptTimeout) {
				continue
			}
			return err
		}

		switch status {
		case protocol.StatusAccepted:
			c.connected = true
			c.logger.Info("connected", "attempts", c.attempts)
			return nil
		default:
			return ErrDenied
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrNoReply, c.attempts)
}

var errAttemptTimeout = errors.New("attempt timed out")

// awaitReply reads until a connection reply arrives or deadline passes.
// Datagrams of other classes are discarded.
func (c *Client) awaitReply(ctx context.Context, deadline time.Time) (protocol.Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, errAttemptTimeout
		}

		next := time.Now().Add(pollInterval)
		if next.After(deadline) {
			next = deadline
		}
		c.conn.SetReadDeadline(next)

		n, err := c.conn.Read(c.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return 0, err
			}
			// ICMP unreachable surfaces as a read error on a connected
			// socket; the server may not be up yet, so wait out the attempt.
			c.logger.Debug("read failed while connecting", logging.KeyError, err)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Until(deadline)):
				return 0, errAttemptTimeout
			}
		}

		status, err := protocol.DecodeConnectionReply(c.buf[:n])
		if err != nil {
			c.logger.Debug("ignoring datagram while connecting", logging.KeyError, err)
			continue
		}
		return status, nil
	}
}

// Attempts returns how many requests the last Connect sent.
func (c *Client) Attempts() int {
	return c.attempts
}

// Connected reports whether the server accepted this client.
func (c *Client) Connected() bool {
	return c.connected
}

// Send frames payload with class and sends it.
func (c *Client) Send(class protocol.TrafficClass, payload []byte) error {
	if !c.connected {
		return ErrNotConnected
	}
	framed, err := protocol.EncodeData(class, payload)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(framed); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive waits for the next datagram and returns its header and body. The
// body is a copy.
func (c *Client) Receive(ctx context.Context) (protocol.Header, []byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Header{}, nil, err
		}

		next := time.Now().Add(pollInterval)
		if dl, ok := ctx.Deadline(); ok && dl.Before(next) {
			next = dl
		}
		c.conn.SetReadDeadline(next)

		n, err := c.conn.Read(c.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return protocol.Header{}, nil, fmt.Errorf("receive: %w", err)
		}

		h, body, err := protocol.DecodeHeader(c.buf[:n])
		if err != nil {
			continue
		}
		return h, append([]byte(nil), body...), nil
	}
}

// LocalAddr returns the client's socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the socket. The server slot is not released.
func (c *Client) Close() error {
	return c.conn.Close()
}
