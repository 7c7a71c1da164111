// Package agent wires configuration, logging, metrics and the UDP server into
// one running slotline process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/slotline/internal/config"
	"github.com/postalsys/slotline/internal/control"
	"github.com/postalsys/slotline/internal/health"
	"github.com/postalsys/slotline/internal/logging"
	"github.com/postalsys/slotline/internal/metrics"
	"github.com/postalsys/slotline/internal/registry"
	"github.com/postalsys/slotline/internal/server"
	"github.com/postalsys/slotline/internal/session"
)

// Agent is a running slotline server with its optional HTTP and control
// endpoints.
type Agent struct {
	cfg *config.Config

	logger    *slog.Logger
	logCloser io.Closer
	metrics   *metrics.Metrics

	dispatcher    *session.Dispatcher
	server        *server.Server
	healthServer  *health.Server
	controlServer *control.Server

	running   atomic.Bool
	startedAt time.Time
	stopOnce  sync.Once
}

// Options override parts of the agent built from config. Zero values use the
// config-derived defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Handler session.PayloadHandler
}

// New creates an agent from cfg. Nothing is bound until Start.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{cfg: cfg}

	a.logger = opts.Logger
	if a.logger == nil {
		a.logger, a.logCloser = logging.NewLoggerWithFile(cfg.Log.Level, cfg.Log.Format, logging.FileConfig{
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		})
	}

	a.metrics = opts.Metrics
	if a.metrics == nil {
		a.metrics = metrics.NewIsolated()
	}

	handler := opts.Handler
	if handler == nil {
		if cfg.Server.Echo {
			handler = session.EchoHandler{}
		} else {
			handler = session.NopHandler{}
		}
	}

	d, err := session.New(session.Config{
		MaxClients:     cfg.Server.MaxClients,
		QueueCapacity:  cfg.Server.QueueCapacity,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AdmissionRate:  cfg.Server.AdmissionRate,
		AdmissionBurst: cfg.Server.AdmissionBurst,
	}, handler, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	a.dispatcher = d

	a.server = server.New(server.Config{
		Listen:          cfg.Server.Listen,
		MaxDatagramSize: cfg.Server.MaxDatagramSize,
		IdleTimeout:     cfg.Server.IdleTimeout,
	}, d, a.logger, a.metrics)

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
			Gatherer:     a.metrics.Gatherer(),
		}, a)
	}

	if cfg.Control.Enabled {
		ctlCfg := control.DefaultServerConfig()
		ctlCfg.SocketPath = cfg.Control.SocketPath
		a.controlServer = control.NewServer(ctlCfg, a)
	}

	return a, nil
}

// Start binds the UDP sockets and starts the optional endpoints. If any
// component fails to start, the ones already started are stopped.
func (a *Agent) Start(ctx context.Context) error {
	if a.running.Load() {
		return fmt.Errorf("agent already running")
	}

	a.logger.Info("starting slotline",
		logging.KeyComponent, "agent",
		"max_clients", a.cfg.Server.MaxClients,
		"queue_capacity", a.cfg.Server.QueueCapacity)

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if a.healthServer != nil {
		if err := a.healthServer.Start(); err != nil {
			a.logger.Error("failed to start HTTP server",
				logging.KeyAddress, a.cfg.Health.Address,
				logging.KeyError, err)
			a.server.Stop()
			return fmt.Errorf("start HTTP server: %w", err)
		}
		a.logger.Info("HTTP server started",
			logging.KeyAddress, a.healthServer.Address().String())
	}

	if a.controlServer != nil {
		if err := a.controlServer.Start(); err != nil {
			a.logger.Error("failed to start control socket",
				logging.KeyAddress, a.cfg.Control.SocketPath,
				logging.KeyError, err)
			if a.healthServer != nil {
				a.healthServer.Stop()
			}
			a.server.Stop()
			return fmt.Errorf("start control socket: %w", err)
		}
		a.logger.Info("control socket started",
			logging.KeyAddress, a.controlServer.SocketPath())
	}

	a.startedAt = time.Now()
	a.running.Store(true)

	a.logger.Info("slotline started",
		"listeners", len(a.cfg.Server.Listen))

	return nil
}

// Stop shuts everything down. It is safe to call more than once.
func (a *Agent) Stop() error {
	var errs []error

	a.stopOnce.Do(func() {
		a.running.Store(false)

		if a.controlServer != nil {
			if err := a.controlServer.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop control socket: %w", err))
			}
		}
		if a.healthServer != nil {
			if err := a.healthServer.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop HTTP server: %w", err))
			}
		}
		if err := a.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}

		a.logger.Info("slotline stopped")
		if a.logCloser != nil {
			a.logCloser.Close()
		}
	})

	return errors.Join(errs...)
}

// StopWithContext stops the agent, giving up when ctx is done.
func (a *Agent) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- a.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the agent is running.
func (a *Agent) IsRunning() bool {
	return a.running.Load() && a.server.IsRunning()
}

// Listeners returns the bound UDP addresses.
func (a *Agent) Listeners() []string {
	addrs := a.server.Addrs()
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.String()
	}
	return out
}

// StartedAt returns when Start completed.
func (a *Agent) StartedAt() time.Time {
	return a.startedAt
}

// Stats returns dispatcher statistics.
func (a *Agent) Stats() session.Stats {
	return a.dispatcher.Stats()
}

// Slots returns the connected client slots.
func (a *Agent) Slots() []registry.Slot {
	return a.dispatcher.Slots()
}

// Release frees a client slot.
func (a *Agent) Release(index int) error {
	return a.dispatcher.Release(index)
}

// HealthAddress returns the HTTP server address, or "" when disabled.
func (a *Agent) HealthAddress() string {
	if a.healthServer == nil || a.healthServer.Address() == nil {
		return ""
	}
	return a.healthServer.Address().String()
}

// Metrics returns the agent's metrics.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}
