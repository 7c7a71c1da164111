// Package control provides a Unix socket control interface for slotline.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/postalsys/slotline/internal/registry"
	"github.com/postalsys/slotline/internal/session"
)

// ServerInfo provides server information for the control interface.
type ServerInfo interface {
	// IsRunning returns true if the UDP server is running.
	IsRunning() bool

	// Listeners returns the bound socket addresses.
	Listeners() []string

	// StartedAt returns when the server started.
	StartedAt() time.Time

	// Stats returns dispatcher statistics.
	Stats() session.Stats

	// Slots returns the connected client slots.
	Slots() []registry.Slot

	// Release frees a client slot.
	Release(index int) error
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	Running          bool      `json:"running"`
	Listeners        []string  `json:"listeners"`
	StartedAt        time.Time `json:"started_at"`
	Capacity         int       `json:"capacity"`
	Connected        int       `json:"connected"`
	QueueDepth       int       `json:"queue_depth"`
	QueueCapacity    int       `json:"queue_capacity"`
	QueueOverwritten uint64    `json:"queue_overwritten"`
}

// SlotsResponse is the response for the slots endpoint.
type SlotsResponse struct {
	Slots []registry.Slot `json:"slots"`
}

// ReleaseResponse is the response for the release endpoint.
type ReleaseResponse struct {
	Slot     int  `json:"slot"`
	Released bool `json:"released"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./slotline.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg      ServerConfig
	info     ServerInfo
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server.
func NewServer(cfg ServerConfig, info ServerInfo) *Server {
	s := &Server{
		cfg:  cfg,
		info: info,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/slots", s.handleSlots)
	mux.HandleFunc("/slots/", s.handleRelease)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	// Remove existing socket file if it exists
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	// Remove socket file
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// handleStatus handles the status endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.info.Stats()
	response := StatusResponse{
		Running:          s.info.IsRunning(),
		Listeners:        s.info.Listeners(),
		StartedAt:        s.info.StartedAt(),
		Capacity:         stats.Capacity,
		Connected:        stats.Connected,
		QueueDepth:       stats.QueueDepth,
		QueueCapacity:    stats.QueueCapacity,
		QueueOverwritten: stats.Overwritten,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSlots handles the slots endpoint.
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slots := s.info.Slots()
	if slots == nil {
		slots = []registry.Slot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SlotsResponse{Slots: slots})
}

// handleRelease handles POST /slots/{index}/release.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/slots/")
	indexStr, ok := strings.CutSuffix(path, "/release")
	if !ok {
		http.NotFound(w, r)
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		http.Error(w, "invalid slot index", http.StatusBadRequest)
		return
	}

	if err := s.info.Release(index); err != nil {
		if errors.Is(err, registry.ErrInvalidSlotIndex) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReleaseResponse{Slot: index, Released: true})
}
