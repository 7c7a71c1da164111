package session

import (
	"time"

	"github.com/postalsys/slotline/internal/outbound"
	"github.com/postalsys/slotline/internal/registry"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// MaxClients is the number of client slots.
	MaxClients int

	// QueueCapacity is the number of replies buffered before the oldest is overwritten.
	QueueCapacity int

	// IdleTimeout releases slots with no traffic for this long.
	// 0 means slots are never released.
	IdleTimeout time.Duration

	// AdmissionRate limits new admissions per second from unknown senders.
	// 0 means unlimited.
	AdmissionRate float64

	// AdmissionBurst is the token bucket size for AdmissionRate.
	AdmissionBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxClients:     registry.DefaultCapacity,
		QueueCapacity:  outbound.DefaultCapacity,
		IdleTimeout:    0,
		AdmissionRate:  0,
		AdmissionBurst: 16,
	}
}
