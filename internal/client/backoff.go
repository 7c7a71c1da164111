package client

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how connection requests are repeated while no reply
// arrives.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means unlimited
	Jitter       float64
}

// Bounds applied by Delay regardless of configuration.
const (
	MinRetryDelay = 10 * time.Millisecond
	MaxRetryDelay = time.Minute
)

// DefaultRetryConfig returns sensible defaults for connection retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  8,
		Jitter:       0.2,
	}
}

// Delay returns the wait after the given attempt (0-indexed), before jitter.
// The result is never below MinRetryDelay and never above MaxDelay, or
// MaxRetryDelay when MaxDelay is 0.
func (c RetryConfig) Delay(attempt int) time.Duration {
	ceiling := c.MaxDelay
	if ceiling <= 0 || ceiling > MaxRetryDelay {
		ceiling = MaxRetryDelay
	}

	delay := float64(c.InitialDelay)
	if attempt > 0 {
		delay *= math.Pow(c.Multiplier, float64(attempt))
	}
	// Also catches +Inf and NaN from an overflowing multiplier.
	if !(delay <= float64(ceiling)) {
		delay = float64(ceiling)
	}
	if delay < float64(MinRetryDelay) {
		delay = float64(MinRetryDelay)
	}

	return time.Duration(delay)
}

// withJitter spreads d by up to ±Jitter of its length.
func (c RetryConfig) withJitter(d time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return d
	}

	jitterRange := float64(d) * c.Jitter
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange

	result := time.Duration(float64(d) + jitter)
	if result <= 0 {
		result = d
	}
	return result
}
