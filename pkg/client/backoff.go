package client

import (
	"math"
	"time"
)

// Backoff returns how long to wait before reconnect attempt n (1-based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// FixedBackoff waits the same delay before every attempt.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Next(int) time.Duration {
	return b.Delay
}

// ExponentialBackoff doubles from Min on every attempt, capped at Max.
type ExponentialBackoff struct {
	Min time.Duration
	Max time.Duration
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Min) * math.Pow(2, float64(min(attempt-1, 30))))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// DefaultBackoff is the reconnect policy used when none is configured.
var DefaultBackoff Backoff = FixedBackoff{Delay: 3 * time.Second}
