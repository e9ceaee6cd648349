// Package backoff computes retry delays for failed delivery attempts.
package backoff

import "time"

const (
	DefaultInitial = time.Second
	DefaultMax     = 30 * time.Second
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns the wait after the given failed attempt (1-indexed).
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay after every failure:
// min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy. Non-positive values fall
// back to the defaults.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Default returns the 1s..30s exponential strategy.
func Default() *Exponential {
	return NewExponential(DefaultInitial, DefaultMax)
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.Max {
			return e.Max
		}
	}
	if d > e.Max {
		return e.Max
	}
	return d
}
