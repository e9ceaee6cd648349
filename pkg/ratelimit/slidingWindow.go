// Package ratelimit bounds outbound provider calls with a sliding window.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

// SlidingWindow admits at most Limit calls in any trailing Window.
// It is safe for concurrent use.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	now    func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// NewSlidingWindow creates a limiter. Non-positive arguments fall back to
// 100 calls per minute.
func NewSlidingWindow(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	s := &SlidingWindow{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, limit),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records a call and returns true when the window has room.
// Check and record happen under one lock.
func (s *SlidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if len(s.calls) >= s.limit {
		return false
	}
	s.calls = append(s.calls, now)
	return true
}

// WaitTime returns how long until the oldest recorded call leaves the
// window. It is zero while the window still has room.
func (s *SlidingWindow) WaitTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if len(s.calls) < s.limit {
		return 0
	}
	wait := s.calls[0].Add(s.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Remaining returns how many calls would be admitted right now.
func (s *SlidingWindow) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(s.now())
	return s.limit - len(s.calls)
}

// prune drops calls that are outside the window. Calls are kept in
// insertion order, which is also time order.
func (s *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && !s.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.calls = append(s.calls[:0], s.calls[i:]...)
	}
}
