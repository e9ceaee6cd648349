// Package capture records outgoing messages in memory instead of sending
// them, for previews and tests.
package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoff-tech/go-notify/pkg/delivery"
	"github.com/zoff-tech/go-notify/pkg/job"
)

const DefaultCapacity = 1000

// Captured is an immutable snapshot of a message handed to the harness.
type Captured struct {
	ID         string      `json:"id"`
	Message    job.Message `json:"message"`
	CapturedAt time.Time   `json:"captured_at"`
}

type Stats struct {
	Total       int            `json:"total"`
	ByRecipient map[string]int `json:"by_recipient"`
	BySubject   map[string]int `json:"by_subject"`
	LastHour    int            `json:"last_hour"`
}

// Harness is a bounded FIFO buffer of captured messages. When full the
// oldest message is evicted.
type Harness struct {
	mu       sync.RWMutex
	buf      []Captured
	head     int // index of the oldest entry
	size     int
	capacity int
	now      func() time.Time
}

var _ delivery.Sender = (*Harness)(nil)

// Option configures a Harness.
type Option func(*Harness)

// WithClock replaces time.Now for capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

// New creates a harness. A non-positive capacity falls back to 1000.
func New(capacity int, opts ...Option) *Harness {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Harness{
		buf:      make([]Captured, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Capture stores a deep copy of msg and returns its snapshot.
func (h *Harness) Capture(msg *job.Message) Captured {
	c := Captured{
		ID:         uuid.NewString(),
		CapturedAt: h.now(),
	}
	if msg != nil {
		c.Message = *msg.Clone()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.buf[(h.head+h.size)%h.capacity] = c
		h.size++
	} else {
		h.buf[h.head] = c
		h.head = (h.head + 1) % h.capacity
	}
	return snapshot(c)
}

// Send captures the message and reports it as delivered, using the
// capture id as provider message id.
func (h *Harness) Send(_ context.Context, msg *job.Message) delivery.Result {
	if msg == nil {
		return delivery.Permanent(delivery.ErrInvalidMessage)
	}
	c := h.Capture(msg)
	return delivery.Delivered(c.ID, nil)
}

func (h *Harness) Get(id string) (Captured, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := 0; i < h.size; i++ {
		if c := h.at(i); c.ID == id {
			return snapshot(c), true
		}
	}
	return Captured{}, false
}

// List returns every captured message, newest first.
func (h *Harness) List() []Captured {
	return h.filter(func(Captured) bool { return true })
}

// ForRecipient returns messages addressed to addr in To, Cc or Bcc,
// matched case-insensitively, newest first.
func (h *Harness) ForRecipient(addr string) []Captured {
	addr = strings.TrimSpace(addr)
	return h.filter(func(c Captured) bool {
		for _, r := range c.Message.Recipients() {
			if strings.EqualFold(strings.TrimSpace(r), addr) {
				return true
			}
		}
		return false
	})
}

func (h *Harness) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.now().Add(-time.Hour)
	stats := Stats{
		Total:       h.size,
		ByRecipient: make(map[string]int),
		BySubject:   make(map[string]int),
	}
	for i := 0; i < h.size; i++ {
		c := h.at(i)
		for _, r := range c.Message.Recipients() {
			stats.ByRecipient[strings.ToLower(strings.TrimSpace(r))]++
		}
		stats.BySubject[c.Message.Subject]++
		if c.CapturedAt.After(cutoff) {
			stats.LastHour++
		}
	}
	return stats
}

// Clear drops every captured message.
func (h *Harness) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf = make([]Captured, h.capacity)
	h.head = 0
	h.size = 0
}

func (h *Harness) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *Harness) filter(keep func(Captured) bool) []Captured {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Captured, 0, h.size)
	for i := h.size - 1; i >= 0; i-- {
		if c := h.at(i); keep(c) {
			out = append(out, snapshot(c))
		}
	}
	return out
}

// at returns the i-th entry counted from the oldest. Callers hold mu.
func (h *Harness) at(i int) Captured {
	return h.buf[(h.head+i)%h.capacity]
}

func snapshot(c Captured) Captured {
	c.Message = *c.Message.Clone()
	return c
}
