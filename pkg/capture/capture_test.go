package capture

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notify/pkg/delivery"
	"github.com/zoff-tech/go-notify/pkg/job"
)

func message(to, subject string) *job.Message {
	return &job.Message{To: []string{to}, Subject: subject, Text: "body"}
}

func TestCapture_ListNewestFirst(t *testing.T) {
	h := New(10)
	first := h.Capture(message("a@example.com", "one"))
	second := h.Capture(message("b@example.com", "two"))

	list := h.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestCapture_EvictsOldestWhenFull(t *testing.T) {
	h := New(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, h.Capture(message("a@example.com", fmt.Sprintf("msg %d", i))).ID)
	}

	assert.Equal(t, 3, h.Len())
	_, ok := h.Get(ids[0])
	assert.False(t, ok)
	_, ok = h.Get(ids[1])
	assert.False(t, ok)

	list := h.List()
	require.Len(t, list, 3)
	assert.Equal(t, "msg 4", list[0].Message.Subject)
	assert.Equal(t, "msg 2", list[2].Message.Subject)
}

func TestCapture_IsDeepCopy(t *testing.T) {
	h := New(5)
	msg := message("a@example.com", "original")
	c := h.Capture(msg)

	msg.To[0] = "mutated@example.com"
	msg.Subject = "mutated"

	got, ok := h.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, "original", got.Message.Subject)
	assert.Equal(t, "a@example.com", got.Message.To[0])

	got.Message.To[0] = "changed@example.com"
	again, _ := h.Get(c.ID)
	assert.Equal(t, "a@example.com", again.Message.To[0])
}

func TestForRecipient_CaseInsensitive(t *testing.T) {
	h := New(10)
	h.Capture(message("Alice@Example.com", "hello"))
	h.Capture(&job.Message{To: []string{"bob@example.com"}, Cc: []string{"alice@example.com"}, Subject: "cc"})
	h.Capture(&job.Message{To: []string{"bob@example.com"}, Bcc: []string{"ALICE@example.com"}, Subject: "bcc"})
	h.Capture(message("carol@example.com", "other"))

	got := h.ForRecipient("alice@EXAMPLE.com")
	require.Len(t, got, 3)
	assert.Equal(t, "bcc", got[0].Message.Subject)
	assert.Equal(t, "hello", got[2].Message.Subject)
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-2 * time.Hour)
	h := New(10, WithClock(func() time.Time { return clock }))

	h.Capture(message("a@example.com", "Welcome"))
	clock = now.Add(-10 * time.Minute)
	h.Capture(message("A@example.com", "Welcome"))
	h.Capture(message("b@example.com", "Reset"))
	clock = now

	stats := h.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByRecipient["a@example.com"])
	assert.Equal(t, 1, stats.ByRecipient["b@example.com"])
	assert.Equal(t, 2, stats.BySubject["Welcome"])
	assert.Equal(t, 2, stats.LastHour)
}

func TestClear(t *testing.T) {
	h := New(2)
	h.Capture(message("a@example.com", "x"))
	h.Clear()

	assert.Empty(t, h.List())
	assert.Equal(t, 0, h.Stats().Total)

	h.Capture(message("a@example.com", "y"))
	assert.Len(t, h.List(), 1)
}

func TestSend_ReportsDelivered(t *testing.T) {
	h := New(0)
	var sender delivery.Sender = h

	result := sender.Send(context.Background(), message("a@example.com", "x"))

	assert.True(t, result.Success())
	c, ok := h.Get(result.ProviderMessageID)
	require.True(t, ok)
	assert.Equal(t, "x", c.Message.Subject)
	assert.Equal(t, DefaultCapacity, h.capacity)
}
