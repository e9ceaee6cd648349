package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var ErrUnsupportedBroker = errors.New("unsupported broker type")

// EventType names a job lifecycle transition.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCanceled  EventType = "canceled"
)

// JobEvent is published whenever a job reaches a terminal state.
type JobEvent struct {
	ID                string     `json:"id"`
	Event             EventType  `json:"event"`
	JobID             string     `json:"job_id"`
	JobType           job.Type   `json:"job_type"`
	Status            job.Status `json:"status"`
	Attempts          int        `json:"attempts"`
	LastError         string     `json:"last_error,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// NewJobEvent snapshots j for publishing.
func NewJobEvent(event EventType, j *job.Job, at time.Time) *JobEvent {
	e := &JobEvent{
		ID:         uuid.NewString(),
		Event:      event,
		JobID:      j.ID,
		JobType:    j.Type,
		Status:     job.StatusOf(j, false),
		Attempts:   j.Attempts,
		LastError:  j.LastError,
		OccurredAt: at,
	}
	if j.Receipt != nil {
		e.ProviderMessageID = j.Receipt.ProviderMessageID
	}
	return e
}

// RoutingKey is the topic-exchange key for the event, e.g.
// "notification.completed".
func (e *JobEvent) RoutingKey() string {
	return "notification." + string(e.Event)
}

// MessageBroker publishes job lifecycle events.
type MessageBroker interface {
	// Publish sends the event and returns once the broker accepted it.
	Publish(ctx context.Context, event *JobEvent) error
	// Close cleans up any resources (connections).
	Close() error
}

type nopBroker struct{}

// NewNopBroker returns a broker that drops every event.
func NewNopBroker() MessageBroker {
	return nopBroker{}
}

func (nopBroker) Publish(context.Context, *JobEvent) error { return nil }

func (nopBroker) Close() error { return nil }
