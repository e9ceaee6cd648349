package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTerminal is returned when a mutation targets a completed or failed job.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrCanceled is the error recorded on jobs canceled before delivery.
	ErrCanceled = errors.New("job canceled")
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// Type classifies a notification. It is used for filtering and statistics only.
type Type string

const (
	TypeWelcome             Type = "welcome"
	TypeVerificationCode    Type = "verification_code"
	TypePasswordReset       Type = "password_reset"
	TypeProfileStatusChange Type = "profile_status_change"
	TypeSystemNotice        Type = "system_notice"
	TypeMarketing           Type = "marketing"
	TypeTransactional       Type = "transactional"
)

var types = []Type{
	TypeWelcome,
	TypeVerificationCode,
	TypePasswordReset,
	TypeProfileStatusChange,
	TypeSystemNotice,
	TypeMarketing,
	TypeTransactional,
}

// Types lists every known notification type.
func Types() []Type {
	return append([]Type(nil), types...)
}

// Valid reports whether t is one of the known notification types.
func (t Type) Valid() bool {
	for _, known := range types {
		if t == known {
			return true
		}
	}
	return false
}

// Priority orders jobs in the queue. Higher values are serviced first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a priority name into a Priority. An empty string
// yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, nil
	}
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
}

// RecipientFailure describes a recipient the provider refused.
type RecipientFailure struct {
	Recipient string `json:"recipient" bson:"recipient"`
	Reason    string `json:"reason" bson:"reason"`
}

// Receipt is what the provider reported for the last successful attempt.
type Receipt struct {
	ProviderMessageID string             `json:"provider_message_id,omitempty" bson:"provider_message_id,omitempty"`
	Failures          []RecipientFailure `json:"failures,omitempty" bson:"failures,omitempty"`
	DeliveredAt       time.Time          `json:"delivered_at" bson:"delivered_at"`
}

// Job is a single notification delivery request and its attempt history.
// Its status is never stored; see StatusOf.
type Job struct {
	ID           string     `json:"id" bson:"_id"`
	Type         Type       `json:"type" bson:"type"`
	Message      Message    `json:"message" bson:"message"`
	Priority     Priority   `json:"priority" bson:"priority"`
	Attempts     int        `json:"attempts" bson:"attempts"`
	MaxAttempts  int        `json:"max_attempts" bson:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	ScheduledFor time.Time  `json:"scheduled_for" bson:"scheduled_for"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
	AbandonedAt  *time.Time `json:"abandoned_at,omitempty" bson:"abandoned_at,omitempty"`
	LastError    string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
	Receipt      *Receipt   `json:"receipt,omitempty" bson:"receipt,omitempty"`
}

// New builds a pending job scheduled for createdAt+delay.
func New(id string, typ Type, msg Message, priority Priority, maxAttempts int, createdAt time.Time, delay time.Duration) *Job {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return &Job{
		ID:           id,
		Type:         typ,
		Message:      *msg.Clone(),
		Priority:     priority,
		MaxAttempts:  maxAttempts,
		CreatedAt:    createdAt,
		ScheduledFor: createdAt.Add(delay),
	}
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Message = *j.Message.Clone()
	cp.ProcessedAt = cloneTime(j.ProcessedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.FailedAt = cloneTime(j.FailedAt)
	cp.AbandonedAt = cloneTime(j.AbandonedAt)
	if j.Receipt != nil {
		r := *j.Receipt
		if j.Receipt.Failures != nil {
			r.Failures = append([]RecipientFailure(nil), j.Receipt.Failures...)
		}
		cp.Receipt = &r
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Cancel marks a live job as failed so it is never picked up again.
// Attempts are left untouched.
func (j *Job) Cancel(now time.Time) error {
	if IsTerminal(j) {
		return ErrTerminal
	}
	j.FailedAt = &now
	j.AbandonedAt = &now
	j.LastError = ErrCanceled.Error()
	return nil
}
