// Package delivery hands finished messages to the email provider and
// classifies the outcome of every attempt.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var (
	ErrInvalidMessage        = errors.New("invalid message")
	ErrRateLimited           = errors.New("rate limited")
	ErrAllRecipientsRejected = errors.New("all recipients rejected")
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	// OutcomePermanent failures are never retried.
	OutcomePermanent Outcome = "permanent"
	// OutcomeTransient failures are retried with backoff.
	OutcomeTransient Outcome = "transient"
	// OutcomeRateLimited attempts are retried after RetryAfter.
	OutcomeRateLimited Outcome = "rate_limited"
)

// Result is the outcome of a single Send call.
type Result struct {
	Outcome           Outcome
	ProviderMessageID string
	Error             error
	RetryAfter        time.Duration
	Failures          []job.RecipientFailure
	// Local is set when the sender's own limiter refused the call and the
	// provider was never contacted.
	Local bool
}

// Success reports whether the provider accepted the message.
func (r Result) Success() bool {
	return r.Outcome == OutcomeDelivered
}

func Delivered(providerMessageID string, failures []job.RecipientFailure) Result {
	return Result{Outcome: OutcomeDelivered, ProviderMessageID: providerMessageID, Failures: failures}
}

func Permanent(err error) Result {
	return Result{Outcome: OutcomePermanent, Error: err}
}

func Transient(err error) Result {
	return Result{Outcome: OutcomeTransient, Error: err}
}

func RateLimited(err error, retryAfter time.Duration) Result {
	return Result{Outcome: OutcomeRateLimited, Error: err, RetryAfter: retryAfter}
}

// LocallyLimited is a rate_limited result that never reached the provider.
func LocallyLimited(retryAfter time.Duration) Result {
	return Result{Outcome: OutcomeRateLimited, Error: ErrRateLimited, RetryAfter: retryAfter, Local: true}
}

// Sender delivers a single message. Implementations never panic on bad
// input; they report a permanent failure instead.
type Sender interface {
	Send(ctx context.Context, msg *job.Message) Result
}

// Throttler is implemented by senders that can report a local rate-limit
// wait before a job is claimed.
type Throttler interface {
	// WaitTime is zero when a Send would be admitted right now.
	WaitTime() time.Duration
	// Remaining is how many Sends would be admitted right now.
	Remaining() int
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg *job.Message) Result

func (f SenderFunc) Send(ctx context.Context, msg *job.Message) Result {
	return f(ctx, msg)
}

// Validate checks the parts of a message the provider would reject.
func Validate(msg *job.Message) error {
	if msg == nil {
		return errors.Join(ErrInvalidMessage, errors.New("message is nil"))
	}
	var problems []error
	if len(nonEmpty(msg.To)) == 0 {
		problems = append(problems, errors.New("at least one recipient is required"))
	}
	if strings.TrimSpace(msg.Subject) == "" {
		problems = append(problems, errors.New("subject is required"))
	}
	if msg.Text == "" && msg.HTML == "" && (msg.Template == nil || msg.Template.ID == "") {
		problems = append(problems, errors.New("one of text, html or template is required"))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidMessage}, problems...)...)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
