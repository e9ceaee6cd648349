// Package queue is the entry point for producers of notifications. It
// stores jobs, reports their status and hands scheduling to the processor.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/broker"
	"github.com/zoff-tech/go-notify/pkg/job"
	"github.com/zoff-tech/go-notify/pkg/processor"
	"github.com/zoff-tech/go-notify/pkg/store"
)

// Stats counts jobs per derived status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retrying   int `json:"retrying"`
}

// Entry is a job together with its derived status.
type Entry struct {
	*job.Job
	Status job.Status `json:"status"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type   job.Type
	Status job.Status
	Limit  int
}

type enqueueOptions struct {
	priority    job.Priority
	maxAttempts int
	delay       time.Duration
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithPriority sets the job priority. The default is normal.
func WithPriority(p job.Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

// WithMaxAttempts caps delivery attempts. Values below 1 keep the default.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithDelay postpones the first attempt.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithBroker publishes cancellation events.
func WithBroker(b broker.MessageBroker) Option {
	return func(q *Queue) { q.broker = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithDefaultMaxAttempts sets the attempt limit of jobs enqueued without
// WithMaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.maxAttempts = n
		}
	}
}

// Queue accepts notification jobs and reports their progress.
type Queue struct {
	store       store.JobStore
	scheduler   *processor.Scheduler
	broker      broker.MessageBroker
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
	maxAttempts int

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Queue over jobs. The scheduler must use the same store.
func New(jobs store.JobStore, scheduler *processor.Scheduler, opts ...Option) *Queue {
	q := &Queue{
		store:       jobs,
		scheduler:   scheduler,
		broker:      broker.NewNopBroker(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("go-notify"),
		now:         time.Now,
		maxAttempts: job.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores a pending job for msg and returns its id. The message is
// not validated here; invalid messages fail permanently on their first
// attempt.
func (q *Queue) Enqueue(ctx context.Context, typ job.Type, msg job.Message, opts ...EnqueueOption) (string, error) {
	o := enqueueOptions{priority: job.PriorityNormal, maxAttempts: q.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := q.tracer.Start(ctx, "queue.Enqueue", trace.WithAttributes(
		attribute.String("job.type", string(typ)),
		attribute.String("job.priority", o.priority.String()),
	))
	defer span.End()

	j := job.New(uuid.NewString(), typ, msg, o.priority, o.maxAttempts, q.now(), o.delay)
	span.SetAttributes(attribute.String("job.id", j.ID))

	if err := q.store.Insert(ctx, j); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.logger.Error("failed to enqueue notification", zap.String("type", string(typ)), zap.Error(err))
		return "", err
	}

	q.logger.Debug("notification enqueued",
		zap.String("job_id", j.ID),
		zap.String("type", string(typ)),
		zap.Stringer("priority", o.priority),
		zap.Time("scheduled_for", j.ScheduledFor))
	return j.ID, nil
}

// GetStatus returns a snapshot of the job and its status. ok is false for
// unknown ids.
func (q *Queue) GetStatus(ctx context.Context, id string) (*job.Job, job.Status, bool) {
	// In-flight membership is read on both sides of the store read. A claim
	// enters the set before it writes and an attempt is recorded before it
	// leaves, so a job claimed or finished in between never reads as pending.
	before := q.scheduler.InFlight(id)
	j, err := q.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			q.logger.Error("failed to load job", zap.String("job_id", id), zap.Error(err))
		}
		return nil, "", false
	}
	inFlight := before || q.scheduler.InFlight(id)
	return j, job.StatusOf(j, inFlight), true
}

// Cancel marks a live job as failed. It returns false when the job is
// unknown or already completed or failed. An attempt already in flight
// runs to completion but its result is discarded.
func (q *Queue) Cancel(ctx context.Context, id string) bool {
	now := q.now()
	j, err := q.store.Update(ctx, id, func(j *job.Job) error {
		return j.Cancel(now)
	})
	if err != nil {
		if !errors.Is(err, store.ErrJobNotFound) && !errors.Is(err, job.ErrTerminal) {
			q.logger.Error("failed to cancel job", zap.String("job_id", id), zap.Error(err))
		}
		return false
	}

	q.logger.Info("notification canceled", zap.String("job_id", id))
	if err := q.broker.Publish(ctx, broker.NewJobEvent(broker.EventCanceled, j, now)); err != nil {
		q.logger.Error("failed to publish job event", zap.String("job_id", id), zap.Error(err))
	}
	return true
}

// Stats counts every stored job by status.
func (q *Queue) Stats(ctx context.Context) Stats {
	before := q.scheduler.InFlightIDs()
	jobs, err := q.store.List(ctx)
	if err != nil {
		q.logger.Error("failed to list jobs", zap.Error(err))
		return Stats{}
	}
	inFlight := union(before, q.scheduler.InFlightIDs())

	var s Stats
	for _, j := range jobs {
		s.Total++
		switch statusOf(j, inFlight) {
		case job.StatusPending:
			s.Pending++
		case job.StatusProcessing:
			s.Processing++
		case job.StatusCompleted:
			s.Completed++
		case job.StatusFailed:
			s.Failed++
		case job.StatusRetrying:
			s.Retrying++
		}
	}
	return s
}

// List returns jobs matching f, newest first.
func (q *Queue) List(ctx context.Context, f Filter) ([]Entry, error) {
	before := q.scheduler.InFlightIDs()
	jobs, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	inFlight := union(before, q.scheduler.InFlightIDs())

	entries := make([]Entry, 0, len(jobs))
	for _, j := range jobs {
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		status := statusOf(j, inFlight)
		if f.Status != "" && status != f.Status {
			continue
		}
		entries = append(entries, Entry{Job: j, Status: status})
		if f.Limit > 0 && len(entries) == f.Limit {
			break
		}
	}
	return entries, nil
}

// Start begins processing queued jobs.
func (q *Queue) Start(ctx context.Context) {
	q.scheduler.Start(ctx)
}

// Shutdown stops the scheduler and waits for in-flight attempts until ctx
// expires. Later calls return the result of the first one.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.shutdownOnce.Do(func() {
		q.shutdownErr = q.scheduler.Stop(ctx)
		if q.shutdownErr != nil {
			q.logger.Warn("queue shutdown incomplete", zap.Error(q.shutdownErr))
			return
		}
		q.logger.Info("queue shut down")
	})
	return q.shutdownErr
}

func statusOf(j *job.Job, inFlight map[string]struct{}) job.Status {
	_, ok := inFlight[j.ID]
	return job.StatusOf(j, ok)
}

// union adds the ids of b to a and returns a.
func union(a, b map[string]struct{}) map[string]struct{} {
	for id := range b {
		a[id] = struct{}{}
	}
	return a
}
