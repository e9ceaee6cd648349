package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/backoff"
	"github.com/zoff-tech/go-notify/pkg/broker"
	"github.com/zoff-tech/go-notify/pkg/config"
	"github.com/zoff-tech/go-notify/pkg/delivery"
	"github.com/zoff-tech/go-notify/pkg/job"
	"github.com/zoff-tech/go-notify/pkg/store"
)

const (
	DefaultTickInterval    = time.Second
	DefaultMaxConcurrency  = 5
	DefaultAttemptTimeout  = 30 * time.Second
	DefaultRetention       = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

var errNotDue = errors.New("job is not due")

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithBackoff replaces the retry delay strategy.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Scheduler) { s.backoff = strategy }
}

// WithBroker publishes lifecycle events of finished jobs.
func WithBroker(b broker.MessageBroker) Option {
	return func(s *Scheduler) { s.broker = b }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler claims due jobs on every tick and delivers them concurrently.
type Scheduler struct {
	store   store.JobStore
	sender  delivery.Sender
	broker  broker.MessageBroker
	backoff backoff.Strategy
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	cfg     config.SchedulerSettings

	tickMu   sync.Mutex
	mu       sync.Mutex
	inFlight map[string]struct{}
	attempts sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler creates a Scheduler. Zero settings fall back to the defaults.
func NewScheduler(jobs store.JobStore, sender delivery.Sender, cfg config.SchedulerSettings, opts ...Option) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	s := &Scheduler{
		store:    jobs,
		sender:   sender,
		broker:   broker.NewNopBroker(),
		backoff:  backoff.NewExponential(cfg.BaseBackoff, cfg.MaxBackoff),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("go-notify"),
		now:      time.Now,
		cfg:      cfg,
		inFlight: make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the tick loop and the cleanup sweep until Stop is called or
// ctx is done. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		select {
		case <-s.stop:
			s.mu.Unlock()
			return
		default:
		}
		s.started = true
		s.mu.Unlock()

		go s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("max_concurrency", s.cfg.MaxConcurrency))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-cleanup.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop ends the tick loop and waits for in-flight attempts to return.
// It returns ctx.Err() when ctx expires first. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stop)
		s.mu.Unlock()
	})

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// A Tick that is still claiming must finish before attempts are awaited.
	s.tickMu.Lock()
	s.tickMu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.attempts.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped with attempts in flight", zap.Int("in_flight", s.InFlightCount()))
		return ctx.Err()
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// InFlight reports whether the job is currently being delivered.
func (s *Scheduler) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

// InFlightIDs returns a snapshot of the jobs currently being delivered.
func (s *Scheduler) InFlightIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.inFlight))
	for id := range s.inFlight {
		ids[id] = struct{}{}
	}
	return ids
}

// InFlightCount returns how many attempts are running.
func (s *Scheduler) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Tick claims as many due jobs as the concurrency budget allows and starts
// delivering them. It returns the number of claimed jobs. A tick that
// starts while another one is running returns 0 immediately.
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.tickMu.TryLock() {
		return 0
	}
	defer s.tickMu.Unlock()

	if s.stopped() {
		return 0
	}

	budget := s.cfg.MaxConcurrency - s.InFlightCount()
	if budget <= 0 {
		return 0
	}

	if throttler, ok := s.sender.(delivery.Throttler); ok {
		if wait := throttler.WaitTime(); wait > 0 {
			s.logger.Debug("sender throttled, skipping tick", zap.Duration("wait", wait))
			return 0
		}
		if remaining := throttler.Remaining(); remaining < budget {
			budget = remaining
		}
		if budget <= 0 {
			return 0
		}
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.Tick")
	defer span.End()

	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("failed to fetch due jobs", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0
	}

	claimed := 0
	for _, candidate := range due {
		if claimed >= budget {
			break
		}
		j, ok := s.claim(ctx, candidate.ID, now)
		if !ok {
			continue
		}
		s.attempts.Add(1)
		go s.deliver(ctx, j)
		claimed++
	}

	span.SetAttributes(
		attribute.Int("scheduler.due", len(due)),
		attribute.Int("scheduler.claimed", claimed),
	)
	return claimed
}

func (s *Scheduler) claim(ctx context.Context, id string, now time.Time) (*job.Job, bool) {
	if !s.acquire(id) {
		return nil, false
	}

	j, err := s.store.Update(ctx, id, func(j *job.Job) error {
		if job.IsTerminal(j) {
			return job.ErrTerminal
		}
		if j.ScheduledFor.After(now) {
			return errNotDue
		}
		j.Attempts++
		j.ProcessedAt = &now
		j.FailedAt = nil
		return nil
	})
	if err != nil {
		s.release(id)
		if !errors.Is(err, job.ErrTerminal) && !errors.Is(err, errNotDue) {
			s.logger.Error("failed to claim job", zap.String("job_id", id), zap.Error(err))
		}
		return nil, false
	}
	return j, true
}

func (s *Scheduler) deliver(ctx context.Context, j *job.Job) {
	defer s.attempts.Done()
	defer s.release(j.ID)

	// Attempts outlive the tick loop so Stop can wait for them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AttemptTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "ProcessNotificationJob", trace.WithAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("job.type", string(j.Type)),
		attribute.String("job.priority", j.Priority.String()),
		attribute.Int("job.attempt", j.Attempts),
		attribute.Int("job.max_attempts", j.MaxAttempts),
	))
	defer span.End()

	res := s.send(ctx, j)
	span.SetAttributes(attribute.String("delivery.outcome", string(res.Outcome)))
	if !res.Success() && res.Error != nil {
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, res.Error.Error())
	}

	s.record(ctx, j.ID, res)
}

func (s *Scheduler) send(ctx context.Context, j *job.Job) (res delivery.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sender panicked", zap.String("job_id", j.ID), zap.Any("panic", r))
			res = delivery.Transient(fmt.Errorf("sender panic: %v", r))
		}
	}()
	return s.sender.Send(ctx, &j.Message)
}

func (s *Scheduler) record(ctx context.Context, id string, res delivery.Result) {
	now := s.now()
	var event broker.EventType

	updated, err := s.store.Update(ctx, id, func(j *job.Job) error {
		if job.IsTerminal(j) {
			return job.ErrTerminal
		}
		event = s.apply(j, res, now)
		return nil
	})
	switch {
	case errors.Is(err, job.ErrTerminal):
		s.logger.Info("job finished while in flight, dropping attempt result",
			zap.String("job_id", id), zap.String("outcome", string(res.Outcome)))
		return
	case err != nil:
		s.logger.Error("failed to record attempt", zap.String("job_id", id), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("job_id", id),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("attempt", updated.Attempts),
	}
	if res.Error != nil {
		fields = append(fields, zap.Error(res.Error))
	}
	switch event {
	case broker.EventCompleted:
		s.logger.Info("notification delivered", append(fields, zap.String("provider_message_id", res.ProviderMessageID))...)
	case broker.EventFailed:
		s.logger.Warn("notification failed", fields...)
	default:
		s.logger.Info("notification rescheduled", append(fields, zap.Time("scheduled_for", updated.ScheduledFor))...)
		return
	}

	if err := s.broker.Publish(ctx, broker.NewJobEvent(event, updated, now)); err != nil {
		s.logger.Error("failed to publish job event", zap.String("job_id", id), zap.String("event", string(event)), zap.Error(err))
	}
}

// apply records the attempt result on j and returns the lifecycle event to
// publish, or "" when the job will be retried.
func (s *Scheduler) apply(j *job.Job, res delivery.Result, now time.Time) broker.EventType {
	if res.Success() {
		j.CompletedAt = &now
		j.Receipt = &job.Receipt{
			ProviderMessageID: res.ProviderMessageID,
			Failures:          res.Failures,
			DeliveredAt:       now,
		}
		return broker.EventCompleted
	}

	if res.Local {
		// The provider was never called, so the claim is handed back.
		s.unclaim(j, now)
		wait := res.RetryAfter
		if wait < s.cfg.TickInterval {
			wait = s.cfg.TickInterval
		}
		j.ScheduledFor = now.Add(wait)
		return ""
	}

	j.FailedAt = &now
	j.LastError = string(res.Outcome)
	if res.Error != nil {
		j.LastError = res.Error.Error()
	}

	switch res.Outcome {
	case delivery.OutcomePermanent:
		j.AbandonedAt = &now
		return broker.EventFailed
	case delivery.OutcomeRateLimited:
		if j.Attempts >= j.MaxAttempts {
			return broker.EventFailed
		}
		wait := res.RetryAfter
		if wait < s.cfg.TickInterval {
			wait = s.cfg.TickInterval
		}
		j.ScheduledFor = now.Add(wait)
		return ""
	default:
		if j.Attempts >= j.MaxAttempts {
			return broker.EventFailed
		}
		j.ScheduledFor = now.Add(s.backoff.Delay(j.Attempts))
		return ""
	}
}

func (s *Scheduler) unclaim(j *job.Job, now time.Time) {
	if j.Attempts > 0 {
		j.Attempts--
	}
	if j.Attempts == 0 {
		j.ProcessedAt = nil
		return
	}
	// Earlier attempts failed; keep the job retrying.
	j.FailedAt = &now
}

// Cleanup deletes terminal jobs created before now minus the retention
// window.
func (s *Scheduler) Cleanup(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Cleanup")
	defer span.End()

	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("scheduler.purged", n))
	if n > 0 {
		s.logger.Info("purged finished jobs", zap.Int("count", n), zap.Time("before", cutoff))
	}
	return n, nil
}
