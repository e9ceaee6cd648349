package store

import (
	"context"
	"errors"
	"time"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrUnsupportedStore = errors.New("unsupported store type")
)

// JobStore persists notification jobs. Implementations return copies;
// mutating a returned job never changes the stored one.
type JobStore interface {
	// Insert adds a new job. It fails with ErrJobExists on a duplicate id.
	Insert(ctx context.Context, j *job.Job) error
	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)
	// Update applies fn to the current job atomically. When fn returns an
	// error nothing is written and the error is returned as is.
	Update(ctx context.Context, id string, fn func(*job.Job) error) (*job.Job, error)
	// Due returns non-terminal jobs with ScheduledFor <= now, ordered by
	// priority desc, CreatedAt asc, ID asc.
	Due(ctx context.Context, now time.Time) ([]*job.Job, error)
	// List returns every job, newest first.
	List(ctx context.Context) ([]*job.Job, error)
	// Purge deletes terminal jobs created before the cutoff.
	Purge(ctx context.Context, before time.Time) (int, error)
	Close() error
}
