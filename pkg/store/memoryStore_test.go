package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notify/pkg/job"
)

var baseTime = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newJob(id string, priority job.Priority, createdAt time.Time) *job.Job {
	msg := job.Message{To: []string{"user@example.com"}, Subject: "subject", Text: "body"}
	return job.New(id, job.TypeTransactional, msg, priority, 3, createdAt, 0)
}

func TestMemoryStore_InsertGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	j := newJob("a", job.PriorityNormal, baseTime)
	require.NoError(t, s.Insert(ctx, j))
	assert.ErrorIs(t, s.Insert(ctx, j), ErrJobExists)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, j, got)

	// Returned copies are detached from the stored job.
	got.Attempts = 99
	got.Message.To[0] = "changed@example.com"
	again, _ := s.Get(ctx, "a")
	assert.Equal(t, 0, again.Attempts)
	assert.Equal(t, "user@example.com", again.Message.To[0])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newJob("a", job.PriorityNormal, baseTime)))

	updated, err := s.Update(ctx, "a", func(j *job.Job) error {
		j.Attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Attempts)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "a", func(j *job.Job) error {
		j.Attempts = 50
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(ctx, "a")
	assert.Equal(t, 1, got.Attempts)

	_, err = s.Update(ctx, "missing", func(*job.Job) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStore_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newJob("a", job.PriorityNormal, baseTime)))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, "a", func(j *job.Job) error {
				j.Attempts++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "a")
	assert.Equal(t, 100, got.Attempts)
}

func TestMemoryStore_DueOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := newJob("low", job.PriorityLow, baseTime)
	urgent := newJob("urgent", job.PriorityUrgent, baseTime.Add(3*time.Second))
	normalOld := newJob("normal-old", job.PriorityNormal, baseTime.Add(time.Second))
	normalNew := newJob("normal-new", job.PriorityNormal, baseTime.Add(2*time.Second))
	tieB := newJob("tie-b", job.PriorityHigh, baseTime)
	tieA := newJob("tie-a", job.PriorityHigh, baseTime)
	later := job.New("later", job.TypeTransactional, job.Message{}, job.PriorityUrgent, 3, baseTime, time.Hour)
	done := newJob("done", job.PriorityUrgent, baseTime)
	doneAt := baseTime
	done.CompletedAt = &doneAt

	for _, j := range []*job.Job{low, urgent, normalOld, normalNew, tieB, tieA, later, done} {
		require.NoError(t, s.Insert(ctx, j))
	}

	due, err := s.Due(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)

	var ids []string
	for _, j := range due {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"urgent", "tie-a", "tie-b", "normal-old", "normal-new", "low"}, ids)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Insert(ctx, newJob("old", job.PriorityNormal, baseTime)))
	require.NoError(t, s.Insert(ctx, newJob("new", job.PriorityNormal, baseTime.Add(time.Minute))))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[1].ID)
}

func TestMemoryStore_Purge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doneAt := baseTime
	oldDone := newJob("old-done", job.PriorityNormal, baseTime)
	oldDone.CompletedAt = &doneAt
	oldFailed := newJob("old-failed", job.PriorityNormal, baseTime)
	require.NoError(t, oldFailed.Cancel(baseTime))
	oldPending := newJob("old-pending", job.PriorityNormal, baseTime)
	newDone := newJob("new-done", job.PriorityNormal, baseTime.Add(48*time.Hour))
	newDone.CompletedAt = &doneAt

	for _, j := range []*job.Job{oldDone, oldFailed, oldPending, newDone} {
		require.NoError(t, s.Insert(ctx, j))
	}

	removed, err := s.Purge(ctx, baseTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, _ := s.List(ctx)
	var ids []string
	for _, j := range all {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"old-pending", "new-done"}, ids)
}
