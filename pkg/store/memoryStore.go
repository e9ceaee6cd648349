package store

import (
	"context"
	"sync"
	"time"

	"github.com/zoff-tech/go-notify/pkg/job"
)

// MemoryStore keeps jobs in a map. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*job.Job)}
}

func (m *MemoryStore) Insert(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; ok {
		return ErrJobExists
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*job.Job) error) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Due(_ context.Context, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*job.Job
	for _, j := range m.jobs {
		if job.IsTerminal(j) || j.ScheduledFor.After(now) {
			continue
		}
		due = append(due, j.Clone())
	}
	sortByRank(due)
	return due, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j.Clone())
	}
	sortNewestFirst(all)
	return all, nil
}

func (m *MemoryStore) Purge(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		if purgeable(j, before) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
