package cache

import (
	"context"
	"sync"
	"time"

	"radish-rewards/internal/domain"
)

// LocalJobLocker is the single-process JobLocker used when Redis is not
// configured.
type LocalJobLocker struct {
	mu      sync.Mutex
	running map[domain.JobName]bool
}

// NewLocalJobLocker creates the locker.
func NewLocalJobLocker() *LocalJobLocker {
	return &LocalJobLocker{running: make(map[domain.JobName]bool)}
}

// Run implements domain.JobLocker. ttl is ignored.
func (l *LocalJobLocker) Run(ctx context.Context, name domain.JobName, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.running[name] {
		l.mu.Unlock()
		return domain.ErrJobLocked
	}
	l.running[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.running, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// LocalJobRunStore keeps last runs in memory.
type LocalJobRunStore struct {
	mu   sync.Mutex
	runs map[domain.JobName]domain.JobRun
}

// NewLocalJobRunStore creates the store.
func NewLocalJobRunStore() *LocalJobRunStore {
	return &LocalJobRunStore{runs: make(map[domain.JobName]domain.JobRun)}
}

// SaveLastRun implements domain.JobRunStore.
func (s *LocalJobRunStore) SaveLastRun(_ context.Context, run domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Job] = run
	return nil
}

// LastRun implements domain.JobRunStore.
func (s *LocalJobRunStore) LastRun(_ context.Context, job domain.JobName) (domain.JobRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[job]
	return run, ok, nil
}

var (
	_ domain.JobLocker   = (*LocalJobLocker)(nil)
	_ domain.JobRunStore = (*LocalJobRunStore)(nil)
)
