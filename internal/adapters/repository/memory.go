package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]Run
	order   []string // insertion order, oldest first
	maxRuns int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		runs:    make(map[string]Run),
		maxRuns: 10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
		if s.maxRuns > 0 && len(s.order) > s.maxRuns {
			delete(s.runs, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Run, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRun(s.runs[s.order[i]]))
	}
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRun(r Run) Run {
	r.TableIDs = slices.Clone(r.TableIDs)
	r.Results = slices.Clone(r.Results)
	return r
}
