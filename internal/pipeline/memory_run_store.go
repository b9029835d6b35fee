package pipeline

import (
	"context"
	"sort"
	"sync"
)

// MemoryRunStore is an in-memory implementation of RunStore for testing
type MemoryRunStore struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	transitions map[string][]Transition
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:        make(map[string]*Run),
		transitions: make(map[string][]Transition),
	}
}

// SaveRun persists a new pipeline run
func (s *MemoryRunStore) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return ErrRunNotFound // Already exists
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, ErrRunNotFound
	}
	return copyRun(run), nil
}

// UpdateRun updates an existing pipeline run
func (s *MemoryRunStore) UpdateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return ErrRunNotFound
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

// SaveTransition persists a state transition
func (s *MemoryRunStore) SaveTransition(ctx context.Context, transition *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[transition.RunID] = append(s.transitions[transition.RunID], *transition)
	return nil
}

// GetTransitions retrieves all transitions for a run
func (s *MemoryRunStore) GetTransitions(ctx context.Context, runID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transitions := make([]Transition, len(s.transitions[runID]))
	copy(transitions, s.transitions[runID])
	return transitions, nil
}

// GetRunsByState retrieves runs by state
func (s *MemoryRunStore) GetRunsByState(ctx context.Context, state RunState, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.State == state {
			runs = append(runs, copyRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetRunsByTenant retrieves runs for a tenant, newest first
func (s *MemoryRunStore) GetRunsByTenant(ctx context.Context, tenantID string, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.TenantID == tenantID {
			runs = append(runs, copyRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func copyRun(run *Run) *Run {
	copied := *run
	if run.MSE != nil {
		mse := *run.MSE
		copied.MSE = &mse
	}
	if run.CompletedAt != nil {
		completedAt := *run.CompletedAt
		copied.CompletedAt = &completedAt
	}
	return &copied
}
