package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores runs in memory and is safe for concurrent use.
// Data is lost on service restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.JobRun
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.JobRun),
	}
}

func clone(run *jobs.JobRun) *jobs.JobRun {
	c := *run
	if run.Summary != nil {
		c.Summary = append([]byte(nil), run.Summary...)
	}
	if run.StartedAt != nil {
		t := *run.StartedAt
		c.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, run *jobs.JobRun) error {
	if run.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[run.JobID] = clone(run)
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.jobs[jobID]
	if !exists {
		return nil, apperr.NotFound("Job not found")
	}
	return clone(run), nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.JobRun{}
	for _, run := range s.jobs {
		if filter.Type != "" && run.Type != filter.Type {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.ActiveOnly && !run.Status.Active() {
			continue
		}
		result = append(result, clone(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].JobID > result[j].JobID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.JobRun{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.jobs[jobID]
	if !exists {
		return apperr.NotFound("Job not found")
	}

	run.Status = status
	if errorMsg != "" {
		run.Error = errorMsg
	}
	return nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
