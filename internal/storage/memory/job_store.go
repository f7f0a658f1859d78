// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/storescout/storescout/internal/scrape"
)

// JobStore keeps jobs in a map. Safe for concurrent use.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", scrape.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Target != "" && job.Target != filter.Target {
			continue
		}
		out = append(out, job)
	}
	sortJobsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkJobRunning transitions a queued job to running.
func (s *JobStore) MarkJobRunning(_ context.Context, jobID string, startedAt time.Time, logs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if job.Status != scrape.JobStatusQueued {
		return fmt.Errorf("%w: job %s is %s", scrape.ErrInvalidJobState, jobID, job.Status)
	}
	job.Status = scrape.JobStatusRunning
	job.StartedAt = pointerTime(startedAt)
	job.Logs = logs
	s.jobs[jobID] = job
	return nil
}

// UpdateJobLogs replaces the persisted log text.
func (s *JobStore) UpdateJobLogs(_ context.Context, jobID string, logs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	job.Logs = logs
	s.jobs[jobID] = job
	return nil
}

// FinishJob writes the terminal state. A job that is already terminal is
// never mutated.
func (s *JobStore) FinishJob(_ context.Context, jobID string, state scrape.TerminalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", scrape.ErrInvalidJobState, jobID, job.Status)
	}
	if !state.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", scrape.ErrInvalidJobState, state.Status)
	}
	job.Status = state.Status
	job.ErrorText = state.ErrorText
	job.RecordsScraped = state.RecordsScraped
	job.ResultRef = state.ResultRef
	job.CompletedAt = pointerTime(state.CompletedAt)
	s.jobs[jobID] = job
	return nil
}

// DeleteJob removes a job record.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// JobStats aggregates counts per status and total records scraped.
func (s *JobStore) JobStats(_ context.Context) (scrape.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := scrape.JobStats{ByStatus: make(map[scrape.JobStatus]int)}
	for _, job := range s.jobs {
		stats.ByStatus[job.Status]++
		stats.TotalRecords += job.RecordsScraped
	}
	return stats, nil
}

func sortJobsNewestFirst(jobs []scrape.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
