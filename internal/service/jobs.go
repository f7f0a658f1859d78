// Package service implements the job lifecycle operations behind the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/storescout/storescout/internal/scrape"
)

// ErrInvalidRequest marks submission failures caused by the caller's input.
var ErrInvalidRequest = errors.New("invalid request")

// Orchestrator launches and cancels worker processes for jobs.
type Orchestrator interface {
	Start(ctx context.Context, job scrape.Job) error
	Cancel(ctx context.Context, jobID string) error
}

// Jobs exposes the job lifecycle: submission, inspection, cancellation,
// deletion, and aggregate stats.
type Jobs struct {
	store        scrape.JobStore
	results      scrape.ResultStore
	orchestrator Orchestrator
	clock        scrape.Clock
	idGen        scrape.IDGenerator
	logger       *zap.Logger
}

// NewJobs constructs the job service.
func NewJobs(
	store scrape.JobStore,
	results scrape.ResultStore,
	orchestrator Orchestrator,
	clock scrape.Clock,
	idGen scrape.IDGenerator,
	logger *zap.Logger,
) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		store:        store,
		results:      results,
		orchestrator: orchestrator,
		clock:        clock,
		idGen:        idGen,
		logger:       logger,
	}
}

// CreateJobRequest carries the submission parameters.
type CreateJobRequest struct {
	Target    string `json:"target"`
	SourceURL string `json:"source_url"`
	Region    string `json:"region"`
	Config    string `json:"config"`
}

// Validate checks required submission fields.
func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.SourceURL) == "" {
		return fmt.Errorf("%w: source_url is required", ErrInvalidRequest)
	}
	return nil
}

// CreateJob persists a queued job and hands it to the orchestrator. The
// job is returned in its queued state; progress is observable through
// GetJob, never through the creating call.
func (s *Jobs) CreateJob(ctx context.Context, req CreateJobRequest) (scrape.Job, error) {
	if err := req.Validate(); err != nil {
		return scrape.Job{}, err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = "world"
	}
	job := scrape.Job{
		ID:        id,
		Target:    strings.TrimSpace(req.Target),
		SourceURL: strings.TrimSpace(req.SourceURL),
		Region:    region,
		Config:    req.Config,
		Status:    scrape.JobStatusQueued,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return scrape.Job{}, err
	}
	if err := s.orchestrator.Start(ctx, job); err != nil {
		// The job exists; record the launch failure rather than unwinding.
		s.logger.Error("job launch failed", zap.String("job_id", job.ID), zap.Error(err))
		state := scrape.TerminalState{
			Status:      scrape.JobStatusFailed,
			ErrorText:   fmt.Sprintf("launch failed: %v", err),
			CompletedAt: s.clock.Now(),
		}
		if finishErr := s.store.FinishJob(ctx, job.ID, state); finishErr != nil {
			s.logger.Error("launch-failure terminal write lost",
				zap.String("job_id", job.ID), zap.Error(finishErr))
		}
	}
	return s.store.GetJob(ctx, job.ID)
}

// GetJob returns one job by ID.
func (s *Jobs) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Jobs) ListJobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// GetJobLogs returns the aggregated log text for a job.
func (s *Jobs) GetJobLogs(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Logs, nil
}

// CancelJob requests cancellation of a running job.
func (s *Jobs) CancelJob(ctx context.Context, jobID string) error {
	return s.orchestrator.Cancel(ctx, jobID)
}

// DeleteJob removes a job record. Running jobs must be cancelled first;
// deleting one would leave a live worker with no owner.
func (s *Jobs) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == scrape.JobStatusRunning {
		return fmt.Errorf("%w: job %s is running; cancel it first", scrape.ErrInvalidJobState, jobID)
	}
	return s.store.DeleteJob(ctx, jobID)
}

// Stats aggregates job and dataset statistics.
type Stats struct {
	Jobs    scrape.JobStats     `json:"jobs"`
	Dataset scrape.DatasetStats `json:"dataset"`
}

// Stats returns job counts per status plus master dataset totals.
func (s *Jobs) Stats(ctx context.Context) (Stats, error) {
	jobStats, err := s.store.JobStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	dataset, err := s.results.DatasetStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("dataset stats: %w", err)
	}
	return Stats{Jobs: jobStats, Dataset: dataset}, nil
}

// MasterResult returns the master dataset record.
func (s *Jobs) MasterResult(ctx context.Context) (scrape.ResultRecord, error) {
	return s.results.GetMasterResult(ctx)
}
