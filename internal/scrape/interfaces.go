package scrape

import (
	"context"
	"time"
)

// JobStore persists job metadata and logs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// MarkJobRunning transitions a queued job to running and writes the
	// initial log header.
	MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time, logs string) error
	// UpdateJobLogs replaces the persisted log text for a job.
	UpdateJobLogs(ctx context.Context, jobID string, logs string) error
	// FinishJob writes the terminal state. Implementations must reject the
	// write with ErrInvalidJobState when the job is already terminal.
	FinishJob(ctx context.Context, jobID string, state TerminalState) error
	DeleteJob(ctx context.Context, jobID string) error
	JobStats(ctx context.Context) (JobStats, error)
}

// ResultStore persists result-file records.
type ResultStore interface {
	SaveResult(ctx context.Context, record ResultRecord) error
	// UpsertMasterResult updates the singleton master dataset record,
	// creating it on the first successful job.
	UpsertMasterResult(ctx context.Context, record ResultRecord) error
	GetMasterResult(ctx context.Context) (ResultRecord, error)
	DatasetStats(ctx context.Context) (DatasetStats, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
