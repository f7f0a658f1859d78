// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID             string     `json:"id"`
	Target         string     `json:"target"`
	SourceURL      string     `json:"source_url"`
	Region         string     `json:"region"`
	Config         string     `json:"config,omitempty"`
	Status         JobStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorText      string     `json:"error_text,omitempty"`
	RecordsScraped int        `json:"records_scraped"`
	ResultRef      string     `json:"result_ref,omitempty"`
	Logs           string     `json:"-"`
}

// TerminalState carries everything written when a job leaves running.
type TerminalState struct {
	Status         JobStatus
	ErrorText      string
	RecordsScraped int
	ResultRef      string
	CompletedAt    time.Time
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status JobStatus
	Target string
	Limit  int
}

// ResultKind distinguishes per-job result files from the master dataset.
type ResultKind string

// Result kinds persisted in the result store.
const (
	ResultKindIndividual ResultKind = "individual"
	ResultKindMaster     ResultKind = "master"
)

// MasterResultID is the fixed identity of the singleton master dataset record.
const MasterResultID = "master"

// ResultRecord describes one produced dataset file.
type ResultRecord struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id,omitempty"`
	Target     string     `json:"target"`
	Kind       ResultKind `json:"kind"`
	Path       string     `json:"path"`
	ArchiveURI string     `json:"archive_uri,omitempty"`
	Rows       int        `json:"rows"`
	SizeBytes  int64      `json:"size_bytes"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// JobStats aggregates job counts per status plus the total records scraped.
type JobStats struct {
	ByStatus     map[JobStatus]int `json:"by_status"`
	TotalRecords int               `json:"total_records"`
}

// DatasetStats summarizes the stored result files.
type DatasetStats struct {
	Results         int   `json:"results"`
	MasterRows      int   `json:"master_rows"`
	MasterSizeBytes int64 `json:"master_size_bytes"`
}

// JobEvent is published on terminal job transitions.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Target         string    `json:"target"`
	Status         JobStatus `json:"status"`
	RecordsScraped int       `json:"records_scraped"`
	ErrorText      string    `json:"error_text,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
