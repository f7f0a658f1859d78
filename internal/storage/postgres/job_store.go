// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storescout/storescout/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs in Postgres. Expected schema:
//
//	CREATE TABLE scrape_jobs (
//	    id              TEXT PRIMARY KEY,
//	    target          TEXT NOT NULL,
//	    source_url      TEXT NOT NULL,
//	    region          TEXT NOT NULL DEFAULT 'world',
//	    config          TEXT NOT NULL DEFAULT '',
//	    status          TEXT NOT NULL,
//	    error_text      TEXT NOT NULL DEFAULT '',
//	    records_scraped INT NOT NULL DEFAULT 0,
//	    result_ref      TEXT NOT NULL DEFAULT '',
//	    logs            TEXT NOT NULL DEFAULT '',
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    started_at      TIMESTAMPTZ,
//	    completed_at    TIMESTAMPTZ
//	);
type JobStore struct {
	pool Pool
}

// NewJobStore connects a pool and returns a JobStore.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(p Pool) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: p}, nil
}

// Pool exposes the connection pool so other stores can share it.
func (s *JobStore) Pool() Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, target, source_url, region, config, status, error_text,
records_scraped, result_ref, logs, created_at, started_at, completed_at`

// CreateJob inserts a queued job row.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	query := `
INSERT INTO scrape_jobs (
	id, target, source_url, region, config, status, error_text,
	records_scraped, result_ref, logs, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.Target, job.SourceURL, job.Region, job.Config,
		string(job.Status), job.ErrorText, job.RecordsScraped,
		job.ResultRef, job.Logs, job.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", scrape.ErrJobExists, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
		}
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter scrape.JobFilter) ([]scrape.Job, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Target != "" {
		args = append(args, filter.Target)
		clauses = append(clauses, fmt.Sprintf("target = $%d", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs rows: %w", err)
	}
	return jobs, nil
}

// MarkJobRunning transitions a queued job to running and writes the
// initial log header.
func (s *JobStore) MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time, logs string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs SET status = $2, started_at = $3, logs = $4
WHERE id = $1 AND status = $5`,
		jobID, string(scrape.JobStatusRunning), startedAt, logs, string(scrape.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrInvalid(ctx, jobID)
	}
	return nil
}

// UpdateJobLogs replaces the persisted log text.
func (s *JobStore) UpdateJobLogs(ctx context.Context, jobID string, logs string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET logs = $2 WHERE id = $1`, jobID, logs)
	if err != nil {
		return fmt.Errorf("update logs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return nil
}

// FinishJob writes the terminal state. Already-terminal rows are never
// touched; the guard is in the WHERE clause so the check-and-write is one
// atomic statement.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, state scrape.TerminalState) error {
	if !state.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", scrape.ErrInvalidJobState, state.Status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = $2, error_text = $3, records_scraped = $4, result_ref = $5, completed_at = $6
WHERE id = $1 AND status IN ($7, $8)`,
		jobID, string(state.Status), state.ErrorText, state.RecordsScraped,
		state.ResultRef, state.CompletedAt,
		string(scrape.JobStatusQueued), string(scrape.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrInvalid(ctx, jobID)
	}
	return nil
}

// DeleteJob removes a job row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	return nil
}

// JobStats aggregates counts per status and total records scraped.
func (s *JobStore) JobStats(ctx context.Context) (scrape.JobStats, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*), COALESCE(SUM(records_scraped), 0)
FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return scrape.JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := scrape.JobStats{ByStatus: make(map[scrape.JobStatus]int)}
	for rows.Next() {
		var (
			status  string
			count   int
			records int
		)
		if err := rows.Scan(&status, &count, &records); err != nil {
			return scrape.JobStats{}, fmt.Errorf("scan job stats: %w", err)
		}
		stats.ByStatus[scrape.JobStatus(status)] = count
		stats.TotalRecords += records
	}
	if err := rows.Err(); err != nil {
		return scrape.JobStats{}, fmt.Errorf("job stats rows: %w", err)
	}
	return stats, nil
}

// missingOrInvalid disambiguates a zero-row update: the job either does
// not exist or is in a state the update refuses to touch.
func (s *JobStore) missingOrInvalid(ctx context.Context, jobID string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM scrape_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", scrape.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("check job state: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s", scrape.ErrInvalidJobState, jobID, status)
}

func scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job    scrape.Job
		status string
	)
	err := row.Scan(
		&job.ID, &job.Target, &job.SourceURL, &job.Region, &job.Config,
		&status, &job.ErrorText, &job.RecordsScraped, &job.ResultRef,
		&job.Logs, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return scrape.Job{}, err
	}
	job.Status = scrape.JobStatus(status)
	return job, nil
}
