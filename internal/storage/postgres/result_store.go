package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storescout/storescout/internal/scrape"
)

// ResultStore persists result records in Postgres. Expected schema:
//
//	CREATE TABLE scrape_results (
//	    id          TEXT PRIMARY KEY,
//	    job_id      TEXT NOT NULL,
//	    target      TEXT NOT NULL,
//	    kind        TEXT NOT NULL,
//	    path        TEXT NOT NULL,
//	    archive_uri TEXT NOT NULL DEFAULT '',
//	    rows        INT NOT NULL DEFAULT 0,
//	    size_bytes  BIGINT NOT NULL DEFAULT 0,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type ResultStore struct {
	pool Pool
}

// NewResultStoreWithPool constructs a store from an existing pool. The
// pool is typically shared with the JobStore.
func NewResultStoreWithPool(p Pool) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: p}, nil
}

const resultColumns = `id, job_id, target, kind, path, archive_uri, rows, size_bytes, updated_at`

const upsertResultQuery = `
INSERT INTO scrape_results (` + resultColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	target = EXCLUDED.target,
	kind = EXCLUDED.kind,
	path = EXCLUDED.path,
	archive_uri = EXCLUDED.archive_uri,
	rows = EXCLUDED.rows,
	size_bytes = EXCLUDED.size_bytes,
	updated_at = EXCLUDED.updated_at`

// SaveResult stores an individual result record.
func (s *ResultStore) SaveResult(ctx context.Context, record scrape.ResultRecord) error {
	_, err := s.pool.Exec(ctx, upsertResultQuery,
		record.ID, record.JobID, record.Target, string(record.Kind),
		record.Path, record.ArchiveURI, record.Rows, record.SizeBytes,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// UpsertMasterResult creates or updates the singleton master record.
func (s *ResultStore) UpsertMasterResult(ctx context.Context, record scrape.ResultRecord) error {
	record.ID = scrape.MasterResultID
	record.Kind = scrape.ResultKindMaster
	if err := s.SaveResult(ctx, record); err != nil {
		return fmt.Errorf("upsert master: %w", err)
	}
	return nil
}

// GetMasterResult returns the master record if any job has completed.
func (s *ResultStore) GetMasterResult(ctx context.Context) (scrape.ResultRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM scrape_results WHERE id = $1`,
		scrape.MasterResultID)
	var (
		record scrape.ResultRecord
		kind   string
	)
	err := row.Scan(
		&record.ID, &record.JobID, &record.Target, &kind, &record.Path,
		&record.ArchiveURI, &record.Rows, &record.SizeBytes, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.ResultRecord{}, fmt.Errorf("%w: master", scrape.ErrResultNotFound)
		}
		return scrape.ResultRecord{}, fmt.Errorf("select master: %w", err)
	}
	record.Kind = scrape.ResultKind(kind)
	return record, nil
}

// DatasetStats summarizes the stored records.
func (s *ResultStore) DatasetStats(ctx context.Context) (scrape.DatasetStats, error) {
	var stats scrape.DatasetStats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE kind = $1),
	COALESCE(MAX(rows) FILTER (WHERE kind = $2), 0),
	COALESCE(MAX(size_bytes) FILTER (WHERE kind = $2), 0)
FROM scrape_results`,
		string(scrape.ResultKindIndividual), string(scrape.ResultKindMaster),
	).Scan(&stats.Results, &stats.MasterRows, &stats.MasterSizeBytes)
	if err != nil {
		return scrape.DatasetStats{}, fmt.Errorf("dataset stats: %w", err)
	}
	return stats, nil
}
