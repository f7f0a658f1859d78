package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/storescout/storescout/internal/scrape"
)

var jobColumnNames = []string{
	"id", "target", "source_url", "region", "config", "status", "error_text",
	"records_scraped", "result_ref", "logs", "created_at", "started_at", "completed_at",
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := scrape.Job{
		ID:        "job-1",
		Target:    "acme",
		SourceURL: "https://acme.example/stores",
		Region:    "world",
		Status:    scrape.JobStatusQueued,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(
			job.ID, job.Target, job.SourceURL, job.Region, job.Config,
			string(job.Status), job.ErrorText, job.RecordsScraped,
			job.ResultRef, job.Logs, job.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.CreateJob(context.Background(), job)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(jobColumnNames))

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			"job-1", "acme", "https://acme.example/stores", "world", "",
			"running", "", 0, "", "==== scrape job ====\n",
			created, &started, (*time.Time)(nil),
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	require.True(t, started.Equal(*job.StartedAt))
	require.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRejectsTerminalRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000100, 0).UTC()
	state := scrape.TerminalState{
		Status:      scrape.JobStatusCancelled,
		CompletedAt: now,
	}

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs(
			"job-1", string(state.Status), state.ErrorText,
			state.RecordsScraped, state.ResultRef, state.CompletedAt,
			string(scrape.JobStatusQueued), string(scrape.JobStatusRunning),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM scrape_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	err = store.FinishJob(context.Background(), "job-1", state)
	require.ErrorIs(t, err, scrape.ErrInvalidJobState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRejectsNonTerminalTarget(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	err = store.FinishJob(context.Background(), "job-1", scrape.TerminalState{
		Status: scrape.JobStatusRunning,
	})
	require.ErrorIs(t, err, scrape.ErrInvalidJobState)
}

func TestListJobsAppliesFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE status = (.+) ORDER BY created_at DESC LIMIT").
		WithArgs("running", 5).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			"job-1", "acme", "https://acme.example/stores", "world", "",
			"running", "", 0, "", "",
			created, (*time.Time)(nil), (*time.Time)(nil),
		))

	jobs, err := store.ListJobs(context.Background(), scrape.JobFilter{
		Status: scrape.JobStatusRunning,
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStatsAggregates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "sum"}).
			AddRow("completed", 3, 120).
			AddRow("failed", 1, 0))

	stats, err := store.JobStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.ByStatus[scrape.JobStatusCompleted])
	require.Equal(t, 1, stats.ByStatus[scrape.JobStatusFailed])
	require.Equal(t, 120, stats.TotalRecords)
	require.NoError(t, mock.ExpectationsWereMet())
}
