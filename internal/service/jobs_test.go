package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storescout/storescout/internal/scrape"
	"github.com/storescout/storescout/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return string(rune('a'+g.n-1)) + "-job", nil
}

type stubOrchestrator struct {
	mu        sync.Mutex
	started   []scrape.Job
	cancelled []string
	startErr  error
	cancelErr error
}

func (o *stubOrchestrator) Start(_ context.Context, job scrape.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, job)
	return o.startErr
}

func (o *stubOrchestrator) Cancel(_ context.Context, jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = append(o.cancelled, jobID)
	return o.cancelErr
}

func newService(orch *stubOrchestrator) (*Jobs, *memory.JobStore, *memory.ResultStore) {
	store := memory.NewJobStore()
	results := memory.NewResultStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	svc := NewJobs(store, results, orch, clock, &seqIDGen{}, zap.NewNop())
	return svc, store, results
}

func TestCreateJobQueuesAndStarts(t *testing.T) {
	t.Parallel()

	orch := &stubOrchestrator{}
	svc, _, _ := newService(orch)

	job, err := svc.CreateJob(context.Background(), CreateJobRequest{
		Target:    "acme",
		SourceURL: "https://acme.example/stores",
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, "world", job.Region)
	require.Len(t, orch.started, 1)
	require.Equal(t, job.ID, orch.started[0].ID)
}

func TestCreateJobValidatesInput(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(&stubOrchestrator{})

	_, err := svc.CreateJob(context.Background(), CreateJobRequest{SourceURL: "https://x"})
	require.Error(t, err)

	_, err = svc.CreateJob(context.Background(), CreateJobRequest{Target: "acme"})
	require.Error(t, err)
}

func TestCreateJobRecordsLaunchFailure(t *testing.T) {
	t.Parallel()

	orch := &stubOrchestrator{startErr: errors.New("no such binary")}
	svc, store, _ := newService(orch)

	job, err := svc.CreateJob(context.Background(), CreateJobRequest{
		Target:    "acme",
		SourceURL: "https://acme.example/stores",
	})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "launch failed")

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, stored.Status)
}

func TestCancelJobDelegates(t *testing.T) {
	t.Parallel()

	orch := &stubOrchestrator{}
	svc, _, _ := newService(orch)

	require.NoError(t, svc.CancelJob(context.Background(), "job-1"))
	require.Equal(t, []string{"job-1"}, orch.cancelled)
}

func TestDeleteJobRejectsRunning(t *testing.T) {
	t.Parallel()

	svc, store, _ := newService(&stubOrchestrator{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, scrape.Job{
		ID: "job-1", Target: "acme", SourceURL: "https://x",
		Status: scrape.JobStatusQueued, CreatedAt: now,
	}))
	require.NoError(t, store.MarkJobRunning(ctx, "job-1", now, ""))

	err := svc.DeleteJob(ctx, "job-1")
	require.ErrorIs(t, err, scrape.ErrInvalidJobState)

	require.NoError(t, store.FinishJob(ctx, "job-1", scrape.TerminalState{
		Status:      scrape.JobStatusCancelled,
		CompletedAt: now,
	}))
	require.NoError(t, svc.DeleteJob(ctx, "job-1"))
	_, err = store.GetJob(ctx, "job-1")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestGetJobLogs(t *testing.T) {
	t.Parallel()

	svc, store, _ := newService(&stubOrchestrator{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, scrape.Job{
		ID: "job-1", Target: "acme", SourceURL: "https://x",
		Status: scrape.JobStatusQueued, CreatedAt: now,
	}))
	require.NoError(t, store.MarkJobRunning(ctx, "job-1", now, "line one\n"))

	logs, err := svc.GetJobLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "line one\n", logs)

	_, err = svc.GetJobLogs(ctx, "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestStatsCombinesJobAndDataset(t *testing.T) {
	t.Parallel()

	svc, store, results := newService(&stubOrchestrator{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, scrape.Job{
		ID: "job-1", Target: "acme", SourceURL: "https://x",
		Status: scrape.JobStatusQueued, CreatedAt: now,
	}))
	require.NoError(t, results.UpsertMasterResult(ctx, scrape.ResultRecord{
		Path: "/data/master.csv", Rows: 80, SizeBytes: 2048, UpdatedAt: now,
	}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Jobs.ByStatus[scrape.JobStatusQueued])
	require.Equal(t, 80, stats.Dataset.MasterRows)
}
