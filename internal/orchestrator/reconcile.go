package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storescout/storescout/internal/scrape"
)

const reconcileConcurrency = 8

// ReconcileOrphans fails every job still marked running in the store. The
// registry is not durable, so after a restart no such job can have a live
// handle; left alone they would stay running forever.
func (l *Launcher) ReconcileOrphans(ctx context.Context) error {
	jobs, err := l.store.ListJobs(ctx, scrape.JobFilter{Status: scrape.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	l.logger.Warn("failing orphaned running jobs from a previous run", zap.Int("count", len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			now := l.clock.Now()
			state := scrape.TerminalState{
				Status:         scrape.JobStatusFailed,
				ErrorText:      "orphaned by service restart",
				RecordsScraped: job.RecordsScraped,
				ResultRef:      job.ResultRef,
				CompletedAt:    now,
			}
			if err := l.finishWithRetry(gctx, job.ID, state); err != nil {
				return fmt.Errorf("fail orphan %s: %w", job.ID, err)
			}
			logs := job.Logs
			if logs != "" && !strings.HasSuffix(logs, "\n") {
				logs += "\n"
			}
			logs += "failed: orphaned by service restart\n"
			if err := l.store.UpdateJobLogs(gctx, job.ID, logs); err != nil {
				l.logger.Warn("orphan log note failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reconcile orphans: %w", err)
	}
	return nil
}
