package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/storescout/storescout/internal/csvkit"
	"github.com/storescout/storescout/internal/joblog"
	"github.com/storescout/storescout/internal/metrics"
	"github.com/storescout/storescout/internal/scrape"
)

// Worker summary lines, matched against captured stdout. The normalized
// figure is preferred; "Found N stores" is the raw pre-normalization count.
var (
	reStoresNormalized = regexp.MustCompile(`(\d+)\s+stores normalized`)
	reFoundStores      = regexp.MustCompile(`Found\s+(\d+)\s+stores`)
)

// Merger folds a successful job's output into the master dataset and writes
// the completed terminal state. Every step except the initial row-count
// determination is independently fault-tolerant: a merge or stats problem
// downgrades to a warning without discarding the completed outcome.
type Merger struct {
	store     scrape.JobStore
	results   scrape.ResultStore
	blob      scrape.BlobStore
	publisher scrape.Publisher
	clock     scrape.Clock
	cfg       Config
	logger    *zap.Logger
}

// Finalize runs the post-success pipeline for one job. It only ever mutates
// the job store; errors never propagate to the exit handler.
func (m *Merger) Finalize(ctx context.Context, job scrape.Job, outputPath string, buf *joblog.Buffer) {
	rows, counted := parseWorkerCount(buf.StdoutText())
	if !counted {
		var err error
		rows, err = csvkit.CountDataRows(outputPath)
		if err != nil {
			m.failPostProcessing(ctx, job, buf, rows, err)
			return
		}
	}

	if err := m.runMergeWorker(ctx, outputPath, job.Target); err != nil {
		// The scrape itself succeeded; a merge problem must not fail the job.
		m.logger.Warn("master merge degraded", zap.String("job_id", job.ID), zap.Error(err))
		buf.Note("⚠️ master merge failed: " + err.Error())
	}

	now := m.clock.Now()
	m.recordResults(ctx, job, outputPath, rows, now)

	state := scrape.TerminalState{
		Status:         scrape.JobStatusCompleted,
		RecordsScraped: rows,
		ResultRef:      outputPath,
		CompletedAt:    now,
	}
	if err := finishJobWithRetry(ctx, m.store, job.ID, state, m.logger); err != nil {
		m.logger.Error("completed terminal write lost", zap.String("job_id", job.ID), zap.Error(err))
	}
	buf.Finalize("0", now)
	metrics.ObserveJob(string(scrape.JobStatusCompleted))
	metrics.AddRecordsScraped(rows)
	m.publishEvent(job, state)
}

// failPostProcessing is the one merge-phase path that fails the job: the
// output could not be interpreted at all. Partial statistics already
// computed ride along on the terminal state.
func (m *Merger) failPostProcessing(ctx context.Context, job scrape.Job, buf *joblog.Buffer, rows int, cause error) {
	now := m.clock.Now()
	state := scrape.TerminalState{
		Status:         scrape.JobStatusFailed,
		ErrorText:      "post-processing error: " + cause.Error(),
		RecordsScraped: rows,
		CompletedAt:    now,
	}
	if err := finishJobWithRetry(ctx, m.store, job.ID, state, m.logger); err != nil {
		m.logger.Error("post-processing terminal write lost", zap.String("job_id", job.ID), zap.Error(err))
	}
	buf.Note("❌ post-processing error: " + cause.Error())
	buf.Finalize("0 (post-processing failed)", now)
	metrics.ObserveJob(string(scrape.JobStatusFailed))
	m.publishEvent(job, state)
}

// runMergeWorker invokes the merge worker bounded by the configured
// timeout; on deadline the process is killed.
func (m *Merger) runMergeWorker(ctx context.Context, outputPath, target string) error {
	if len(m.cfg.MergeCommand) == 0 || m.cfg.MasterPath == "" {
		return nil
	}
	mergeCtx, cancel := context.WithTimeout(ctx, m.cfg.MergeTimeout)
	defer cancel()

	started := time.Now()
	args := append([]string(nil), m.cfg.MergeCommand[1:]...)
	args = append(args, outputPath, m.cfg.MasterPath, target)
	cmd := exec.CommandContext(mergeCtx, m.cfg.MergeCommand[0], args...) //nolint:gosec
	out, err := cmd.CombinedOutput()
	metrics.ObserveMergeDuration(time.Since(started))
	if mergeCtx.Err() != nil && errors.Is(mergeCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("merge worker timed out after %s", m.cfg.MergeTimeout)
	}
	if err != nil {
		return fmt.Errorf("merge worker: %w (output: %s)", err, firstLine(string(out)))
	}
	return nil
}

// recordResults recomputes file statistics and persists the individual and
// master result records. Failures degrade to warnings.
func (m *Merger) recordResults(ctx context.Context, job scrape.Job, outputPath string, rows int, now time.Time) {
	archiveURI := m.archiveResult(ctx, job, outputPath)

	individual := scrape.ResultRecord{
		ID:         job.ID,
		JobID:      job.ID,
		Target:     job.Target,
		Kind:       scrape.ResultKindIndividual,
		Path:       outputPath,
		ArchiveURI: archiveURI,
		Rows:       rows,
		SizeBytes:  fileSize(outputPath),
		UpdatedAt:  now,
	}
	if err := m.results.SaveResult(ctx, individual); err != nil {
		m.logger.Warn("individual result record not saved", zap.String("job_id", job.ID), zap.Error(err))
	}

	if m.cfg.MasterPath == "" {
		return
	}
	masterRows, err := csvkit.CountDataRows(m.cfg.MasterPath)
	if err != nil {
		m.logger.Warn("master dataset stats unavailable", zap.Error(err))
	}
	master := scrape.ResultRecord{
		ID:        scrape.MasterResultID,
		Target:    "all",
		Kind:      scrape.ResultKindMaster,
		Path:      m.cfg.MasterPath,
		Rows:      masterRows,
		SizeBytes: fileSize(m.cfg.MasterPath),
		UpdatedAt: now,
	}
	if err := m.results.UpsertMasterResult(ctx, master); err != nil {
		m.logger.Warn("master result record not saved", zap.Error(err))
	}
}

// archiveResult copies the result file to the blob store when one is
// configured. Optional; failures are warnings.
func (m *Merger) archiveResult(ctx context.Context, job scrape.Job, outputPath string) string {
	if m.blob == nil {
		return ""
	}
	data, err := os.ReadFile(outputPath) //nolint:gosec
	if err != nil {
		m.logger.Warn("result archive read failed", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("results/%s/%s.csv", job.Target, job.ID)
	uri, err := m.blob.PutObject(ctx, path, "text/csv", data)
	if err != nil {
		m.logger.Warn("result archive upload failed", zap.String("job_id", job.ID), zap.Error(err))
		return ""
	}
	return uri
}

func (m *Merger) publishEvent(job scrape.Job, state scrape.TerminalState) {
	if m.publisher == nil || m.cfg.EventsTopic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	evt := scrape.JobEvent{
		JobID:          job.ID,
		Target:         job.Target,
		Status:         state.Status,
		RecordsScraped: state.RecordsScraped,
		ErrorText:      state.ErrorText,
		Timestamp:      state.CompletedAt,
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.EventsTopic, evt); err != nil {
		m.logger.Warn("job event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// parseWorkerCount extracts the scraped row count from the worker's own
// summary text. The last occurrence wins, matching a worker that reports
// progressive totals.
func parseWorkerCount(stdout string) (int, bool) {
	for _, re := range []*regexp.Regexp{reStoresNormalized, reFoundStores} {
		matches := re.FindAllStringSubmatch(stdout, -1)
		if len(matches) == 0 {
			continue
		}
		n, err := strconv.Atoi(matches[len(matches)-1][1])
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

func finishJobWithRetry(
	ctx context.Context,
	store scrape.JobStore,
	jobID string,
	state scrape.TerminalState,
	logger *zap.Logger,
) error {
	err := store.FinishJob(ctx, jobID, state)
	if err == nil || errors.Is(err, scrape.ErrInvalidJobState) || errors.Is(err, scrape.ErrJobNotFound) {
		return err
	}
	logger.Warn("terminal state write failed, retrying once", zap.String("job_id", jobID), zap.Error(err))
	if err := store.FinishJob(ctx, jobID, state); err != nil {
		logger.Error("terminal state write failed twice; job may be stuck in running",
			zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
