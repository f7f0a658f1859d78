package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storescout/storescout/internal/joblog"
	"github.com/storescout/storescout/internal/metrics"
	"github.com/storescout/storescout/internal/scrape"
)

const (
	defaultCancelGrace  = 5 * time.Second
	defaultMergeTimeout = 5 * time.Minute
	publishTimeout      = 5 * time.Second
	scannerBufferSize   = 1024 * 1024
)

// Config controls worker spawning and post-processing.
type Config struct {
	// ScraperCommand is the scrape worker invocation prefix, e.g.
	// {"python3", "universal_scraper.py"}. Job-specific arguments are
	// appended per the worker contract.
	ScraperCommand []string
	// MergeCommand is the merge worker invocation prefix; job arguments
	// (new result path, master path, target) are appended.
	MergeCommand []string
	// OutputDir receives one result file per job.
	OutputDir string
	// MasterPath is the accumulating master dataset file.
	MasterPath string
	// FlushInterval throttles routine log persistence.
	FlushInterval time.Duration
	// CancelGrace is how long a worker gets to exit after SIGTERM.
	CancelGrace time.Duration
	// MergeTimeout bounds the merge worker run.
	MergeTimeout time.Duration
	// EventsTopic, when set, receives terminal job events.
	EventsTopic string
}

func (c *Config) applyDefaults() {
	if c.CancelGrace <= 0 {
		c.CancelGrace = defaultCancelGrace
	}
	if c.MergeTimeout <= 0 {
		c.MergeTimeout = defaultMergeTimeout
	}
}

// Launcher spawns one worker process per job, streams its output into the
// job log, and reacts to process exit. Outcomes are reported exclusively
// through job store mutations; nothing escapes back to the creating caller.
type Launcher struct {
	store     scrape.JobStore
	registry  *Registry
	merger    *Merger
	publisher scrape.Publisher
	clock     scrape.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	buffers map[string]*joblog.Buffer
}

// NewLauncher constructs a Launcher and its Merger.
func NewLauncher(
	store scrape.JobStore,
	results scrape.ResultStore,
	blob scrape.BlobStore,
	publisher scrape.Publisher,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Launcher {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	l := &Launcher{
		store:     store,
		registry:  NewRegistry(),
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		buffers:   make(map[string]*joblog.Buffer),
	}
	l.merger = &Merger{
		store:     store,
		results:   results,
		blob:      blob,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	return l
}

// Registry exposes the live-process table, primarily for tests.
func (l *Launcher) Registry() *Registry {
	return l.registry
}

// Start transitions the job to running and spawns its worker. It is
// fire-and-forget: once the running transition lands, every later outcome
// is written to the job store, never returned.
func (l *Launcher) Start(ctx context.Context, job scrape.Job) error {
	if len(l.cfg.ScraperCommand) == 0 {
		return errors.New("scraper command is not configured")
	}
	startedAt := l.clock.Now()
	header := joblog.Header{
		Target:    job.Target,
		SourceURL: job.SourceURL,
		Region:    job.Region,
		Kind:      "universal",
		StartedAt: startedAt,
	}
	buf := joblog.New(l.store, job.ID, header, l.cfg.FlushInterval, l.logger)
	if err := l.store.MarkJobRunning(ctx, job.ID, startedAt, buf.Formatted()); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	if err := os.MkdirAll(l.cfg.OutputDir, 0o750); err != nil {
		l.failSpawn(job, buf, fmt.Errorf("create output dir: %w", err))
		return nil
	}
	outputPath := l.outputPath(job)
	cmd := l.workerCommand(job, outputPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.failSpawn(job, buf, fmt.Errorf("stdout pipe: %w", err))
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		l.failSpawn(job, buf, fmt.Errorf("stderr pipe: %w", err))
		return nil
	}
	if err := cmd.Start(); err != nil {
		l.failSpawn(job, buf, fmt.Errorf("spawn worker: %w", err))
		return nil
	}

	handle := l.registry.Register(job.ID, cmd.Process)
	l.trackBuffer(job.ID, buf)
	metrics.IncActiveJobs()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go l.pump(&pumps, stdout, buf.Stdout)
	go l.pump(&pumps, stderr, buf.Stderr)
	go l.await(job, cmd, handle, buf, &pumps, outputPath)
	return nil
}

// Cancel drives a running job to cancelled. It sends the graceful signal,
// arms the forced-kill escalation, and writes the terminal state up front;
// the exit handler observes the claimed registry entry and stands down.
func (l *Launcher) Cancel(ctx context.Context, jobID string) error {
	job, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != scrape.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s", scrape.ErrInvalidJobState, jobID, job.Status)
	}
	now := l.clock.Now()
	state := scrape.TerminalState{
		Status:         scrape.JobStatusCancelled,
		ErrorText:      "cancelled by request",
		RecordsScraped: job.RecordsScraped,
		ResultRef:      job.ResultRef,
		CompletedAt:    now,
	}

	handle, live := l.registry.Remove(jobID)
	if !live {
		// Orphaned: the process died without its exit handler running, or
		// the registry was lost. No signal to send.
		if err := l.store.FinishJob(ctx, jobID, state); err != nil {
			return err
		}
		logs := job.Logs
		if logs != "" && !strings.HasSuffix(logs, "\n") {
			logs += "\n"
		}
		logs += "cancelled: job had no live worker process attached\n"
		if err := l.store.UpdateJobLogs(ctx, jobID, logs); err != nil {
			l.logger.Warn("cancel log note failed", zap.String("job_id", jobID), zap.Error(err))
		}
		metrics.ObserveJob(string(scrape.JobStatusCancelled))
		l.publishEvent(job, state)
		return nil
	}

	if err := handle.Terminate(); err != nil {
		l.logger.Warn("graceful termination signal failed", zap.String("job_id", jobID), zap.Error(err))
	}
	handle.ScheduleKill(l.cfg.CancelGrace)

	if buf := l.buffer(jobID); buf != nil {
		buf.Note(fmt.Sprintf("cancellation requested; termination signal sent (grace %s)", l.cfg.CancelGrace))
	}
	if err := l.finishWithRetry(ctx, jobID, state); err != nil {
		return err
	}
	metrics.ObserveJob(string(scrape.JobStatusCancelled))
	l.publishEvent(job, state)
	return nil
}

func (l *Launcher) await(
	job scrape.Job,
	cmd *exec.Cmd,
	handle *Handle,
	buf *joblog.Buffer,
	pumps *sync.WaitGroup,
	outputPath string,
) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("panic in job exit handling", zap.String("job_id", job.ID), zap.Any("panic", rec))
		}
		l.dropBuffer(job.ID)
		metrics.DecActiveJobs()
	}()

	pumps.Wait()
	waitErr := cmd.Wait()
	handle.ConfirmExit()
	completedAt := l.clock.Now()

	if _, owned := l.registry.Remove(job.ID); !owned {
		// Cancellation already claimed this job; just close out the log.
		buf.Finalize(exitNote(waitErr), completedAt)
		return
	}

	if waitErr == nil {
		l.merger.Finalize(context.Background(), job, outputPath, buf)
		return
	}

	msg := buf.StderrText()
	if msg == "" {
		msg = fmt.Sprintf("worker exited with code %d", exitCode(waitErr))
	}
	state := scrape.TerminalState{
		Status:      scrape.JobStatusFailed,
		ErrorText:   msg,
		CompletedAt: completedAt,
	}
	if err := l.finishWithRetry(context.Background(), job.ID, state); err != nil {
		l.logger.Error("failed-job terminal write lost", zap.String("job_id", job.ID), zap.Error(err))
	}
	buf.Finalize(exitNote(waitErr), completedAt)
	metrics.ObserveJob(string(scrape.JobStatusFailed))
	l.publishEvent(job, state)
}

func (l *Launcher) failSpawn(job scrape.Job, buf *joblog.Buffer, spawnErr error) {
	completedAt := l.clock.Now()
	buf.Note("❌ " + spawnErr.Error())
	state := scrape.TerminalState{
		Status:      scrape.JobStatusFailed,
		ErrorText:   spawnErr.Error(),
		CompletedAt: completedAt,
	}
	if err := l.finishWithRetry(context.Background(), job.ID, state); err != nil {
		l.logger.Error("spawn-failure terminal write lost", zap.String("job_id", job.ID), zap.Error(err))
	}
	buf.Finalize("spawn failure", completedAt)
	metrics.ObserveJob(string(scrape.JobStatusFailed))
	l.publishEvent(job, state)
}

func (l *Launcher) workerCommand(job scrape.Job, outputPath string) *exec.Cmd {
	region := job.Region
	if region == "" {
		region = "world"
	}
	args := append([]string(nil), l.cfg.ScraperCommand[1:]...)
	args = append(args, "--url", job.SourceURL, "--output", outputPath, "--region", region)
	if job.Config != "" {
		args = append(args, "--mapping", job.Config)
	}
	cmd := exec.Command(l.cfg.ScraperCommand[0], args...) //nolint:gosec
	// Line-flushed output so log events arrive promptly rather than batched.
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	return cmd
}

func (l *Launcher) outputPath(job scrape.Job) string {
	target := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, job.Target)
	return filepath.Join(l.cfg.OutputDir, fmt.Sprintf("%s-%s.csv", target, job.ID))
}

func (l *Launcher) pump(wg *sync.WaitGroup, r io.Reader, emit func(string)) {
	defer wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("panic in worker output handling", zap.Any("panic", rec))
		}
	}()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}

// finishWithRetry retries the terminal-state write once, since losing it
// leaves the job stuck in running forever. An invalid-state rejection is a
// lost race with another terminal transition and is returned as-is.
func (l *Launcher) finishWithRetry(ctx context.Context, jobID string, state scrape.TerminalState) error {
	return finishJobWithRetry(ctx, l.store, jobID, state, l.logger)
}

func (l *Launcher) publishEvent(job scrape.Job, state scrape.TerminalState) {
	if l.publisher == nil || l.cfg.EventsTopic == "" {
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
	if _, err := l.publisher.Publish(ctx, l.cfg.EventsTopic, evt); err != nil {
		l.logger.Warn("job event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (l *Launcher) trackBuffer(jobID string, buf *joblog.Buffer) {
	l.mu.Lock()
	l.buffers[jobID] = buf
	l.mu.Unlock()
}

func (l *Launcher) buffer(jobID string) *joblog.Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffers[jobID]
}

func (l *Launcher) dropBuffer(jobID string) {
	l.mu.Lock()
	delete(l.buffers, jobID)
	l.mu.Unlock()
}

func exitNote(waitErr error) string {
	if waitErr == nil {
		return "0"
	}
	return fmt.Sprintf("%d", exitCode(waitErr))
}

func exitCode(waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
