// Package joblog accumulates worker output per job and persists it to the
// job store on a throttled-but-interrupt-driven schedule.
package joblog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	flushTimeout         = 5 * time.Second
	stderrTailLines      = 20
)

// Markers that force an immediate flush when they appear in a stdout line.
// They mirror the vocabulary of the scrape worker's progress output.
var significantMarkers = []string{"✅", "❌", "⚠️", "✓", "✗", "Found", "ERROR", "stores"}

// Sink persists the formatted log text for a job. scrape.JobStore satisfies it.
type Sink interface {
	UpdateJobLogs(ctx context.Context, jobID string, logs string) error
}

// Header describes the job for the formatted log preamble.
type Header struct {
	Target    string
	SourceURL string
	Region    string
	Kind      string
	StartedAt time.Time
}

// Buffer collects stdout/stderr text for one job and flushes the combined,
// formatted text to the sink. Routine output is persisted at most once per
// interval; stderr chunks and stdout lines carrying a significant marker
// flush immediately. A sink failure is logged and never interrupts capture.
type Buffer struct {
	sink     Sink
	jobID    string
	interval time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	header     Header
	lines      []string
	stdout     []string
	stderrTail []string
	footer     string
	lastFlush  time.Time
	timer      *time.Timer
	timerSet   bool
}

// New constructs a Buffer for one job. A non-positive interval falls back to
// the 500ms default.
func New(sink Sink, jobID string, header Header, interval time.Duration, logger *zap.Logger) *Buffer {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		sink:     sink,
		jobID:    jobID,
		interval: interval,
		logger:   logger,
		header:   header,
	}
}

// Stdout appends a stdout line, flushing immediately when it carries a
// significant marker.
func (b *Buffer) Stdout(line string) {
	b.mu.Lock()
	b.stdout = append(b.stdout, line)
	b.mu.Unlock()
	b.append(line, significant(line))
}

// Stderr appends a stderr line. Stderr always flushes immediately.
func (b *Buffer) Stderr(line string) {
	b.mu.Lock()
	b.stderrTail = append(b.stderrTail, line)
	if len(b.stderrTail) > stderrTailLines {
		b.stderrTail = b.stderrTail[len(b.stderrTail)-stderrTailLines:]
	}
	b.mu.Unlock()
	b.append("stderr | "+line, true)
}

// Note appends an orchestrator-generated line (e.g. a cancellation notice)
// and flushes immediately.
func (b *Buffer) Note(line string) {
	b.append(line, true)
}

// Finalize writes the footer block and performs the last flush. The pending
// throttle timer, if any, is stopped.
func (b *Buffer) Finalize(exitNote string, completedAt time.Time) {
	b.mu.Lock()
	b.footer = fmt.Sprintf("---- job finished ----\nExit:      %s\nCompleted: %s\n",
		exitNote, completedAt.UTC().Format(time.RFC3339))
	b.stopTimerLocked()
	b.mu.Unlock()
	b.flush()
}

// Formatted renders the header block, the captured output, and the footer
// block once the job is terminal.
func (b *Buffer) Formatted() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.formattedLocked()
}

// StdoutText returns only the worker's stdout, for scanning summary lines.
// Stderr and orchestrator notes are excluded so counts can never come from
// an error message that happens to mention stores.
func (b *Buffer) StdoutText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.stdout, "\n")
}

// StderrText returns the tail of captured stderr, used as the failure
// message on nonzero exit.
func (b *Buffer) StderrText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(strings.Join(b.stderrTail, "\n"))
}

func (b *Buffer) append(line string, immediate bool) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if immediate {
		b.stopTimerLocked()
		b.mu.Unlock()
		b.flush()
		return
	}
	if b.timerSet {
		b.mu.Unlock()
		return
	}
	wait := b.interval - time.Since(b.lastFlush)
	if wait <= 0 {
		b.mu.Unlock()
		b.flush()
		return
	}
	b.timer = time.AfterFunc(wait, b.flush)
	b.timerSet = true
	b.mu.Unlock()
}

func (b *Buffer) flush() {
	b.mu.Lock()
	b.timerSet = false
	b.lastFlush = time.Now()
	text := b.formattedLocked()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := b.sink.UpdateJobLogs(ctx, b.jobID, text); err != nil {
		// Degraded, not fatal: capture continues and the next flush retries.
		b.logger.Warn("log flush failed", zap.String("job_id", b.jobID), zap.Error(err))
	}
}

func (b *Buffer) formattedLocked() string {
	var sb strings.Builder
	sb.WriteString("==== scrape job ====\n")
	fmt.Fprintf(&sb, "Target:  %s\n", b.header.Target)
	fmt.Fprintf(&sb, "URL:     %s\n", b.header.SourceURL)
	fmt.Fprintf(&sb, "Region:  %s\n", b.header.Region)
	fmt.Fprintf(&sb, "Type:    %s\n", b.header.Kind)
	fmt.Fprintf(&sb, "Started: %s\n", b.header.StartedAt.UTC().Format(time.RFC3339))
	sb.WriteString("====================\n")
	for _, line := range b.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if b.footer != "" {
		sb.WriteString(b.footer)
	}
	return sb.String()
}

func (b *Buffer) stopTimerLocked() {
	if b.timerSet && b.timer != nil {
		b.timer.Stop()
	}
	b.timerSet = false
}

func significant(line string) bool {
	for _, marker := range significantMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
