package joblog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSink struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (s *stubSink) UpdateJobLogs(_ context.Context, _ string, logs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, logs)
	return nil
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *stubSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return ""
	}
	return s.writes[len(s.writes)-1]
}

func testHeader() Header {
	return Header{
		Target:    "alpha",
		SourceURL: "https://example.test/stores.json",
		Region:    "world",
		Kind:      "universal",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignificantLineFlushesImmediately(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	buf := New(sink, "job-1", testHeader(), time.Minute, nil)

	buf.Stdout("✅ Found 3 stores")
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, sink.last(), "Found 3 stores")
	require.Contains(t, sink.last(), "Target:  alpha")
}

func TestStderrFlushesImmediately(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	buf := New(sink, "job-1", testHeader(), time.Minute, nil)

	buf.Stderr("connection refused")
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, sink.last(), "stderr | connection refused")
	require.Equal(t, "connection refused", buf.StderrText())
}

func TestRoutineOutputIsThrottled(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	buf := New(sink, "job-1", testHeader(), 50*time.Millisecond, nil)

	buf.Stdout("fetching page 1")
	buf.Stdout("fetching page 2")
	buf.Stdout("fetching page 3")

	// One timer-driven flush carries all three routine lines.
	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, sink.last(), "fetching page 3")
}

func TestFinalizeWritesFooter(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	buf := New(sink, "job-1", testHeader(), time.Minute, nil)

	buf.Stdout("fetching page 1")
	buf.Finalize("0", time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC))

	require.GreaterOrEqual(t, sink.count(), 1)
	last := sink.last()
	require.Contains(t, last, "---- job finished ----")
	require.Contains(t, last, "Exit:      0")
	require.Contains(t, last, "2026-03-01T12:05:00Z")
	require.True(t, strings.HasPrefix(last, "==== scrape job ====\n"))
}

func TestStdoutTextExcludesStderrAndNotes(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	buf := New(sink, "job-1", testHeader(), time.Minute, nil)

	buf.Stdout("Found 3 stores")
	buf.Stderr("retrying: Found 99 stores cached upstream")
	buf.Note("cancellation requested; termination signal sent (grace 5s)")

	// Summary scanning reads stdout only; the combined log keeps everything.
	require.Equal(t, "Found 3 stores", buf.StdoutText())
	require.Contains(t, buf.Formatted(), "stderr | retrying")
	require.Contains(t, buf.Formatted(), "cancellation requested")
}

func TestSinkFailureDoesNotAbortCapture(t *testing.T) {
	t.Parallel()

	sink := &stubSink{err: errors.New("db down")}
	buf := New(sink, "job-1", testHeader(), time.Minute, nil)

	buf.Stderr("boom")
	buf.Stdout("still capturing")
	require.Contains(t, buf.StdoutText(), "still capturing")
}
