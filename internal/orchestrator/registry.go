// Package orchestrator supervises scrape worker processes: launch, log
// capture, cancellation, and post-success result merging.
package orchestrator

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// Handle wraps one live worker process. It exists only while the process is
// alive and is never persisted; the registry owns it.
type Handle struct {
	jobID string
	proc  *os.Process

	mu        sync.Mutex
	killTimer *time.Timer
	exited    bool
}

// Terminate sends the graceful termination signal.
func (h *Handle) Terminate() error {
	if err := h.proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal worker %s: %w", h.jobID, err)
	}
	return nil
}

// ScheduleKill arms the forced-kill escalation. The timer is a no-op once
// ConfirmExit has run, so a process that exits during the grace window is
// never killed by identifier reuse.
func (h *Handle) ScheduleKill(grace time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.killTimer != nil {
		return
	}
	h.killTimer = time.AfterFunc(grace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.exited {
			return
		}
		_ = h.proc.Kill()
	})
}

// ConfirmExit marks the process as reaped and disarms any pending
// escalation timer. Safe to call more than once.
func (h *Handle) ConfirmExit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
	if h.killTimer != nil {
		h.killTimer.Stop()
		h.killTimer = nil
	}
}

// Registry is the in-memory table of live worker handles, keyed by job ID.
// It is scoped to the orchestrator's process lifetime: a restart loses all
// entries, which is why startup reconciliation treats persisted running
// jobs as orphaned.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register adds a handle for a freshly spawned process.
func (r *Registry) Register(jobID string, proc *os.Process) *Handle {
	h := &Handle{jobID: jobID, proc: proc}
	r.mu.Lock()
	r.handles[jobID] = h
	r.mu.Unlock()
	return h
}

// Remove claims the handle for a job. The second return is false when the
// entry is absent, which both the exit handler and cancellation use to
// decide who owns the terminal transition: exactly one caller gets true.
func (r *Registry) Remove(jobID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	if ok {
		delete(r.handles, jobID)
	}
	return h, ok
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
