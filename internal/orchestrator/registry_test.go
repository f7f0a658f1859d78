package orchestrator

import (
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestRemoveClaimsOwnershipOnce(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmd := startSleeper(t)
	reg.Register("job-1", cmd.Process)

	var wg sync.WaitGroup
	claims := make(chan bool, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := reg.Remove("job-1")
			claims <- ok
		}()
	}
	wg.Wait()
	close(claims)

	owned := 0
	for ok := range claims {
		if ok {
			owned++
		}
	}
	require.Equal(t, 1, owned)
	require.Equal(t, 0, reg.Len())
}

func TestScheduleKillEscalates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmd := startSleeper(t)
	handle := reg.Register("job-1", cmd.Process)

	handle.ScheduleKill(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not killed after the grace period")
	}
}

func TestConfirmExitDisarmsKillTimer(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmd := startSleeper(t)
	handle := reg.Register("job-1", cmd.Process)

	handle.ScheduleKill(20 * time.Millisecond)
	handle.ConfirmExit()
	time.Sleep(100 * time.Millisecond)

	// Signal 0 probes liveness without delivering anything.
	require.NoError(t, cmd.Process.Signal(syscall.Signal(0)))
}

func TestConfirmExitBeforeScheduleKill(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	cmd := startSleeper(t)
	handle := reg.Register("job-1", cmd.Process)

	handle.ConfirmExit()
	handle.ScheduleKill(10 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, cmd.Process.Signal(syscall.Signal(0)))
}
