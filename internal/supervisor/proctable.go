package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// OSProcessTable answers liveness questions from the OS process table and
// terminates processes with SIGTERM, falling back to SIGKILL.
//
// A pid that was reused by an unrelated process is reported alive; this is
// not detected.
type OSProcessTable struct {
	TerminateTimeout time.Duration
	PollInterval     time.Duration
}

// NewOSProcessTable returns a table waiting up to terminateTimeout for a
// process to exit after SIGTERM.
func NewOSProcessTable(terminateTimeout time.Duration) *OSProcessTable {
	if terminateTimeout <= 0 {
		terminateTimeout = 5 * time.Second
	}
	return &OSProcessTable{
		TerminateTimeout: terminateTimeout,
		PollInterval:     100 * time.Millisecond,
	}
}

// IsAlive reports whether pid exists and is not a zombie waiting to be reaped.
func (t *OSProcessTable) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.Status()
	if err != nil {
		// Status is not available everywhere; existence is enough then
		slog.Debug("Failed to read process status", "pid", pid, "error", err)
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

// Terminate sends SIGTERM, polls until the process is gone and sends SIGKILL
// if it outlives TerminateTimeout. The process is usually not our child, so
// liveness is polled instead of waited on.
func (t *OSProcessTable) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	poll := t.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	deadline := time.Now().Add(t.TerminateTimeout)
	for time.Now().Before(deadline) {
		if !t.IsAlive(pid) {
			slog.Debug("Process terminated gracefully", "pid", pid)
			return nil
		}
		time.Sleep(poll)
	}

	slog.Warn("Process did not exit after SIGTERM, forcing kill", "pid", pid, "timeout", t.TerminateTimeout)
	if err := proc.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	time.Sleep(poll)
	if t.IsAlive(pid) {
		return fmt.Errorf("process %d survived SIGKILL", pid)
	}
	return nil
}
