// Package supervisor starts ssh forwarding processes and answers liveness
// questions about them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrLaunchFailed    = errors.New("failed to launch ssh")
	ErrAlreadyDead     = errors.New("process already exited")
	ErrTerminateFailed = errors.New("failed to terminate process")
)

// LaunchRequest describes a single local forward.
type LaunchRequest struct {
	Host        string
	RemotePort  int
	LocalPort   int
	BindAddress string
	Identity    string
	Options     []string
}

// Launcher starts a detached forwarding process and returns its pid.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (int, error)
}

// ProcessTable is the OS capability set the supervisor needs.
type ProcessTable interface {
	IsAlive(pid int) bool
	Terminate(pid int) error
}

// Supervisor combines a Launcher and a ProcessTable and maps their failures
// onto ErrLaunchFailed, ErrAlreadyDead and ErrTerminateFailed.
type Supervisor struct {
	launcher Launcher
	procs    ProcessTable
}

func New(launcher Launcher, procs ProcessTable) *Supervisor {
	return &Supervisor{launcher: launcher, procs: procs}
}

// Launch starts the forward. Any failure is wrapped in ErrLaunchFailed with
// the underlying cause kept. Launches are never retried.
func (s *Supervisor) Launch(ctx context.Context, req LaunchRequest) (int, error) {
	pid, err := s.launcher.Launch(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: launcher returned invalid pid %d", ErrLaunchFailed, pid)
	}

	slog.Debug("Launched forward process", "pid", pid, "host", req.Host, "local_port", req.LocalPort, "remote_port", req.RemotePort)
	return pid, nil
}

// IsAlive reports whether pid refers to a running process.
func (s *Supervisor) IsAlive(pid int) bool {
	return s.procs.IsAlive(pid)
}

// Terminate stops pid. It returns ErrAlreadyDead when there was nothing to stop.
func (s *Supervisor) Terminate(pid int) error {
	if !s.procs.IsAlive(pid) {
		return fmt.Errorf("%w: pid %d", ErrAlreadyDead, pid)
	}
	if err := s.procs.Terminate(pid); err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrTerminateFailed, pid, err)
	}
	return nil
}
