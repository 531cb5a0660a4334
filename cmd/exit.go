package cmd

import (
	"errors"

	"go.olrik.dev/pfm/internal/ports"
	"go.olrik.dev/pfm/internal/registry"
	"go.olrik.dev/pfm/internal/supervisor"
)

const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitNotFound         = 2
	ExitNoPortsAvailable = 3
	ExitLaunchFailed     = 4
	ExitLockTimeout      = 5
	ExitStorage          = 6
)

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, registry.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ports.ErrNoPortsAvailable):
		return ExitNoPortsAvailable
	case errors.Is(err, supervisor.ErrLaunchFailed):
		return ExitLaunchFailed
	case errors.Is(err, registry.ErrLockTimeout):
		return ExitLockTimeout
	case errors.Is(err, registry.ErrStorage):
		return ExitStorage
	default:
		return ExitFailure
	}
}
