package ports

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultSearchWindow is how many ports above the requested one are tried.
const DefaultSearchWindow = 100

var (
	ErrNoPortsAvailable = errors.New("no local ports available")
	ErrInvalidPort      = errors.New("invalid port")
)

// Allocator picks the local port for a new forward.
type Allocator struct {
	probe  Probe
	window int
}

// NewAllocator returns an allocator scanning window ports above the
// requested one. A non-positive window uses DefaultSearchWindow.
func NewAllocator(probe Probe, window int) *Allocator {
	if window <= 0 {
		window = DefaultSearchWindow
	}
	return &Allocator{probe: probe, window: window}
}

// Window returns the number of ports tried above the requested one.
func (a *Allocator) Window() int {
	return a.window
}

// Allocate returns requested if it is usable, otherwise the first usable
// port in requested+1 .. requested+window. A port is usable when it is not
// in reserved and the probe can bind it. Reserved covers ports of tracked
// forwards whose ssh child may not be listening yet.
func (a *Allocator) Allocate(requested int, reserved map[int]bool) (int, error) {
	if !ValidPort(requested) {
		return 0, fmt.Errorf("%w: %d is outside %d-%d", ErrInvalidPort, requested, MinPort, MaxPort)
	}

	for offset := 0; offset <= a.window; offset++ {
		candidate := requested + offset
		if reserved[candidate] {
			slog.Debug("Port held by a tracked forward", "port", candidate)
			continue
		}
		if !a.probe.IsFree(candidate) {
			continue
		}

		if candidate != requested {
			slog.Info("Requested port is taken, using the next free one", "requested", requested, "port", candidate)
		}
		return candidate, nil
	}

	return 0, fmt.Errorf("%w: ports %d-%d are all in use", ErrNoPortsAvailable, requested, requested+a.window)
}
