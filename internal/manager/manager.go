// Package manager coordinates the port allocator, process supervisor and
// registry. Every operation is one locked load, mutate, save cycle of the
// registry file; nothing is kept in memory between invocations.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.olrik.dev/pfm/internal/db"
	"go.olrik.dev/pfm/internal/ports"
	"go.olrik.dev/pfm/internal/registry"
	"go.olrik.dev/pfm/internal/supervisor"
)

// EventLogger receives lifecycle events. *db.DB satisfies it.
type EventLogger interface {
	LogForwardEvent(ev db.ForwardEvent) error
}

// Config holds the manager's collaborators. Events, PortOwner and Now are
// optional.
type Config struct {
	Store       *registry.Store
	Allocator   *ports.Allocator
	Supervisor  *supervisor.Supervisor
	Events      EventLogger
	BindAddress string
	PortOwner   func(port int) (pid int, ok bool)
	Now         func() time.Time
}

type Manager struct {
	store       *registry.Store
	allocator   *ports.Allocator
	sup         *supervisor.Supervisor
	events      EventLogger
	bindAddress string
	portOwner   func(port int) (int, bool)
	now         func() time.Time
}

func New(cfg Config) *Manager {
	m := &Manager{
		store:       cfg.Store,
		allocator:   cfg.Allocator,
		sup:         cfg.Supervisor,
		events:      cfg.Events,
		bindAddress: cfg.BindAddress,
		portOwner:   cfg.PortOwner,
		now:         cfg.Now,
	}
	if m.portOwner == nil {
		m.portOwner = ports.Owner
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// StartRequest asks for a new forward. RequestedPort 0 means the same port
// as RemotePort.
type StartRequest struct {
	Host          string
	RemotePort    int
	RequestedPort int
	Identity      string
	Options       []string
}

// Start allocates a local port, launches ssh and records the forward. A
// failed launch leaves the registry untouched.
func (m *Manager) Start(ctx context.Context, req StartRequest) (registry.Record, error) {
	if req.Host == "" {
		return registry.Record{}, errors.New("host is required")
	}
	if !ports.ValidPort(req.RemotePort) {
		return registry.Record{}, fmt.Errorf("%w: remote port %d", ports.ErrInvalidPort, req.RemotePort)
	}
	requested := req.RequestedPort
	if requested == 0 {
		requested = req.RemotePort
	}

	var (
		created  registry.Record
		launched int
		local    int
	)
	err := m.store.Update(ctx, func(reg *registry.Registry) error {
		var err error
		local, err = m.allocator.Allocate(requested, reg.RunningPorts())
		if err != nil {
			return err
		}
		if local != requested {
			m.logPortOwner(requested)
		}

		launched, err = m.sup.Launch(ctx, supervisor.LaunchRequest{
			Host:        req.Host,
			RemotePort:  req.RemotePort,
			LocalPort:   local,
			BindAddress: m.bindAddress,
			Identity:    req.Identity,
			Options:     req.Options,
		})
		if err != nil {
			return err
		}

		created, err = reg.Add(registry.Record{
			Host:          req.Host,
			RemotePort:    req.RemotePort,
			LocalPort:     local,
			RequestedPort: requested,
			PID:           launched,
			Status:        registry.StatusRunning,
			CreatedAt:     m.now().UTC(),
			Identity:      req.Identity,
			Options:       req.Options,
		})
		return err
	})
	if err != nil {
		if launched > 0 {
			// The child is running but was never recorded; don't orphan it
			slog.Warn("Failed to record forward, stopping its ssh process", "pid", launched, "error", err)
			if termErr := m.sup.Terminate(launched); termErr != nil && !errors.Is(termErr, supervisor.ErrAlreadyDead) {
				slog.Error("Failed to stop unrecorded ssh process", "pid", launched, "error", termErr)
			}
		}
		if errors.Is(err, supervisor.ErrLaunchFailed) {
			m.logEvent(db.ForwardEvent{
				Host:       req.Host,
				LocalPort:  local,
				RemotePort: req.RemotePort,
				EventType:  db.EventLaunchFailed,
				Details:    err.Error(),
			})
		}
		return registry.Record{}, err
	}

	details := fmt.Sprintf("pid %d", created.PID)
	if created.Remapped() {
		details += fmt.Sprintf(", requested port %d", created.RequestedPort)
	}
	m.logEvent(eventFor(created, db.EventStarted, details))
	slog.Info("Started forward", "id", created.ID, "host", created.Host, "port", created.LocalPort, "pid", created.PID)
	return created, nil
}

// List reconciles every running record against the process table, saves the
// result and returns all records in insertion order.
func (m *Manager) List(ctx context.Context) ([]registry.Record, error) {
	var (
		records []registry.Record
		died    []registry.Record
	)
	err := m.store.Update(ctx, func(reg *registry.Registry) error {
		died = m.reconcile(reg)
		records = reg.Records()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logDeaths(died)
	return records, nil
}

// Snapshot returns the records as stored, without reconciling or writing.
func (m *Manager) Snapshot(ctx context.Context) ([]registry.Record, error) {
	var records []registry.Record
	err := m.store.View(ctx, func(reg *registry.Registry) error {
		records = reg.Records()
		return nil
	})
	return records, err
}

// Stop terminates the forward's process if it is still running and removes
// its record. If termination fails the record is kept so the stop can be
// retried.
func (m *Manager) Stop(ctx context.Context, id int) (registry.Record, error) {
	var removed registry.Record
	err := m.store.Update(ctx, func(reg *registry.Registry) error {
		rec, err := reg.Get(id)
		if err != nil {
			return err
		}
		if err := m.terminate(rec); err != nil {
			return err
		}
		removed, err = reg.Remove(id)
		return err
	})
	if err != nil {
		return registry.Record{}, err
	}

	m.logEvent(eventFor(removed, db.EventStopped, string(removed.Status)))
	slog.Info("Stopped forward", "id", removed.ID, "port", removed.LocalPort)
	return removed, nil
}

// StopAll stops every forward in one update. Records whose process could not
// be terminated are kept; the first such error is returned alongside the
// records that were removed.
func (m *Manager) StopAll(ctx context.Context) ([]registry.Record, error) {
	var (
		removed  []registry.Record
		firstErr error
	)
	err := m.store.Update(ctx, func(reg *registry.Registry) error {
		removed = nil
		firstErr = nil
		for _, rec := range reg.Records() {
			if err := m.terminate(rec); err != nil {
				slog.Error("Failed to stop forward", "id", rec.ID, "pid", rec.PID, "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("forward %d: %w", rec.ID, err)
				}
				continue
			}
			gone, err := reg.Remove(rec.ID)
			if err != nil {
				return err
			}
			removed = append(removed, gone)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rec := range removed {
		m.logEvent(eventFor(rec, db.EventStopped, string(rec.Status)))
	}
	return removed, firstErr
}

// Prune reconciles and then removes every dead record. It returns the
// removed records.
func (m *Manager) Prune(ctx context.Context) ([]registry.Record, error) {
	var died, pruned []registry.Record
	err := m.store.Update(ctx, func(reg *registry.Registry) error {
		died = m.reconcile(reg)
		pruned = nil
		for _, rec := range reg.Records() {
			if rec.Running() {
				continue
			}
			gone, err := reg.Remove(rec.ID)
			if err != nil {
				return err
			}
			pruned = append(pruned, gone)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logDeaths(died)
	for _, rec := range pruned {
		m.logEvent(eventFor(rec, db.EventPruned, ""))
	}
	if len(pruned) > 0 {
		slog.Info("Pruned dead forwards", "count", len(pruned))
	}
	return pruned, nil
}

// reconcile marks running records whose process is gone as dead and returns
// the records that changed.
func (m *Manager) reconcile(reg *registry.Registry) []registry.Record {
	var died []registry.Record
	now := m.now()
	for _, rec := range reg.Records() {
		if !rec.Running() || m.sup.IsAlive(rec.PID) {
			continue
		}
		if dead, changed := reg.MarkDead(rec.ID, now); changed {
			slog.Debug("Forward process is gone", "id", rec.ID, "pid", rec.PID)
			died = append(died, dead)
		}
	}
	return died
}

// terminate stops the process behind rec. An already exited process is not
// an error.
func (m *Manager) terminate(rec registry.Record) error {
	if !rec.Running() {
		return nil
	}
	err := m.sup.Terminate(rec.PID)
	if errors.Is(err, supervisor.ErrAlreadyDead) {
		slog.Debug("Forward process already exited", "id", rec.ID, "pid", rec.PID)
		return nil
	}
	return err
}

func (m *Manager) logPortOwner(port int) {
	if pid, ok := m.portOwner(port); ok {
		slog.Info("Requested port is in use", "port", port, "owner_pid", pid)
	}
}

func (m *Manager) logDeaths(died []registry.Record) {
	for _, rec := range died {
		m.logEvent(eventFor(rec, db.EventDied, fmt.Sprintf("pid %d", rec.PID)))
	}
}

func (m *Manager) logEvent(ev db.ForwardEvent) {
	if m.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if err := m.events.LogForwardEvent(ev); err != nil {
		slog.Error("Failed to log forward event", "event", ev.EventType, "id", ev.ForwardID, "error", err)
	}
}

func eventFor(rec registry.Record, eventType, details string) db.ForwardEvent {
	return db.ForwardEvent{
		ForwardID:  rec.ID,
		Host:       rec.Host,
		LocalPort:  rec.LocalPort,
		RemotePort: rec.RemotePort,
		EventType:  eventType,
		Details:    details,
	}
}
