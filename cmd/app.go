package cmd

import (
	"log/slog"

	"go.olrik.dev/pfm/internal/core"
	"go.olrik.dev/pfm/internal/db"
	"go.olrik.dev/pfm/internal/manager"
	"go.olrik.dev/pfm/internal/ports"
	"go.olrik.dev/pfm/internal/registry"
	"go.olrik.dev/pfm/internal/supervisor"
)

// app is the per-invocation wiring of the manager and its collaborators.
type app struct {
	manager *manager.Manager
	store   *registry.Store
	history *db.DB
}

// openApp builds a manager from core.Config. The history database is
// optional; if it cannot be opened forwards are managed without it.
func openApp() *app {
	cfg := core.Config

	store := registry.NewStore(cfg.RegistryPath(), cfg.Lock.Timeout)
	launcher := &supervisor.SSHLauncher{
		Binary:              cfg.SSH.Binary,
		ConfigFile:          cfg.SSH.ConfigFile,
		ServerAliveInterval: cfg.SSH.ServerAliveInterval,
		ServerAliveCountMax: cfg.SSH.ServerAliveCountMax,
		StartupGrace:        cfg.SSH.StartupGrace,
	}

	a := &app{store: store}
	mcfg := manager.Config{
		Store:       store,
		Allocator:   ports.NewAllocator(ports.NewTCPProbe(cfg.Ports.BindAddress), cfg.Ports.SearchWindow),
		Supervisor:  supervisor.New(launcher, supervisor.NewOSProcessTable(cfg.SSH.TerminateTimeout)),
		BindAddress: cfg.Ports.BindAddress,
	}

	history, err := db.Open(cfg.HistoryPath())
	if err != nil {
		slog.Warn("History is unavailable", "path", cfg.HistoryPath(), "error", err)
	} else {
		a.history = history
		mcfg.Events = history
	}

	a.manager = manager.New(mcfg)
	return a
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Debug("Failed to close history database", "error", err)
		}
	}
}
