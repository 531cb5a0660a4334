package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// registryFile is the on-disk schema of the registry
type registryFile struct {
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	NextID    int      `json:"next_id"`
	Forwards  []Record `json:"forwards"`
}

const (
	registryFileVersion = "1"
	defaultLockTimeout  = 5 * time.Second
	lockPollInterval    = 25 * time.Millisecond
)

// Store persists a Registry as a JSON document guarded by an advisory lock
// on a sibling ".lock" file.
type Store struct {
	path        string
	lockTimeout time.Duration
}

// NewStore returns a store for the registry file at path. A zero lockTimeout
// uses the default of five seconds.
func NewStore(path string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{path: path, lockTimeout: lockTimeout}
}

// Path returns the registry file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// Update runs fn against the current registry while holding the exclusive
// lock, then saves the result. Nothing is saved when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(*Registry) error) error {
	lock, err := acquireLock(ctx, s.lockPath(), true, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	reg, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(reg); err != nil {
		return err
	}

	return s.save(reg)
}

// View runs fn against a snapshot of the registry under a shared lock.
// Changes made by fn are discarded.
func (s *Store) View(ctx context.Context, fn func(*Registry) error) error {
	lock, err := acquireLock(ctx, s.lockPath(), false, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	reg, err := s.load()
	if err != nil {
		return err
	}
	return fn(reg)
}

// load reads the registry file. A missing file is an empty registry; an
// unreadable or corrupt one is an ErrStorage, since carrying on with an empty
// registry would orphan the processes it tracks.
func (s *Store) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No registry file yet", "path", s.path)
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrStorage, s.path, err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrStorage, s.path, err)
	}

	if file.Version != registryFileVersion {
		return nil, fmt.Errorf("%w: unsupported registry version %q in %s (expected %s)",
			ErrStorage, file.Version, s.path, registryFileVersion)
	}

	reg := New()
	for _, rec := range file.Forwards {
		if rec.ID <= 0 {
			return nil, fmt.Errorf("%w: invalid forward id %d in %s", ErrStorage, rec.ID, s.path)
		}
		if rec.Status != StatusRunning && rec.Status != StatusDead {
			return nil, fmt.Errorf("%w: forward %d has unknown status %q", ErrStorage, rec.ID, rec.Status)
		}
		if err := reg.insert(rec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	// Never hand out an ID again, even if the highest one was removed
	if file.NextID > reg.nextID {
		reg.nextID = file.NextID
	}

	return reg, nil
}

// save atomically replaces the registry file using temp file + rename
func (s *Store) save(reg *Registry) error {
	file := registryFile{
		Version:   registryFileVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		NextID:    reg.nextID,
		Forwards:  reg.Records(),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal registry: %w", ErrStorage, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: failed to create registry directory: %w", ErrStorage, err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write registry temp file: %w", ErrStorage, err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to rename registry file: %w", ErrStorage, err)
	}

	slog.Debug("Registry saved", "path", s.path, "forwards", reg.Len(), "next_id", reg.nextID)
	return nil
}
