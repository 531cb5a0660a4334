// Package registry holds the persisted set of tracked forwards.
//
// A Registry is only ever mutated inside Store.Update, which holds an
// exclusive lock on the backing file for the whole load, mutate, save cycle.
package registry

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("forward not found")
	ErrPortConflict = errors.New("local port already used by a running forward")
	ErrStorage      = errors.New("registry storage error")
	ErrLockTimeout  = errors.New("registry is locked by another pfm process")
)

// Registry is the ordered collection of records, keyed by ID.
type Registry struct {
	nextID  int
	records []*Record
}

// New returns an empty registry whose first record will get ID 1.
func New() *Registry {
	return &Registry{nextID: 1}
}

// Add assigns the next ID to rec and appends it. A running record whose
// LocalPort is already held by another running record is rejected.
func (r *Registry) Add(rec Record) (Record, error) {
	if rec.Status == "" {
		rec.Status = StatusRunning
	}
	rec.ID = r.nextID

	if err := r.insert(rec); err != nil {
		return Record{}, err
	}
	r.nextID++
	return rec.clone(), nil
}

// insert appends rec as-is after checking ID and port invariants.
func (r *Registry) insert(rec Record) error {
	for _, existing := range r.records {
		if existing.ID == rec.ID {
			return fmt.Errorf("duplicate forward id %d", rec.ID)
		}
		if rec.Running() && existing.Running() && existing.LocalPort == rec.LocalPort {
			return fmt.Errorf("%w: port %d (forward %d)", ErrPortConflict, rec.LocalPort, existing.ID)
		}
	}

	stored := rec.clone()
	r.records = append(r.records, &stored)
	if rec.ID >= r.nextID {
		r.nextID = rec.ID + 1
	}
	return nil
}

// Get returns a copy of the record with the given ID.
func (r *Registry) Get(id int) (Record, error) {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec.clone(), nil
		}
	}
	return Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Remove deletes the record with the given ID and returns it.
func (r *Registry) Remove(id int) (Record, error) {
	for i, rec := range r.records {
		if rec.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return rec.clone(), nil
		}
	}
	return Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// MarkDead demotes a running record. It returns the updated record and
// whether anything changed.
func (r *Registry) MarkDead(id int, at time.Time) (Record, bool) {
	for _, rec := range r.records {
		if rec.ID != id {
			continue
		}
		if !rec.Running() {
			return rec.clone(), false
		}
		diedAt := at.UTC()
		rec.Status = StatusDead
		rec.DiedAt = &diedAt
		return rec.clone(), true
	}
	return Record{}, false
}

// Records returns copies of all records in insertion order.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}

// RunningPorts returns the local ports held by running records.
func (r *Registry) RunningPorts() map[int]bool {
	ports := make(map[int]bool)
	for _, rec := range r.records {
		if rec.Running() {
			ports[rec.LocalPort] = true
		}
	}
	return ports
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// NextID returns the ID the next added record will get.
func (r *Registry) NextID() int {
	return r.nextID
}
