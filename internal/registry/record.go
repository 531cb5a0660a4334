package registry

import (
	"fmt"
	"slices"
	"time"
)

// Status is the persisted lifecycle state of a forward.
type Status string

const (
	StatusRunning Status = "running"
	StatusDead    Status = "dead"
)

// Record describes one tracked forward.
//
// LocalPort is fixed at creation. A forward that needs a different port is a
// new record, never a mutation of an existing one.
type Record struct {
	ID            int        `json:"id" yaml:"id"`
	Host          string     `json:"host" yaml:"host"`
	RemotePort    int        `json:"remote_port" yaml:"remote_port"`
	LocalPort     int        `json:"local_port" yaml:"local_port"`
	RequestedPort int        `json:"requested_port" yaml:"requested_port"`
	PID           int        `json:"process_id" yaml:"process_id"`
	Status        Status     `json:"status" yaml:"status"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	DiedAt        *time.Time `json:"died_at,omitempty" yaml:"died_at,omitempty"`
	Identity      string     `json:"identity,omitempty" yaml:"identity,omitempty"`
	Options       []string   `json:"options,omitempty" yaml:"options,omitempty"`
}

// Remapped reports whether the forward got a different local port than requested.
func (r Record) Remapped() bool {
	return r.LocalPort != r.RequestedPort
}

// Running reports whether the record is believed to have a live process.
func (r Record) Running() bool {
	return r.Status == StatusRunning
}

// String renders the forward in ssh -L notation.
func (r Record) String() string {
	return fmt.Sprintf("localhost:%d -> %s:%d", r.LocalPort, r.Host, r.RemotePort)
}

func (r Record) clone() Record {
	c := r
	c.Options = slices.Clone(r.Options)
	if r.DiedAt != nil {
		diedAt := *r.DiedAt
		c.DiedAt = &diedAt
	}
	return c
}
