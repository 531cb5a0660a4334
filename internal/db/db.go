// Package db keeps an append-only SQLite history of forward lifecycle events.
// The history is informational; the registry file remains the source of truth.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded in forward_events.
const (
	EventStarted      = "started"
	EventLaunchFailed = "launch_failed"
	EventDied         = "died"
	EventStopped      = "stopped"
	EventPruned       = "pruned"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets a concurrent `pfm history` read while another invocation writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS forward_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		forward_id INTEGER NOT NULL,
		host TEXT NOT NULL,
		local_port INTEGER NOT NULL,
		remote_port INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_forward_events_timestamp ON forward_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_forward_events_forward ON forward_events(forward_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// ForwardEvent is one lifecycle transition of a forward. ForwardID is 0 for
// launches that never produced a record.
type ForwardEvent struct {
	ID         int64     `json:"id" yaml:"id"`
	ForwardID  int       `json:"forward_id" yaml:"forward_id"`
	Host       string    `json:"host" yaml:"host"`
	LocalPort  int       `json:"local_port" yaml:"local_port"`
	RemotePort int       `json:"remote_port" yaml:"remote_port"`
	EventType  string    `json:"event_type" yaml:"event_type"`
	Details    string    `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// LogForwardEvent appends ev. A zero Timestamp means now.
func (db *DB) LogForwardEvent(ev ForwardEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// Retry briefly if another invocation holds the write lock (3 attempts, 5ms between)
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO forward_events (forward_id, host, local_port, remote_port, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ForwardID, ev.Host, ev.LocalPort, ev.RemotePort, ev.EventType, ev.Details, ev.Timestamp.UTC(),
		)
		if err == nil {
			return nil
		}
		if isBusy(err) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log forward event after %d retries: database locked", maxRetries)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// RecentForwardEvents returns up to limit events, newest first
func (db *DB) RecentForwardEvents(limit int) ([]ForwardEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, forward_id, host, local_port, remote_port, event_type, details, timestamp
		 FROM forward_events
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsForForward returns the full history of one forward, oldest first
func (db *DB) EventsForForward(forwardID int) ([]ForwardEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, forward_id, host, local_port, remote_port, event_type, details, timestamp
		 FROM forward_events
		 WHERE forward_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		forwardID,
	)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]ForwardEvent, error) {
	defer rows.Close()

	var events []ForwardEvent
	for rows.Next() {
		var e ForwardEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ForwardID, &e.Host, &e.LocalPort, &e.RemotePort, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}
