package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_OpenAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if db.Path() != dbPath {
		t.Errorf("expected path %s, got %s", dbPath, db.Path())
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}

func TestDB_ReopenKeepsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.LogForwardEvent(ForwardEvent{ForwardID: 1, Host: "a", LocalPort: 1, RemotePort: 1, EventType: EventStarted}); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}
	db.Close()

	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	events, err := db.RecentForwardEvents(10)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after reopen, got %d", len(events))
	}
}

func TestDB_LogForwardEvent(t *testing.T) {
	db := openTestDB(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := db.LogForwardEvent(ForwardEvent{
		ForwardID:  7,
		Host:       "db.example.com",
		LocalPort:  5433,
		RemotePort: 5432,
		EventType:  EventStarted,
		Details:    "pid 4242",
		Timestamp:  at,
	})
	if err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}

	events, err := db.RecentForwardEvents(10)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.ForwardID != 7 || e.Host != "db.example.com" || e.LocalPort != 5433 || e.RemotePort != 5432 {
		t.Errorf("unexpected event fields: %+v", e)
	}
	if e.EventType != EventStarted {
		t.Errorf("expected event type %s, got %s", EventStarted, e.EventType)
	}
	if e.Details != "pid 4242" {
		t.Errorf("expected details 'pid 4242', got %q", e.Details)
	}
	if !e.Timestamp.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, e.Timestamp)
	}
}

func TestDB_LogForwardEvent_DefaultsTimestamp(t *testing.T) {
	db := openTestDB(t)

	before := time.Now().Add(-time.Second)
	if err := db.LogForwardEvent(ForwardEvent{Host: "h", EventType: EventLaunchFailed}); err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}

	events, err := db.RecentForwardEvents(1)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp.Before(before) {
		t.Errorf("expected timestamp to default to now, got %v", events[0].Timestamp)
	}
	if events[0].Details != "" {
		t.Errorf("expected empty details, got %q", events[0].Details)
	}
}

func TestDB_RecentForwardEvents(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	types := []string{EventStarted, EventDied, EventPruned, EventStarted, EventStopped}
	for i, eventType := range types {
		err := db.LogForwardEvent(ForwardEvent{
			ForwardID: i + 1,
			Host:      "host",
			EventType: eventType,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Failed to log event %d: %v", i, err)
		}
	}

	tests := []struct {
		name      string
		limit     int
		wantCount int
		wantFirst string
	}{
		{"all", 10, 5, EventStopped},
		{"limited", 2, 2, EventStopped},
		{"one", 1, 1, EventStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := db.RecentForwardEvents(tt.limit)
			if err != nil {
				t.Fatalf("Failed to query events: %v", err)
			}
			if len(events) != tt.wantCount {
				t.Fatalf("expected %d events, got %d", tt.wantCount, len(events))
			}
			if events[0].EventType != tt.wantFirst {
				t.Errorf("expected newest event %s, got %s", tt.wantFirst, events[0].EventType)
			}
			for i := 1; i < len(events); i++ {
				if events[i].Timestamp.After(events[i-1].Timestamp) {
					t.Errorf("events not ordered newest first at index %d", i)
				}
			}
		})
	}
}

func TestDB_EventsForForward(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := []ForwardEvent{
		{ForwardID: 1, EventType: EventStarted},
		{ForwardID: 2, EventType: EventStarted},
		{ForwardID: 1, EventType: EventDied},
		{ForwardID: 1, EventType: EventPruned},
	}
	for i, ev := range log {
		ev.Host = "host"
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := db.LogForwardEvent(ev); err != nil {
			t.Fatalf("Failed to log event %d: %v", i, err)
		}
	}

	events, err := db.EventsForForward(1)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}

	want := []string{EventStarted, EventDied, EventPruned}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, eventType := range want {
		if events[i].EventType != eventType {
			t.Errorf("event %d: expected %s, got %s", i, eventType, events[i].EventType)
		}
	}

	none, err := db.EventsForForward(99)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no events for unknown forward, got %d", len(none))
	}
}

func TestDB_ConcurrentWriters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer first.Close()

	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database twice: %v", err)
	}
	defer second.Close()

	for i := range 10 {
		writer := first
		if i%2 == 1 {
			writer = second
		}
		if err := writer.LogForwardEvent(ForwardEvent{ForwardID: i, Host: "h", EventType: EventStarted}); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	events, err := first.RecentForwardEvents(100)
	if err != nil {
		t.Fatalf("Failed to query events: %v", err)
	}
	if len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}
