package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/pfm/internal/registry"
	"gopkg.in/yaml.v3"
)

func sampleRecords() []registry.Record {
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return []registry.Record{
		{ID: 1, Host: "db.example.com", RemotePort: 5432, LocalPort: 5432, RequestedPort: 5432, PID: 111, Status: registry.StatusRunning, CreatedAt: created},
		{ID: 4, Host: "web", RemotePort: 80, LocalPort: 8081, RequestedPort: 8080, PID: 222, Status: registry.StatusDead, CreatedAt: created.Add(-2 * time.Hour)},
	}
}

func TestRenderRecords_Text(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)

	if err := renderRecords(&buf, sampleRecords(), "text", now); err != nil {
		t.Fatalf("renderRecords failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"ID", "STATUS",
		"db.example.com:5432", "running", "5 minutes ago",
		"8081 (wanted 8080)", "web:80", "dead", "2 hours ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines != 3 {
		t.Errorf("expected header and 2 rows, got %d lines", lines)
	}
}

func TestRenderRecords_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := renderRecords(&buf, nil, "text", time.Now()); err != nil {
		t.Fatalf("renderRecords failed: %v", err)
	}
	if buf.String() != "No forwards.\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	if err := renderRecords(&buf, nil, "json", time.Now()); err != nil {
		t.Fatalf("renderRecords failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %q", buf.String())
	}
}

func TestRenderRecords_Structured(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := renderRecords(&buf, sampleRecords(), format, time.Now()); err != nil {
				t.Fatalf("renderRecords failed: %v", err)
			}

			var decoded []map[string]any
			var err error
			if format == "json" {
				err = json.Unmarshal(buf.Bytes(), &decoded)
			} else {
				err = yaml.Unmarshal(buf.Bytes(), &decoded)
			}
			if err != nil {
				t.Fatalf("output is not valid %s: %v\n%s", format, err, buf.String())
			}

			if len(decoded) != 2 {
				t.Fatalf("expected 2 records, got %d", len(decoded))
			}
			if decoded[1]["host"] != "web" || decoded[1]["status"] != "dead" {
				t.Errorf("unexpected second record: %v", decoded[1])
			}
			if _, ok := decoded[0]["process_id"]; !ok {
				t.Errorf("expected process_id field, got %v", decoded[0])
			}
		})
	}
}

func TestRenderRecords_UnknownFormat(t *testing.T) {
	if err := renderRecords(&bytes.Buffer{}, sampleRecords(), "xml", time.Now()); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWatchRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forwards.json")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	changes := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- watchRegistry(ctx, path, 20*time.Millisecond, func() { changes <- struct{}{} })
	}()

	// Give the watcher time to register
	time.Sleep(200 * time.Millisecond)

	// Mimic a registry save: temp file renamed over the target
	for range 3 {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte("{}\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}

	// Unrelated files in the directory are ignored
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "history.db"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case <-changes:
		// A late debounce from the burst above is tolerated, a second one is not
		select {
		case <-changes:
			t.Error("expected unrelated file changes to be ignored")
		case <-time.After(200 * time.Millisecond):
		}
	default:
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean exit on cancel, got %v", err)
	}
}
