package cmd

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestExtractHostAliases(t *testing.T) {
	config := `
Host bastion jump
    HostName 10.0.0.1

Host *.internal !secret
    User admin

host db # primary database
    HostName db.example.com

Host web?
Host bastion
Match host foo
    User bar
`

	got := extractHostAliases(config)
	want := []string{"bastion", "jump", "db"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadSSHConfig_FollowsIncludes(t *testing.T) {
	sshDir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		path := filepath.Join(sshDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	write("config", "Include config.d/*\nHost main\n")
	write("config.d/work", "Host work-a work-b\nInclude config\n")
	write("config.d/home", "Host nas\n")

	config, err := readSSHConfig(filepath.Join(sshDir, "config"), sshDir, make(map[string]bool))
	if err != nil {
		t.Fatalf("readSSHConfig failed: %v", err)
	}

	got := extractHostAliases(config)
	slices.Sort(got)
	want := []string{"main", "nas", "work-a", "work-b"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadSSHConfig_Missing(t *testing.T) {
	dir := t.TempDir()
	if _, err := readSSHConfig(filepath.Join(dir, "config"), dir, make(map[string]bool)); err == nil {
		t.Error("expected error for a missing config file")
	}
}
