package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.olrik.dev/pfm/internal/registry"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func NewListCommand() *cobra.Command {
	var (
		format string
		watch  bool
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked forwards",
		Long: `List all tracked forwards.

Forwards whose ssh process has exited are marked dead and the registry is
updated. Dead forwards stay listed until removed with 'pfm prune' or 'pfm stop'.

With --watch the list is redrawn whenever another pfm invocation changes the
registry. Watching only reads, it does not check process liveness.`,
		Aliases: []string{"ls", "status"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}

			a := openApp()
			defer a.Close()

			records, err := a.manager.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !watch {
				return renderRecords(out, records, format, time.Now())
			}

			redraw := func(records []registry.Record) {
				if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
					fmt.Fprint(out, "\033[H\033[2J")
				}
				if err := renderRecords(out, records, format, time.Now()); err != nil {
					slog.Error("Failed to render forwards", "error", err)
				}
			}
			redraw(records)

			return watchRegistry(cmd.Context(), a.store.Path(), 100*time.Millisecond, func() {
				records, err := a.manager.Snapshot(cmd.Context())
				if err != nil {
					slog.Error("Failed to read registry", "error", err)
					return
				}
				redraw(records)
			})
		},
	}
	listCmd.Flags().StringVarP(&format, "format", "F", "text", "Format to use (text/json/yaml)")
	listCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Redraw when the registry changes")

	return listCmd
}

func validateFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown format %q, use text, json or yaml", format)
	}
}

// renderRecords writes records to w. now anchors the relative ages in the
// text format.
func renderRecords(w io.Writer, records []registry.Record, format string, now time.Time) error {
	if records == nil {
		records = []registry.Record{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(records)
	case "text":
		if len(records) == 0 {
			_, err := fmt.Fprintln(w, "No forwards.")
			return err
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLOCAL\tREMOTE\tPID\tSTATUS\tCREATED")
		for _, rec := range records {
			local := strconv.Itoa(rec.LocalPort)
			if rec.Remapped() {
				local += fmt.Sprintf(" (wanted %d)", rec.RequestedPort)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s:%d\t%d\t%s\t%s\n",
				rec.ID, local, rec.Host, rec.RemotePort, rec.PID, rec.Status,
				humanize.RelTime(rec.CreatedAt, now, "ago", "from now"))
		}
		return tw.Flush()
	default:
		return validateFormat(format)
	}
}

// watchRegistry calls onChange after the registry file at path is replaced,
// debounced by delay, until ctx is done. The directory is watched because
// saves rename a temp file over path.
func watchRegistry(ctx context.Context, path string, delay time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create registry watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			slog.Debug("Registry changed", "event", event.Op.String())

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Registry watcher error", "error", err)
		}
	}
}
