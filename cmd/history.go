package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.olrik.dev/pfm/internal/core"
	"go.olrik.dev/pfm/internal/db"
	"gopkg.in/yaml.v3"
)

func NewHistoryCommand() *cobra.Command {
	var (
		limit   int
		forward int
		format  string
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show forward lifecycle events",
		Long: `Show recorded forward lifecycle events, newest first.

With --forward the complete history of one forward is shown, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}

			history, err := db.Open(core.Config.HistoryPath())
			if err != nil {
				return err
			}
			defer history.Close()

			var events []db.ForwardEvent
			if forward > 0 {
				events, err = history.EventsForForward(forward)
			} else {
				events, err = history.RecentForwardEvents(limit)
			}
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			return renderEvents(cmd.OutOrStdout(), events, format, time.Now())
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	historyCmd.Flags().IntVar(&forward, "forward", 0, "Only show events for this forward id")
	historyCmd.Flags().StringVarP(&format, "format", "F", "text", "Format to use (text/json/yaml)")

	return historyCmd
}

func renderEvents(w io.Writer, events []db.ForwardEvent, format string, now time.Time) error {
	if events == nil {
		events = []db.ForwardEvent{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(events)
	default:
		if len(events) == 0 {
			_, err := fmt.Fprintln(w, "No events recorded.")
			return err
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tFORWARD\tEVENT\tLOCAL\tREMOTE\tDETAILS")
		for _, ev := range events {
			id := "-"
			if ev.ForwardID > 0 {
				id = fmt.Sprint(ev.ForwardID)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s:%d\t%s\n",
				humanize.RelTime(ev.Timestamp, now, "ago", "from now"),
				id, ev.EventType, ev.LocalPort, ev.Host, ev.RemotePort, ev.Details)
		}
		return tw.Flush()
	}
}
