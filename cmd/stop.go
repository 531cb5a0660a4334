package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewStopCommand() *cobra.Command {
	var all bool

	stopCmd := &cobra.Command{
		Use:   "stop <id>... | --all",
		Short: "Stop forwards and remove them from the registry",
		Long: `Stop one or more forwards by id, or every forward with --all.

The ssh process is sent SIGTERM, and SIGKILL if it does not exit in time. A
forward whose process could not be stopped stays in the registry so the stop
can be retried.`,
		Aliases: []string{"rm", "delete"},
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("--all does not take forward ids")
			}
			if !all && len(args) == 0 {
				return errors.New("requires at least one forward id, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			a := openApp()
			defer a.Close()
			out := cmd.OutOrStdout()

			if all {
				removed, err := a.manager.StopAll(cmd.Context())
				for _, rec := range removed {
					fmt.Fprintf(out, "Stopped forward %d: %s\n", rec.ID, rec)
				}
				if err == nil && len(removed) == 0 {
					fmt.Fprintln(out, "No forwards to stop.")
				}
				return err
			}

			var errs []error
			for _, id := range ids {
				rec, err := a.manager.Stop(cmd.Context(), id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "Stopped forward %d: %s\n", rec.ID, rec)
			}
			return errors.Join(errs...)
		},
	}
	stopCmd.Flags().BoolVarP(&all, "all", "a", false, "Stop every forward")

	return stopCmd
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid forward id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
