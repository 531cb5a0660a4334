package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "prune",
		Short:   "Remove forwards whose ssh process has exited",
		Aliases: []string{"cleanup"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := openApp()
			defer a.Close()

			pruned, err := a.manager.Prune(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rec := range pruned {
				fmt.Fprintf(out, "Removed dead forward %d: %s\n", rec.ID, rec)
			}
			fmt.Fprintf(out, "Removed %d dead forward(s).\n", len(pruned))
			return nil
		},
	}
}
