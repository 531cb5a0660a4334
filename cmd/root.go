package cmd

import (
	"github.com/spf13/cobra"
	"go.olrik.dev/pfm/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "pfm",
		Short: "pfm - SSH port forward manager",
		Long: `pfm starts ssh local port forwards in the background and keeps track of them.

Forwards survive the pfm invocation that started them. Their state is kept in
a registry file that every pfm invocation locks, reads and rewrites.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return core.InitializeConfig(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", core.DefaultConfigPath(), "config path")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewListCommand(),
		NewStopCommand(),
		NewPruneCommand(),
		NewHistoryCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
