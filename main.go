package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.olrik.dev/pfm/cmd"
)

func main() {
	// With no command, show the forwards
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "list"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cmd.ExitCode(err))
	}
}
