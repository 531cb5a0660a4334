package cmd

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/pfm/internal/core"
	"go.olrik.dev/pfm/internal/manager"
	"go.olrik.dev/pfm/internal/ports"
)

func NewStartCommand() *cobra.Command {
	var (
		localPort int
		identity  string
		options   []string
	)

	startCmd := &cobra.Command{
		Use:   "start <host> <port>|<local:remote>",
		Short: "Start forwarding a local port to a port on a remote host",
		Long: `Start an ssh local forward to <host> in the background.

The port is either a single port, forwarded to the same port locally, or
local:remote. If the local port is taken the next free port above it is used
and reported.

Examples:
  pfm start db.example.com 5432
  pfm start web 8080:80
  pfm start web 80 --local 8080 -o ProxyJump=bastion`,
		Aliases:           []string{"add"},
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: startCompletionFunc,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, remote, err := parsePortSpec(args[1])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("local") {
				local = localPort
			}

			if identity == "" {
				identity = core.Config.SSH.Identity
			}

			a := openApp()
			defer a.Close()

			rec, err := a.manager.Start(cmd.Context(), manager.StartRequest{
				Host:          args[0],
				RemotePort:    remote,
				RequestedPort: local,
				Identity:      identity,
				Options:       append(slices.Clone(core.Config.SSH.Options), options...),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rec.Remapped() {
				fmt.Fprintf(out, "Port %d is in use, using %d instead\n", rec.RequestedPort, rec.LocalPort)
			}
			fmt.Fprintf(out, "Started forward %d: %s (pid %d)\n", rec.ID, rec, rec.PID)
			return nil
		},
	}
	startCmd.Flags().IntVarP(&localPort, "local", "l", 0, "local port to request, overrides the local part of the port argument")
	startCmd.Flags().StringVarP(&identity, "identity", "i", "", "identity file passed to ssh -i")
	startCmd.Flags().StringArrayVarP(&options, "option", "o", nil, "extra ssh -o option, may be repeated")

	return startCmd
}

// parsePortSpec parses "port" or "local:remote". A single port is used for
// both sides.
func parsePortSpec(spec string) (local, remote int, err error) {
	localPart, remotePart, found := strings.Cut(spec, ":")
	if !found {
		remotePart = localPart
	}

	local, err = parsePort(localPart)
	if err != nil {
		return 0, 0, err
	}
	remote, err = parsePort(remotePart)
	if err != nil {
		return 0, 0, err
	}
	return local, remote, nil
}

func parsePort(s string) (int, error) {
	if s == "" {
		return 0, errors.New("port must not be empty")
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ports.ErrInvalidPort, s)
	}
	if !ports.ValidPort(port) {
		return 0, fmt.Errorf("%w: %d is outside %d-%d", ports.ErrInvalidPort, port, ports.MinPort, ports.MaxPort)
	}
	return port, nil
}

func startCompletionFunc(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return sshHostCompletionFunc(cmd, args, toComplete)
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
