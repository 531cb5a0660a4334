package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SSHLauncher runs the system ssh client in local forward mode.
type SSHLauncher struct {
	Binary              string        // ssh executable, defaults to "ssh"
	ConfigFile          string        // Passed as -F when set
	ServerAliveInterval int           // 0 disables keepalives
	ServerAliveCountMax int           // Only used with ServerAliveInterval
	StartupGrace        time.Duration // A child exiting within this window counts as a failed launch
}

// Args builds the ssh command line for req, without the binary itself.
func (l *SSHLauncher) Args(req LaunchRequest) []string {
	bind := req.BindAddress
	if bind == "" {
		bind = "127.0.0.1"
	}

	args := []string{
		"-N",
		"-L", fmt.Sprintf("%s:%d:localhost:%d", bind, req.LocalPort, req.RemotePort),
		"-o", "ExitOnForwardFailure=yes",
	}

	if l.ConfigFile != "" {
		args = append(args, "-F", l.ConfigFile)
	}

	if l.ServerAliveInterval > 0 {
		args = append(args,
			"-o", fmt.Sprintf("ServerAliveInterval=%d", l.ServerAliveInterval),
			"-o", fmt.Sprintf("ServerAliveCountMax=%d", l.ServerAliveCountMax))
	}

	if req.Identity != "" {
		args = append(args, "-i", req.Identity)
	}

	for _, opt := range req.Options {
		args = append(args, "-o", opt)
	}

	// Host goes last so options cannot be mistaken for a remote command
	return append(args, req.Host)
}

// Launch starts ssh in its own session so it outlives this process. The
// child is reaped in the background. If it exits within StartupGrace the
// launch fails with its exit status.
func (l *SSHLauncher) Launch(ctx context.Context, req LaunchRequest) (int, error) {
	binary := l.Binary
	if binary == "" {
		binary = "ssh"
	}

	args := l.Args(req)
	// exec.Command rather than CommandContext: the child must not die with ctx
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = detachedProcAttr()

	slog.Debug("Starting ssh", "command", binary+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	if l.StartupGrace <= 0 {
		return pid, nil
	}

	timer := time.NewTimer(l.StartupGrace)
	defer timer.Stop()

	select {
	case err := <-exited:
		return 0, fmt.Errorf("ssh exited during startup: %s", describeExit(err))
	case <-ctx.Done():
		cmd.Process.Kill()
		return 0, ctx.Err()
	case <-timer.C:
		return pid, nil
	}
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return "exit status " + strconv.Itoa(code)
		}
	}
	return err.Error()
}
