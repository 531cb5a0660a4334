package supervisor

import (
	"bufio"
	"context"
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"go.olrik.dev/pfm/internal/testutil/sshserver"
)

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSSHLauncher_ForwardsTraffic(t *testing.T) {
	if _, err := exec.LookPath("ssh"); err != nil {
		t.Skip("ssh binary not available")
	}
	quietLogger(t)

	srv := sshserver.Start(t, "forwarder")

	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer upstream.Close()
	go func() {
		for {
			conn, err := upstream.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, _ := bufio.NewReader(conn).ReadString('\n')
				conn.Write([]byte("pong " + line))
			}()
		}
	}()

	localPort := freePort(t)
	sup := New(
		&SSHLauncher{ConfigFile: srv.ConfigPath(), StartupGrace: 500 * time.Millisecond},
		NewOSProcessTable(2*time.Second),
	)

	pid, err := sup.Launch(context.Background(), LaunchRequest{
		Host:       srv.Alias(),
		RemotePort: upstream.Addr().(*net.TCPAddr).Port,
		LocalPort:  localPort,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	t.Cleanup(func() { sup.Terminate(pid) })

	var conn net.Conn
	deadline := time.Now().Add(10 * time.Second)
	for {
		conn, err = net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(localPort), time.Second)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("forward never started listening on %d: %v", localPort, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply != "pong ping\n" {
		t.Errorf("expected %q, got %q", "pong ping\n", reply)
	}

	if err := sup.Terminate(pid); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if sup.IsAlive(pid) {
		t.Error("expected ssh to be gone after Terminate")
	}
}

func TestSSHLauncher_UnreachableHostFails(t *testing.T) {
	if _, err := exec.LookPath("ssh"); err != nil {
		t.Skip("ssh binary not available")
	}
	quietLogger(t)

	srv := sshserver.Start(t, "forwarder")
	srv.Stop()

	launcher := &SSHLauncher{ConfigFile: srv.ConfigPath(), StartupGrace: 3 * time.Second}
	_, err := New(launcher, NewOSProcessTable(time.Second)).Launch(context.Background(), LaunchRequest{
		Host: srv.Alias(), RemotePort: 80, LocalPort: freePort(t),
	})
	if err == nil {
		t.Fatal("expected launch against a stopped server to fail")
	}
}
