package ports

import (
	"log/slog"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// listConnections is swapped out in tests
var listConnections = psnet.Connections

// Owner returns the pid of the process listening on the given local TCP
// port. It is used for diagnostics only; ok is false when the owner cannot
// be determined, e.g. for processes of other users.
func Owner(port int) (pid int, ok bool) {
	conns, err := listConnections("tcp")
	if err != nil {
		slog.Debug("Failed to list TCP connections", "error", err)
		return 0, false
	}

	for _, conn := range conns {
		if conn.Status != "LISTEN" || int(conn.Laddr.Port) != port {
			continue
		}
		if conn.Pid > 0 {
			return int(conn.Pid), true
		}
	}
	return 0, false
}
