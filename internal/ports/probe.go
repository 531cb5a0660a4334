// Package ports decides which local port a new forward listens on.
package ports

import (
	"log/slog"
	"net"
	"strconv"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Probe reports whether a local TCP port can currently be bound.
type Probe interface {
	IsFree(port int) bool
}

// ValidPort reports whether port is a usable TCP port number.
func ValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// TCPProbe checks ports by binding a listener and closing it right away.
// The answer is only a snapshot: another process may take the port the
// moment after.
type TCPProbe struct {
	BindAddress string
}

// NewTCPProbe returns a probe binding on addr, or 127.0.0.1 when addr is empty.
func NewTCPProbe(addr string) *TCPProbe {
	if addr == "" {
		addr = "127.0.0.1"
	}
	return &TCPProbe{BindAddress: addr}
}

func (p *TCPProbe) IsFree(port int) bool {
	if !ValidPort(port) {
		return false
	}

	address := net.JoinHostPort(p.BindAddress, strconv.Itoa(port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		slog.Debug("Port is not bindable", "address", address, "error", err)
		return false
	}
	listener.Close()
	return true
}
