// Package sshserver runs an in-process SSH server that accepts public key
// logins and serves direct-tcpip channels, which is all `ssh -N -L` needs.
//
// The server writes an ssh_config and a client key so the system ssh binary
// can be pointed at it with `ssh -F <config> <alias>`.
package sshserver

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Server is a running test SSH server. It is stopped by t.Cleanup.
type Server struct {
	t     testing.TB
	user  string
	alias string

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	clientKey  ssh.Signer
	keyPath    string
	configPath string

	forwards atomic.Int64
}

// Start listens on a random loopback port and accepts the generated client
// key for user.
func Start(t testing.TB, user string) *Server {
	t.Helper()

	dir := t.TempDir()
	clientPriv, clientKey := newKey(t)
	s := &Server{
		t:         t,
		user:      user,
		done:      make(chan struct{}),
		clientKey: clientKey,
		keyPath:   writePrivateKey(t, dir, clientPriv),
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() != s.user {
				return nil, fmt.Errorf("unknown user %q", conn.User())
			}
			if !bytes.Equal(key.Marshal(), s.clientKey.PublicKey().Marshal()) {
				return nil, fmt.Errorf("unknown public key for %q", conn.User())
			}
			return nil, nil
		},
	}
	_, hostKey := newKey(t)
	config.AddHostKey(hostKey)

	var err error
	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sshserver: failed to listen: %v", err)
	}
	s.alias = "pfm-test-" + strconv.Itoa(s.Port())
	s.configPath = filepath.Join(dir, "ssh_config")
	s.writeConfig()

	s.wg.Add(1)
	go s.serve(config)

	t.Cleanup(s.Stop)
	return s
}

// Stop closes the listener and all open connections.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.listener.Close()
		s.wg.Wait()
	})
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Alias is the Host entry in ConfigPath.
func (s *Server) Alias() string {
	return s.alias
}

func (s *Server) ConfigPath() string {
	return s.configPath
}

func (s *Server) KeyPath() string {
	return s.keyPath
}

// ClientConfig returns a Go client configuration that authenticates with the
// generated key.
func (s *Server) ClientConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            s.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.clientKey)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

// Forwards is the number of direct-tcpip channels accepted so far.
func (s *Server) Forwards() int {
	return int(s.forwards.Load())
}

func (s *Server) serve(config *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.t.Logf("sshserver: accept failed: %v", err)
			}
			return
		}

		s.wg.Add(1)
		go s.handleConn(conn, config)
	}
}

func (s *Server) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		s.t.Logf("sshserver: handshake failed: %v", err)
		return
	}
	defer sshConn.Close()

	// keepalive@openssh.com and friends; a false reply is fine for ssh
	go ssh.DiscardRequests(reqs)

	go func() {
		<-s.done
		sshConn.Close()
	}()

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			s.wg.Add(1)
			go s.handleSession(newChan)
		case "direct-tcpip":
			s.wg.Add(1)
			go s.handleForward(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// handleSession accepts the session ssh opens without -N and idles until
// shutdown.
func (s *Server) handleSession(newChan ssh.NewChannel) {
	defer s.wg.Done()

	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(req.Type != "pty-req", nil)
			}
		}
	}()
	<-s.done
}

// forwardRequest is the RFC 4254 section 7.2 payload.
type forwardRequest struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

func (s *Server) handleForward(newChan ssh.NewChannel) {
	defer s.wg.Done()

	var req forwardRequest
	if err := ssh.Unmarshal(newChan.ExtraData(), &req); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "malformed direct-tcpip payload")
		return
	}

	target := net.JoinHostPort(req.DestHost, strconv.Itoa(int(req.DestPort)))
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer upstream.Close()

	ch, chReqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(chReqs)
	s.forwards.Add(1)

	copied := make(chan struct{}, 2)
	go func() {
		io.Copy(ch, upstream)
		ch.CloseWrite()
		copied <- struct{}{}
	}()
	go func() {
		io.Copy(upstream, ch)
		if tcp, ok := upstream.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		copied <- struct{}{}
	}()

	for range 2 {
		select {
		case <-copied:
		case <-s.done:
			return
		}
	}
}

func (s *Server) writeConfig() {
	config := fmt.Sprintf(`Host %s
    HostName 127.0.0.1
    Port %d
    User %s
    IdentityFile %s
    IdentitiesOnly yes
    BatchMode yes
    StrictHostKeyChecking no
    UserKnownHostsFile /dev/null
    LogLevel ERROR
`, s.alias, s.Port(), s.user, s.keyPath)

	if err := os.WriteFile(s.configPath, []byte(config), 0600); err != nil {
		s.t.Fatalf("sshserver: failed to write ssh config: %v", err)
	}
}

func newKey(t testing.TB) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("sshserver: failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("sshserver: failed to create signer: %v", err)
	}
	return priv, signer
}

// writePrivateKey stores key in OpenSSH format. ssh refuses keys readable by
// others, hence 0600.
func writePrivateKey(t testing.TB, dir string, key ed25519.PrivateKey) string {
	t.Helper()

	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatalf("sshserver: failed to marshal client key: %v", err)
	}

	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("sshserver: failed to write client key: %v", err)
	}
	return path
}
