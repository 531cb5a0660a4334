//go:build unix

package supervisor

import "syscall"

// detachedProcAttr puts the child in a new session, detached from our
// terminal and process group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
