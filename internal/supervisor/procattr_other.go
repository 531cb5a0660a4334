//go:build !unix

package supervisor

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
