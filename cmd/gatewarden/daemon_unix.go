//go:build !windows

package main

import "syscall"

// detachAttrs starts the child in its own session so it outlives the
// terminal that launched it.
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
