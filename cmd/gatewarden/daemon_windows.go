//go:build windows

package main

import "syscall"

const detachedProcess = 0x00000008

// detachAttrs starts the child without a console, in its own process group
// so Ctrl+C in the parent console does not reach it.
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
}
