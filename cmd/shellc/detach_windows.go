//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detachDaemon starts shelld in its own process group so CTRL_BREAK_EVENT
// or the shellc console closing doesn't also terminate the daemon.
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
