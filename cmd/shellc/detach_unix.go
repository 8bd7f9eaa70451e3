//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachDaemon puts the newly spawned shelld in its own session so it
// survives the shellc process exiting (§6 "auto-starts shelld ... detached
// from the CLI's controlling terminal").
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
