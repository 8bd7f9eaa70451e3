//go:build !windows

package spawner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child a session/process-group leader (Unix:
// setsid), so the whole tree can be signaled via kill(-pgid, ...) (§4.4 a).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func processGroupID(pid int) (int, error) {
	return syscall.Getpgid(pid)
}

// signalGroupGraceful sends SIGTERM to the whole process group (§4.4
// terminate(job), graceful phase).
func signalGroupGraceful(pgid int) {
	if pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGTERM)
	}
}

// killGroupForce sends SIGKILL to the whole process group (§4.4 terminate(job),
// forced phase after T_grace).
func killGroupForce(pgid int) {
	if pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

// exitStatusFromExitError extracts the numeric exit code, or a negative
// value for signal-terminated children.
func exitStatusFromExitError(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -int(status.Signal())
		}
		return status.ExitStatus()
	}
	return -1
}
