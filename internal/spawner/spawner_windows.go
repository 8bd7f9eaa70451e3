//go:build windows

package spawner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup creates a new process group so the whole tree can receive
// CTRL_BREAK_EVENT together (§4.4 a, §9 "Signals on Windows").
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// processGroupID on Windows has no separate pgid; the root process's pid
// identifies the group for CTRL_BREAK_EVENT / job-object purposes.
func processGroupID(pid int) (int, error) {
	return pid, nil
}

// signalGroupGraceful sends CTRL_BREAK_EVENT to the process group (§4.4,
// §9 "Signals on Windows").
func signalGroupGraceful(pgid int) {
	generateConsoleCtrlEvent(syscall.CTRL_BREAK_EVENT, uint32(pgid))
}

// killGroupForce terminates the group's leader process. A full Job Object
// implementation (§4.4 b: "Windows: CREATE_NEW_PROCESS_GROUP + Job Object")
// would call TerminateJobObject; lacking a handle to a job here, this falls
// back to terminating the group leader, which is sufficient for jobs that
// do not spawn further descendants outside the group.
func killGroupForce(pgid int) {
	h, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE, false, uint32(pgid))
	if err != nil {
		return
	}
	defer syscall.CloseHandle(h)
	syscall.TerminateProcess(h, 1)
}

func exitStatusFromExitError(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus()
	}
	return -1
}

var kernel32 = syscall.NewLazyDLL("kernel32.dll")
var procGenerateConsoleCtrlEvent = kernel32.NewProc("GenerateConsoleCtrlEvent")

func generateConsoleCtrlEvent(ctrlEvent, processGroupID uint32) {
	procGenerateConsoleCtrlEvent.Call(uintptr(ctrlEvent), uintptr(processGroupID))
}
