//go:build unix

package coordinator

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// resourceSignals are the signals the kernel delivers when a worker trips
// one of its own resource limits: CPU ceiling, file-size ceiling, or the
// hard kill that follows an exhausted address space.
var resourceSignals = map[string]bool{
	unix.SIGXCPU.String(): true,
	unix.SIGXFSZ.String(): true,
	unix.SIGKILL.String(): true,
	unix.SIGSEGV.String(): true,
	unix.SIGBUS.String():  true,
}

// setWorkerProcAttr places the worker in its own process group so a kill
// reaches anything it managed to spawn before RLIMIT_NPROC bit.
func setWorkerProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateWorker(cmd *exec.Cmd) {
	signalWorkerGroup(cmd, unix.SIGTERM)
}

func killWorkerGroup(cmd *exec.Cmd) {
	signalWorkerGroup(cmd, unix.SIGKILL)
}

func signalWorkerGroup(cmd *exec.Cmd, sig unix.Signal) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the whole group; fall back to the single
	// process if the group is already gone.
	if err := unix.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// exitSignal reports the terminating signal of an exited worker, if it was
// killed by one.
func exitSignal(waitErr error) (string, bool) {
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return "", false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return "", false
	}
	return status.Signal().String(), true
}

func isResourceSignal(sig string) bool {
	return resourceSignals[sig]
}
