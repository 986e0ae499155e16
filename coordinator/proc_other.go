//go:build !unix

package coordinator

import "os/exec"

// Workers refuse to start on platforms without resource limits, so these
// fallbacks only cover best-effort cleanup of a process that never ran code.

func setWorkerProcAttr(*exec.Cmd) {}

func terminateWorker(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killWorkerGroup(cmd *exec.Cmd) {
	terminateWorker(cmd)
}

func exitSignal(error) (string, bool) { return "", false }

func isResourceSignal(string) bool { return false }
