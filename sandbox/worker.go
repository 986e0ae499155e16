package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dkoval/scriptbox/config"
)

// WorkerEnvKey marks a process as a sandbox worker. The coordinator spawns
// the server binary again with this variable set and nothing else inherited.
const WorkerEnvKey = "_SCRIPTBOX_WORKER"

// maxWorkerRequestBytes bounds the stdin read. The coordinator already
// rejects oversized code before spawning; this is the worker's own belt.
const maxWorkerRequestBytes = 16 << 20

// WorkerRequest is the envelope the coordinator writes to a worker's stdin.
// The sandbox section travels read-only; the shared secret never does (its
// field is excluded from serialization).
type WorkerRequest struct {
	Request ExecutionRequest     `json:"request"`
	Sandbox config.SandboxConfig `json:"sandbox"`
}

// MaybeWorkerInit checks whether this process was spawned as a sandbox
// worker. Call it at the very beginning of main, before any other
// initialization:
//
//	func main() {
//	    if sandbox.MaybeWorkerInit() {
//	        return
//	    }
//	    // ... rest of main
//	}
//
// In worker mode it runs one execution to completion and exits; it only
// returns false in the ordinary server process.
func MaybeWorkerInit() bool {
	if os.Getenv(WorkerEnvKey) == "" {
		return false
	}
	os.Exit(runWorker(os.Stdin, os.Stdout))
	return true // unreachable, but satisfies the compiler
}

// runWorker executes exactly one request: decode, lock the process down,
// run, report. A nonzero exit means the worker could not even produce a
// structured result; in-script failures still exit zero with the failure
// encoded in the result.
func runWorker(in io.Reader, out io.Writer) int {
	var wreq WorkerRequest
	if err := json.NewDecoder(io.LimitReader(in, maxWorkerRequestBytes)).Decode(&wreq); err != nil {
		fmt.Fprintf(os.Stderr, "worker: decode request: %v\n", err)
		return 1
	}

	// Kernel limits go on first. Nothing caller-supplied is evaluated by an
	// unconstrained process.
	limits := ResourceLimits{
		CPUSeconds:   wreq.Sandbox.MaxCPUSeconds,
		MemoryBytes:  wreq.Sandbox.MaxMemoryBytes,
		MaxProcesses: wreq.Sandbox.MaxProcesses,
	}
	if err := ApplyResourceLimits(limits); err != nil {
		fmt.Fprintf(os.Stderr, "worker: resource limits: %v\n", err)
		return 1
	}

	engine, err := NewEngine(&wreq.Sandbox)
	if err != nil {
		// A missing guard lands here: the worker refuses to run the script.
		fmt.Fprintf(os.Stderr, "worker: engine init: %v\n", err)
		return 1
	}

	result := engine.Run(wreq.Request)

	if err := json.NewEncoder(out).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "worker: encode result: %v\n", err)
		return 1
	}
	return 0
}
