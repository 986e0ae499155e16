package sandbox

// ResourceLimits are the kernel ceilings a worker applies to itself before
// evaluating any submitted code. They constrain the worker process, they are
// never negotiated with the code about to run.
type ResourceLimits struct {
	// CPUSeconds ceilings consumed CPU time; the kernel delivers SIGXCPU at
	// the soft limit and SIGKILL at the hard one.
	CPUSeconds int
	// MemoryBytes ceilings the address space.
	MemoryBytes int64
	// MaxProcesses ceilings processes/threads, blocking fork-bomb abuse.
	MaxProcesses int
}

// ApplyResourceLimits installs the limits on the current process, along with
// a zero writable-file-size limit (no byte can be written to the filesystem)
// and a zero core-dump limit. On platforms without an implementation it
// fails closed: the worker refuses to run rather than running unlimited.
func ApplyResourceLimits(limits ResourceLimits) error {
	return applyResourceLimits(limits)
}
