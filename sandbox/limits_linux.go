//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyResourceLimits installs kernel ceilings on the calling process.
// Ordering matters only in that everything must happen before submitted
// code is evaluated; the worker calls this first thing after decoding its
// request.
func applyResourceLimits(limits ResourceLimits) error {
	// No new privileges for this process or anything it could spawn, and no
	// ptrace attachment or core dumps that could leak state.
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_DUMPABLE): %w", err)
	}

	cpu := uint64(limits.CPUSeconds)
	rlimits := []struct {
		resource int
		name     string
		limit    unix.Rlimit
	}{
		// Soft limit raises SIGXCPU, hard limit one second later kills.
		{unix.RLIMIT_CPU, "RLIMIT_CPU", unix.Rlimit{Cur: cpu, Max: cpu + 1}},
		{unix.RLIMIT_AS, "RLIMIT_AS", unix.Rlimit{Cur: uint64(limits.MemoryBytes), Max: uint64(limits.MemoryBytes)}},
		{unix.RLIMIT_NPROC, "RLIMIT_NPROC", unix.Rlimit{Cur: uint64(limits.MaxProcesses), Max: uint64(limits.MaxProcesses)}},
		// No byte may ever be written to a file.
		{unix.RLIMIT_FSIZE, "RLIMIT_FSIZE", unix.Rlimit{Cur: 0, Max: 0}},
		{unix.RLIMIT_CORE, "RLIMIT_CORE", unix.Rlimit{Cur: 0, Max: 0}},
	}

	for _, rl := range rlimits {
		limit := rl.limit
		if err := unix.Setrlimit(rl.resource, &limit); err != nil {
			return fmt.Errorf("setrlimit(%s): %w", rl.name, err)
		}
	}
	return nil
}
