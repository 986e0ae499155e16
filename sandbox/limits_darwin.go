//go:build darwin

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyResourceLimits installs the kernel ceilings available on macOS.
// RLIMIT_NPROC is per-user on Darwin and not reliably applicable to a single
// worker, so process-count abuse is left to the CPU and memory ceilings
// here; production deployments run on Linux.
func applyResourceLimits(limits ResourceLimits) error {
	cpu := uint64(limits.CPUSeconds)
	rlimits := []struct {
		resource int
		name     string
		limit    unix.Rlimit
	}{
		{unix.RLIMIT_CPU, "RLIMIT_CPU", unix.Rlimit{Cur: cpu, Max: cpu + 1}},
		{unix.RLIMIT_AS, "RLIMIT_AS", unix.Rlimit{Cur: uint64(limits.MemoryBytes), Max: uint64(limits.MemoryBytes)}},
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
