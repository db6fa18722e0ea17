//go:build linux

package sampler

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pinToCPU attempts to restrict the calling OS thread to a single CPU, so
// the sampler's cadence isn't disturbed by the scheduler migrating it
// mid-run. Must be called from the goroutine that will run the sample
// loop, after runtime.LockOSThread.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sampler: SchedSetaffinity: %w", err)
	}
	return nil
}

// raisePriority requests SCHED_RR at a low real-time priority for the
// calling thread. Typically requires CAP_SYS_NICE; callers must treat
// failure as non-fatal (spec.md §9: "degrade gracefully if the runtime
// cannot set [affinity/priority]").
func raisePriority(priority int) error {
	param := &unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_RR, param); err != nil {
		return fmt.Errorf("sampler: SchedSetscheduler: %w", err)
	}
	return nil
}
