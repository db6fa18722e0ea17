//go:build !linux

package sampler

import "errors"

// pinToCPU and raisePriority are Linux-only capabilities (CPU affinity and
// SCHED_RR are POSIX scheduling features exposed via golang.org/x/sys/unix
// on Linux only in this module). On other platforms the sampler runs
// without them, per spec.md §9's graceful-degradation requirement.

var errUnsupported = errors.New("sampler: CPU pinning/priority not supported on this platform")

func pinToCPU(cpu int) error       { return errUnsupported }
func raisePriority(priority int) error { return errUnsupported }
