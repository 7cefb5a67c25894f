//go:build linux

package worker

import "golang.org/x/sys/unix"

// BindCPU pins the calling OS thread to cpu (sched_setaffinity targets
// the calling thread). Worker.Run calls it from its own goroutine after
// runtime.LockOSThread, so the pin applies to the thread running that
// worker's loop.
func BindCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
