//go:build !linux

package worker

// BindCPU is a no-op on platforms without sched_setaffinity.
func BindCPU(cpu int) error { return nil }
