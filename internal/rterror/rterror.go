// Package rterror implements the runtime's fatal-invariant-violation policy.
//
// libfibre aborts the process with a demangled backtrace when a queue
// invariant or bad state transition is detected; a hosted Go runtime cannot
// abort the whole process without taking down an embedding application's
// other work, so invariant violations panic instead, carrying the same
// diagnostic text libfibre would have printed.
package rterror

import "fmt"

// Invariant panics with a formatted invariant-violation message. Callers
// use this for conditions that indicate runtime-internal corruption
// (double resume, unowned unlock, corrupt queue) rather than recoverable
// application errors.
func Invariant(format string, args ...any) {
	panic(fmt.Sprintf("fibre: invariant violation: "+format, args...))
}

// Assert panics via Invariant if cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Invariant(format, args...)
	}
}
