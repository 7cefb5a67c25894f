// Package rtstats is the process-wide statistics registry.
//
// Mirrors libfibre's Stats.h registry: a flat set of lock-free counters,
// reset on FibreStatsSignal (default SIGUSR1) and optionally dumped on
// process exit via FibrePrintStats.
package rtstats

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/atomic"
)

// Stats holds the runtime-wide counters. All fields are safe for
// concurrent use from any worker or poller goroutine.
type Stats struct {
	TasksCreated     atomic.Uint64
	TasksCompleted   atomic.Uint64
	StealAttempts    atomic.Uint64
	StealSuccesses   atomic.Uint64
	TimersFired      atomic.Uint64
	TimersCancelled  atomic.Uint64
	SemaphoreFastP   atomic.Uint64
	SemaphoreSlowP   atomic.Uint64
	IOWouldBlock     atomic.Uint64
	IOReady          atomic.Uint64
	WorkersParked    atomic.Uint64
	WorkersWoken     atomic.Uint64
}

var (
	once    sync.Once
	global  = &Stats{}
	resetMu sync.Mutex
)

// Global returns the process-wide statistics registry.
func Global() *Stats { return global }

// reset zeroes all counters. Called on the configured stats signal.
func (s *Stats) reset() {
	resetMu.Lock()
	defer resetMu.Unlock()
	s.TasksCreated.Store(0)
	s.TasksCompleted.Store(0)
	s.StealAttempts.Store(0)
	s.StealSuccesses.Store(0)
	s.TimersFired.Store(0)
	s.TimersCancelled.Store(0)
	s.SemaphoreFastP.Store(0)
	s.SemaphoreSlowP.Store(0)
	s.IOWouldBlock.Store(0)
	s.IOReady.Store(0)
	s.WorkersParked.Store(0)
	s.WorkersWoken.Store(0)
}

// WatchSignal installs a handler that zeroes the registry whenever sig is
// delivered, matching FibreStatsSignal's semantics (default SIGUSR1).
func WatchSignal(sig syscall.Signal) {
	once.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, sig)
		go func() {
			for range ch {
				global.reset()
			}
		}()
	})
}

// Dump formats the counters, used by FibrePrintStats on exit.
// When totals is true, a "total_events" field is appended matching the
// leading 't'/'T' flag semantics of FibrePrintStats.
func (s *Stats) Dump(totals bool) string {
	out := fmt.Sprintf(
		"fibre stats: tasks=%d/%d steals=%d/%d timers=%d/%d sem_fast=%d sem_slow=%d io_block=%d/%d parked=%d woken=%d",
		s.TasksCreated.Load(), s.TasksCompleted.Load(),
		s.StealSuccesses.Load(), s.StealAttempts.Load(),
		s.TimersFired.Load(), s.TimersCancelled.Load(),
		s.SemaphoreFastP.Load(), s.SemaphoreSlowP.Load(),
		s.IOWouldBlock.Load(), s.IOReady.Load(),
		s.WorkersParked.Load(), s.WorkersWoken.Load(),
	)
	if totals {
		total := s.TasksCreated.Load() + s.StealAttempts.Load() + s.TimersFired.Load()
		out += fmt.Sprintf(" total_events=%d", total)
	}
	return out
}
