// Package fibre is the bootstrap and external I/O-wrapper surface from
// spec.md §6: FibreInit creates the default event scope with its main and
// disk clusters (no main task is created); the I/O wrapper methods give
// application code the
// "looks like a blocking syscall, only suspends the calling task"
// contract over iodispatch.
package fibre

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-foundations/fibre/cluster"
	"github.com/go-foundations/fibre/config"
	"github.com/go-foundations/fibre/internal/rtlog"
	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/iodispatch"
	"github.com/go-foundations/fibre/scope"
	"github.com/go-foundations/fibre/task"
)

// Runtime is the handle FibreInit returns: the event scope plus whatever
// config drove its construction.
type Runtime struct {
	Scope *scope.Scope
	Env   *config.Env
}

// FibreInit creates the default event scope, main cluster, and returns a
// handle. pollerCount/workerCount override the environment's
// FibrePollerCount/FibreWorkerCount when positive.
func FibreInit(pollerCount, workerCount int) (*Runtime, error) {
	env, err := config.Load()
	if err != nil {
		return nil, err
	}
	rtlog.Init(nil, env.DebugString)
	if enabled, _ := env.PrintStatsEnabled(); enabled {
		rtstats.WatchSignal(syscall.Signal(env.StatsSignal))
	}

	if pollerCount <= 0 {
		pollerCount = env.PollerCount
	}
	if workerCount <= 0 {
		workerCount = env.WorkerCount
	}

	cpus := config.Expand(config.ParseCPUList(env.CpuSet))
	opts := cluster.DefaultOptions(workerCount)
	if len(cpus) > 0 {
		opts.NumWorkers = len(cpus)
		opts.PinCPUs = cpus
	}

	sc, err := scope.New(pollerCount, workerCount, env.DiskWorkerCount, opts)
	if err != nil {
		return nil, err
	}
	return &Runtime{Scope: sc, Env: env}, nil
}

// Spawn creates and starts a new task on the runtime's main cluster.
func (r *Runtime) Spawn(name string, body func(cf *task.Task)) *task.Task {
	return r.Scope.Main.Spawn(name, false, task.Default, body)
}

// Sleep suspends cf until d has elapsed, per spec.md §5's "sleep"
// suspension point, registering the deadline on the runtime's real,
// armed scope timer queue (scope.Scope.Timers) rather than the inert
// process-wide default.
func (r *Runtime) Sleep(cf *task.Task, d time.Duration) {
	cf.PrepareResumeRace()
	r.Scope.Timers.BlockTimeout(cf, time.Now().Add(d))
}

// PrintStats writes the stats registry dump to w if FibrePrintStats
// requested it, per spec.md §6. Intended to be called once at shutdown.
func (r *Runtime) PrintStats(w io.Writer) {
	enabled, totals := r.Env.PrintStatsEnabled()
	if !enabled {
		return
	}
	fmt.Fprintln(w, rtstats.Global().Dump(totals))
}

// FibreFork wraps fork() around preFork/postFork. Go cannot literally
// fork() a multi-threaded process and keep running Go code in the child
// (every goroutine but the caller's vanishes, and the runtime's internal
// state is undefined post-fork), so this re-execs the current binary,
// which re-enters FibreInit in the child with a freshly reinitialized
// scope/cluster/stats — preserving the *contract* of spec.md §5 "Fork"
// (child gets a fully functional runtime, parent is untouched) without
// the impossible literal semantics. See DESIGN.md Open Question 1.
func FibreFork(r *Runtime, reexecArgv []string, env []string) (pid int, err error) {
	r.Scope.Main.PauseAll(mainPauseToken(r))
	defer r.Scope.Main.ResumeAll()

	if len(reexecArgv) == 0 {
		return 0, errors.New("fibre: FibreFork requires a re-exec argv[0]")
	}
	return unix.ForkExec(reexecArgv[0], reexecArgv, &unix.ProcAttr{Env: env})
}

// mainPauseToken is a placeholder identity task used only to anchor the
// Pause/Resume race-protocol calls made directly from FibreFork, which
// runs outside of any application task's body.
func mainPauseToken(r *Runtime) *task.Task {
	return task.New("fork-pause", discardHandle{}, nil)
}

// discardHandle is the pause token's handle. No worker schedules the
// token, so Enqueue stands in for a worker's dequeue-and-run step: it
// collects the yield the token's Suspend posted and grants it the turn.
type discardHandle struct{}

func (discardHandle) Enqueue(t *task.Task) {
	t.WaitYield()
	t.GrantTurn()
}
func (discardHandle) ID() int { return -1 }

var (
	// ErrWouldBlock names the would-block condition. The I/O wrappers do
	// not return it: on an explicitly non-blocking FD they return the OS's
	// EAGAIN unchanged.
	ErrWouldBlock = errors.New("fibre: operation would block")
)

// registerFD records blocking/useUring at FD birth, per spec.md's
// per-FD persisted-state contract. Every wrapper that creates a pollable
// FD (socket, pipe, accept4) calls this with useUring left false; Open
// calls FDTable.Register directly with useUring true instead, since a
// regular file is never pollable.
func (r *Runtime) registerFD(fd int, blocking bool) {
	r.Scope.FDTable.Register(fd, blocking, false)
}

// Open wraps open(2) for regular files. Unlike sockets and pipes, a
// regular file is never pollable (no EAGAIN/readiness notion applies to
// it), so its FD is always flagged useUring: ioLoop routes application-
// blocking operations on it through directIO's disk-cluster migration
// instead of the readiness-polling retry loop.
func (r *Runtime) Open(path string, flags int, mode uint32) (int, error) {
	fd, err := unix.Open(path, flags, mode)
	if err != nil {
		return -1, err
	}
	r.Scope.FDTable.Register(fd, true, true)
	return fd, nil
}

// Socket wraps socket(2), registering the returned FD's blocking mode.
func (r *Runtime) Socket(domain, typ, proto int) (int, error) {
	blocking := typ&unix.SOCK_NONBLOCK == 0
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, proto)
	if err != nil {
		return -1, err
	}
	r.registerFD(fd, blocking)
	return fd, nil
}

// Bind wraps bind(2); never suspends (spec.md's suspension-points list
// excludes bind/listen from blocking operations in the common case).
func (r *Runtime) Bind(fd int, sa unix.Sockaddr) error { return unix.Bind(fd, sa) }

// Listen wraps listen(2).
func (r *Runtime) Listen(fd, backlog int) error { return unix.Listen(fd, backlog) }

// Dup wraps dup(2), inheriting the source FD's blocking/useUring flags.
func (r *Runtime) Dup(fd int) (int, error) {
	newFD, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	blocking, useUring, _ := r.Scope.FDTable.Flags(fd)
	r.Scope.FDTable.Inherit(fd, newFD, blocking, useUring)
	return newFD, nil
}

// Pipe wraps pipe2(2).
func (r *Runtime) Pipe(flags int) (rfd, wfd int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], flags|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	blocking := flags&unix.O_NONBLOCK == 0
	r.registerFD(fds[0], blocking)
	r.registerFD(fds[1], blocking)
	return fds[0], fds[1], nil
}

// Close wraps close(2) and clears the FD's sync slot.
func (r *Runtime) Close(fd int) error {
	r.Scope.FDTable.Close(fd)
	return unix.Close(fd)
}

// Fcntl wraps fcntl(2), updating the persisted blocking flag when cmd
// sets O_NONBLOCK.
func (r *Runtime) Fcntl(fd int, cmd int, arg int) (int, error) {
	ret, err := unix.FcntlInt(uintptr(fd), cmd, arg)
	if err != nil {
		return ret, err
	}
	if cmd == unix.F_SETFL {
		blocking, useUring, _ := r.Scope.FDTable.Flags(fd)
		r.Scope.FDTable.Register(fd, arg&unix.O_NONBLOCK == 0 && blocking, useUring)
	}
	return ret, nil
}

// Accept4 wraps accept4(2) with the standard suspend-on-EAGAIN wrapper
// protocol: non-blocking attempt first, and on EAGAIN register for Input
// readiness and retry once woken.
func (r *Runtime) Accept4(cf *task.Task, fd int, flags int) (int, error) {
	newFD, err := r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return unix.Accept4(fd, flags|unix.SOCK_NONBLOCK)
	})
	if err != nil {
		return -1, err
	}
	r.registerFD(newFD, flags&unix.SOCK_NONBLOCK == 0)
	return newFD, nil
}

// Accept is Accept4 with flags=0.
func (r *Runtime) Accept(cf *task.Task, fd int) (int, error) {
	return r.Accept4(cf, fd, 0)
}

// Connect wraps connect(2), handling EINPROGRESS per spec.md §4.5 step 5:
// register for Output Oneshot, wait, read SO_ERROR, propagate.
func (r *Runtime) Connect(cf *task.Task, fd int, sa unix.Sockaddr) error {
	blocking, _, _ := r.Scope.FDTable.Flags(fd)
	err := unix.Connect(fd, sa)
	if err == nil || !blocking {
		return err
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return err
	}
	if regErr := r.registerIfNeeded(fd, iodispatch.Output, iodispatch.Oneshot); regErr != nil {
		return regErr
	}
	sem := r.Scope.FDTable.Semaphore(fd, iodispatch.Output)
	sem.P(cf)
	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Read wraps read(2) per the §4.5 wrapper protocol.
func (r *Runtime) Read(cf *task.Task, fd int, p []byte) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Pread wraps pread(2).
func (r *Runtime) Pread(cf *task.Task, fd int, p []byte, off int64) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return unix.Pread(fd, p, off)
	})
}

// Readv wraps readv(2).
func (r *Runtime) Readv(cf *task.Task, fd int, iovs [][]byte) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return readv(fd, iovs)
	})
}

// Preadv wraps preadv(2).
func (r *Runtime) Preadv(cf *task.Task, fd int, iovs [][]byte, off int64) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return preadv(fd, iovs, off)
	})
}

// Write wraps write(2).
func (r *Runtime) Write(cf *task.Task, fd int, p []byte) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Pwrite wraps pwrite(2).
func (r *Runtime) Pwrite(cf *task.Task, fd int, p []byte, off int64) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return unix.Pwrite(fd, p, off)
	})
}

// Writev wraps writev(2).
func (r *Runtime) Writev(cf *task.Task, fd int, iovs [][]byte) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return writev(fd, iovs)
	})
}

// Pwritev wraps pwritev(2).
func (r *Runtime) Pwritev(cf *task.Task, fd int, iovs [][]byte, off int64) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return pwritev(fd, iovs, off)
	})
}

// Send wraps send(2).
func (r *Runtime) Send(cf *task.Task, fd int, p []byte, flags int) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	})
}

// SendTo wraps sendto(2).
func (r *Runtime) SendTo(cf *task.Task, fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return len(p), unix.Sendto(fd, p, flags, to)
	})
}

// SendMsg wraps sendmsg(2).
func (r *Runtime) SendMsg(cf *task.Task, fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return unix.SendmsgN(fd, p, oob, to, flags)
	})
}

// Recv wraps recv(2).
func (r *Runtime) Recv(cf *task.Task, fd int, p []byte, flags int) (int, error) {
	return r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		return unix.Recvfrom(fd, p, flags)
	})
}

// RecvFrom wraps recvfrom(2).
func (r *Runtime) RecvFrom(cf *task.Task, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	var n int
	var from unix.Sockaddr
	_, err := r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		nn, sa, err := unix.Recvfrom(fd, p, flags)
		n, from = nn, sa
		return nn, err
	})
	return n, from, err
}

// RecvMsg wraps recvmsg(2).
func (r *Runtime) RecvMsg(cf *task.Task, fd int, p, oob []byte, flags int) (n, oobn int, err error) {
	_, err = r.ioLoop(cf, fd, iodispatch.Input, iodispatch.Level, func() (int, error) {
		nn, oobnn, _, _, rerr := unix.Recvmsg(fd, p, oob, flags)
		n, oobn = nn, oobnn
		return nn, rerr
	})
	return n, oobn, err
}

// Sendfile wraps sendfile(2). It runs through ioLoop keyed on outFD (the
// destination, typically a pollable socket), so EAGAIN on outFD suspends
// and retries like Write; inFD's flags are not consulted.
func (r *Runtime) Sendfile(cf *task.Task, outFD, inFD int, offset *int64, count int) (int, error) {
	return r.ioLoop(cf, outFD, iodispatch.Output, iodispatch.Oneshot, func() (int, error) {
		return unix.Sendfile(outFD, inFD, offset, count)
	})
}

// ioLoop implements spec.md §4.5's I/O wrapper protocol steps 1-4: try
// non-blocking, and on EAGAIN register for readiness (if not already
// registered), suspend on the per-FD semaphore, and retry, re-arming
// Oneshot registrations between attempts.
func (r *Runtime) ioLoop(cf *task.Task, fd int, dir iodispatch.Direction, variant iodispatch.Variant, attempt func() (int, error)) (int, error) {
	blocking, useUring, ok := r.Scope.FDTable.Flags(fd)
	if !ok || !blocking {
		return attempt() // non-blocking FD: behaves as a raw OS call
	}
	if useUring {
		return r.directIO(cf, attempt)
	}
	for {
		n, err := attempt()
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			return n, err
		}
		rtstats.Global().IOWouldBlock.Inc()
		if err := r.registerIfNeeded(fd, dir, variant); err != nil {
			return -1, err
		}
		sem := r.Scope.FDTable.Semaphore(fd, dir)
		if variant == iodispatch.Level {
			sem.PWait(cf)
		} else {
			sem.P(cf)
			if err := r.Scope.FDTable.Poller(fd, dir).SetupFD(fd, iodispatch.Modify, dir, variant); err != nil {
				return -1, err
			}
		}
	}
}

func (r *Runtime) registerIfNeeded(fd int, dir iodispatch.Direction, variant iodispatch.Variant) error {
	if r.Scope.FDTable.Poller(fd, dir) != nil {
		return nil
	}
	src := r.Scope.Pollers[0]
	if err := src.SetupFD(fd, iodispatch.Create, dir, variant); err != nil {
		return err
	}
	r.Scope.FDTable.SetPoller(fd, dir, src)
	return nil
}

// directIO is the non-pollable (e.g. disk) I/O path from spec.md §4.5
// step 6: migrate cf to the scope's dedicated disk cluster, run the
// syscall there, then migrate back to the main cluster before returning
// it to the caller. Running the syscall itself still just calls attempt
// inline rather than truly isolating it on its own OS thread — Go's
// os-thread pool already keeps one blocking syscall from starving ready
// goroutines elsewhere, unlike libfibre's single-worker-per-core model,
// where this migration is load-bearing for more than scheduling
// bookkeeping. See DESIGN.md's migrate entry.
func (r *Runtime) directIO(cf *task.Task, attempt func() (int, error)) (int, error) {
	r.Scope.Main.Migrate(cf, r.Scope.Disk)
	n, err := attempt()
	r.Scope.Disk.Migrate(cf, r.Scope.Main)
	return n, err
}

func readv(fd int, iovs [][]byte) (int, error) {
	total := 0
	for _, iov := range iovs {
		n, err := unix.Read(fd, iov)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(iov) {
			break
		}
	}
	return total, nil
}

func preadv(fd int, iovs [][]byte, off int64) (int, error) {
	total := 0
	for _, iov := range iovs {
		n, err := unix.Pread(fd, iov, off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n < len(iov) {
			break
		}
	}
	return total, nil
}

func writev(fd int, iovs [][]byte) (int, error) {
	total := 0
	for _, iov := range iovs {
		n, err := unix.Write(fd, iov)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func pwritev(fd int, iovs [][]byte, off int64) (int, error) {
	total := 0
	for _, iov := range iovs {
		n, err := unix.Pwrite(fd, iov, off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
