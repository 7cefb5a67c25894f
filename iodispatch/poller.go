package iodispatch

import (
	"sync"

	"github.com/go-foundations/fibre/internal/rtlog"
	"github.com/go-foundations/fibre/internal/rtstats"
	"github.com/go-foundations/fibre/task"
)

// ThreadedPoller is the first of the two required deployment patterns
// (spec.md §4.5): a dedicated goroutine in a tight blocking poll/dispatch
// loop. Used for the master poller and, optionally, per-cluster pollers.
type ThreadedPoller struct {
	src   ReadinessSource
	table *FDTable

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewThreadedPoller constructs a poller driving src and dispatching
// readiness onto table.
func NewThreadedPoller(src ReadinessSource, table *FDTable) *ThreadedPoller {
	return &ThreadedPoller{src: src, table: table, stop: make(chan struct{})}
}

// Start launches the poller's dedicated goroutine.
func (p *ThreadedPoller) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop requests the loop exit; it may take up to one blocking Poll call
// to actually return, unless the underlying source's Close unblocks it
// sooner (ChanSource.Close does; a real epoll fd relies on the caller
// also closing it out-of-band).
func (p *ThreadedPoller) Stop() {
	close(p.stop)
}

// Wait blocks until the poller goroutine has exited.
func (p *ThreadedPoller) Wait() { p.wg.Wait() }

func (p *ThreadedPoller) loop() {
	defer p.wg.Done()
	log := rtlog.For(rtlog.CategoryIO)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		events, err := p.src.Poll(true)
		if err != nil {
			log.Debugw("poll error", "err", err)
			continue
		}
		for _, ev := range events {
			rtstats.Global().IOReady.Inc()
			p.table.Dispatch(ev)
		}
	}
}

// FiberPoller is the second deployment pattern: a scheduler task that
// polls non-blocking, yields, and after enough consecutive empty polls
// escalates to a blocking wait on a sentinel FD, per spec.md §4.5 "Fiber
// poller". The sentinel registration is the caller's responsibility
// (typically a pipe or eventfd the source is told to watch); FiberPoller
// itself only drives the poll/yield/escalate state machine.
type FiberPoller struct {
	src   ReadinessSource
	table *FDTable

	// EmptyPollsBeforeBlock is the number of consecutive empty
	// non-blocking polls tolerated before switching to a blocking poll.
	EmptyPollsBeforeBlock int

	// Yield is called between non-blocking polls to give other ready
	// tasks a turn; it stands in for the scheduler's cooperative yield
	// primitive (Resume-self-and-Suspend), supplied by the caller so this
	// package does not need to import worker/cluster.
	Yield func(cf *task.Task)
}

// NewFiberPoller constructs a fiber poller with libfibre's conventional
// escalation threshold.
func NewFiberPoller(src ReadinessSource, table *FDTable, yield func(cf *task.Task)) *FiberPoller {
	return &FiberPoller{src: src, table: table, EmptyPollsBeforeBlock: 16, Yield: yield}
}

// Run drives the poll/yield/escalate loop until stop is closed. Intended
// to be the body of a dedicated polling task.
func (p *FiberPoller) Run(cf *task.Task, stop <-chan struct{}) {
	empty := 0
	for {
		select {
		case <-stop:
			return
		default:
		}
		events, err := p.src.Poll(false)
		if err != nil {
			continue
		}
		if len(events) == 0 {
			empty++
			if empty < p.EmptyPollsBeforeBlock {
				if p.Yield != nil {
					p.Yield(cf)
				}
				continue
			}
			// Escalate: block until the source reports something,
			// including on the sentinel FD an external wakeup targets.
			events, err = p.src.Poll(true)
			if err != nil {
				continue
			}
		}
		empty = 0
		for _, ev := range events {
			rtstats.Global().IOReady.Inc()
			p.table.Dispatch(ev)
		}
	}
}
