//go:build linux

package iodispatch

import (
	"golang.org/x/sys/unix"
)

// EpollSource is the real readiness source on Linux, backed by an epoll
// instance. It satisfies ReadinessSource exactly like ChanSource, so
// pollers and the fibre I/O wrappers never need to know which backend
// they're driving.
type EpollSource struct {
	epfd int
}

// NewEpollSource creates a new epoll instance.
func NewEpollSource() (*EpollSource, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollSource{epfd: fd}, nil
}

func epollEvents(dir Direction, variant Variant) uint32 {
	var ev uint32
	if dir == Input {
		ev = unix.EPOLLIN
	} else {
		ev = unix.EPOLLOUT
	}
	switch variant {
	case Edge:
		ev |= unix.EPOLLET
	case Oneshot:
		ev |= unix.EPOLLONESHOT
	case Level, OnDemand:
		// default level-triggered behavior, no extra flag.
	}
	return ev
}

// SetupFD registers, re-arms (Modify), or removes fd's epoll interest.
func (e *EpollSource) SetupFD(fd int, op Op, dir Direction, variant Variant) error {
	event := unix.EpollEvent{Events: epollEvents(dir, variant), Fd: int32(fd)}
	switch op {
	case Create:
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &event)
	case Modify:
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &event)
	case Remove:
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	default:
		return nil
	}
}

// maxEpollEvents bounds how many events a single Poll call retrieves, per
// spec.md's "up to N events" wording.
const maxEpollEvents = 128

// Poll waits (or, if blocking is false, peeks) for ready FDs.
func (e *EpollSource) Poll(blocking bool) ([]Event, error) {
	timeout := 0
	if blocking {
		timeout = -1
	}
	raw := make([]unix.EpollEvent, maxEpollEvents)
	n, err := unix.EpollWait(e.epfd, raw, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n*2)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		mask := raw[i].Events
		if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			out = append(out, Event{FD: fd, Direction: Input})
		}
		if mask&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			out = append(out, Event{FD: fd, Direction: Output})
		}
	}
	return out, nil
}

// Close releases the epoll instance's file descriptor.
func (e *EpollSource) Close() error {
	return unix.Close(e.epfd)
}

// NewDefaultSource constructs the platform's real readiness source.
func NewDefaultSource() (ReadinessSource, error) {
	return NewEpollSource()
}
