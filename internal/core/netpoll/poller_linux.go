//go:build linux

package netpoll

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Poller waits for readiness on a set of file descriptors.
//
// Wait must only be called from one goroutine. Wakeup may be called from any
// goroutine.
type Poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

// Open creates a poller that reports at most maxEvents descriptors per Wait.
func Open(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}
	return &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvents(i Interest) uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *Poller) control(op, fd int, i Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(i), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (p *Poller) Add(fd int, i Interest) error    { return p.control(unix.EPOLL_CTL_ADD, fd, i) }
func (p *Poller) Modify(fd int, i Interest) error { return p.control(unix.EPOLL_CTL_MOD, fd, i) }

func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Wait blocks until at least one descriptor is ready, the timeout elapses or
// Wakeup is called, and calls fn for each ready descriptor. A negative timeout
// blocks indefinitely. Hangups and socket errors are reported as both readable
// and writable so that the owner observes them through its own I/O calls.
func (p *Poller) Wait(timeout time.Duration, fn func(fd int, ready Interest)) error {
	msec := -1
	if timeout >= 0 {
		// Round up so that a deadline a few microseconds away does not spin.
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err == unix.EINTR {
		return nil
	} else if err != nil {
		return os.NewSyscallError("epoll_wait", err)
	}

	for _, ev := range p.events[:n] {
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWakeups()
			continue
		}
		var ready Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= Readable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready |= Writable
		}
		fn(fd, ready)
	}
	return nil
}

// Wakeup makes a blocked or future Wait return. Wake-ups that arrive before
// the poller gets to them coalesce into one.
func (p *Poller) Wakeup() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.wakefd, one[:])
	if err == unix.EAGAIN {
		// The counter is saturated, so a wake-up is already pending.
		return nil
	} else if err != nil {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *Poller) drainWakeups() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *Poller) Close() error {
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("closing epoll descriptor: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("closing eventfd: %w", werr)
	}
	return nil
}
