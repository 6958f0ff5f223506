//go:build linux
// +build linux

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux)
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, events Event) error {
	if fd < 0 {
		return fmt.Errorf("epoll ctl add: %w", unix.EBADF)
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify replaces the watched events of fd. With OneShot this re-arms
// a descriptor whose previous event was already delivered.
func (p *EpollPoller) Modify(fd int, events Event) error {
	if fd < 0 {
		return fmt.Errorf("epoll ctl mod: %w", unix.EBADF)
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	if fd < 0 {
		return fmt.Errorf("epoll ctl del: %w", unix.EBADF)
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks until a descriptor is ready, timeoutMs elapses or a signal
// interrupts. timeoutMs < 0 blocks indefinitely. An interrupted wait
// reports zero ready descriptors.
func (p *EpollPoller) Wait(timeoutMs int) (int, error) {
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	return n, nil
}

// EventFd returns the descriptor of the i-th ready event
func (p *EpollPoller) EventFd(i int) int {
	return int(p.events[i].Fd)
}

// EventMask returns the mask of the i-th ready event
func (p *EpollPoller) EventMask(i int) Event {
	return Event(p.events[i].Events)
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
