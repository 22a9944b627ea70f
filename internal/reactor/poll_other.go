//go:build !linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback for platforms without epoll,
// built on poll(2) the same way rcproxy's netpoll package falls back
// to kqueue on BSD/Darwin rather than epoll.
type pollPoller struct {
	fds map[int]*unix.PollFd
}

// NewPoller creates a poll(2)-based poller.
func NewPoller() (Poller, error) {
	return &pollPoller{fds: make(map[int]*unix.PollFd)}, nil
}

func (p *pollPoller) Register(fd int) error {
	p.fds[fd] = &unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	return nil
}

func (p *pollPoller) ModifyWrite(fd int, writable bool) error {
	entry, ok := p.fds[fd]
	if !ok {
		return fmt.Errorf("reactor: modify unregistered fd %d", fd)
	}
	entry.Events = unix.POLLIN
	if writable {
		entry.Events |= unix.POLLOUT
	}
	return nil
}

func (p *pollPoller) Unregister(fd int) error {
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) Wait(events []Event, timeoutMillis int) (int, error) {
	pollFds := make([]unix.PollFd, 0, len(p.fds))
	for _, entry := range p.fds {
		pollFds = append(pollFds, *entry)
	}
	if len(pollFds) == 0 {
		return 0, nil
	}
	n, err := unix.Poll(pollFds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: poll: %w", err)
	}
	count := 0
	for _, pfd := range pollFds {
		if pfd.Revents == 0 {
			continue
		}
		if count >= len(events) {
			break
		}
		events[count] = Event{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
		}
		count++
	}
	_ = n
	return count, nil
}

func (p *pollPoller) Close() error {
	return nil
}
