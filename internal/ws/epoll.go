//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// armEvents is the interest set of a viewer socket. EPOLLONESHOT disarms the
// fd after one report, so a connection is owned by a single worker until
// Rearm. EPOLLRDHUP reports a peer that closed its write side.
const armEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// Epoll reports push connections whose client has sent a frame or hung up.
// Idle viewers cost a map entry, not a goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	fds    map[net.Conn]int // cached so Remove works after the conn is closed
	events []unix.EpollEvent
	closed bool
}

// NewEpoll creates the kernel epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn armed for one readiness report.
func (e *Epoll) Add(conn net.Conn) error {
	fd, err := socketFD(conn)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return net.ErrClosed
	}
	ev := unix.EpollEvent{Events: armEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	e.byFD[fd] = conn
	e.fds[conn] = fd
	return nil
}

// Rearm re-enables readiness reports for conn after a worker is done with it.
// Connections removed in the meantime are ignored.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fd, ok := e.fds[conn]
	if !ok || e.closed {
		return
	}
	ev := unix.EpollEvent{Events: armEvents, Fd: int32(fd)}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove unregisters conn. Removing an unknown connection is a no-op.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	fd, ok := e.fds[conn]
	if !ok {
		return nil
	}
	delete(e.fds, conn)
	delete(e.byFD, fd)
	if e.closed {
		return nil
	}
	// The fd may already be closed, which drops it from the interest list.
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
		!errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one connection is ready. Interrupted waits are
// retried. Reports for connections removed after the kernel queued them are
// dropped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	for {
		n, err := unix.EpollWait(e.fd, e.events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.mu.RLock()
		conns := make([]net.Conn, 0, n)
		for _, ev := range e.events[:n] {
			if conn, ok := e.byFD[int(ev.Fd)]; ok {
				conns = append(conns, conn)
			}
		}
		e.mu.RUnlock()
		if len(conns) > 0 {
			return conns, nil
		}
	}
}

// Close releases the epoll instance. It is safe to call more than once.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.byFD = make(map[int]net.Conn)
	e.fds = make(map[net.Conn]int)
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without duplicating it.
func socketFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("epoll: %T exposes no file descriptor", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1, err
	}
	return fd, nil
}
