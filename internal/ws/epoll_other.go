//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is a goroutine-per-connection fallback for non-Linux platforms. Each
// connection is reported ready once and stays quiet until the server rearms
// it, so the worker's blocking read is the readiness probe and no bytes are
// consumed behind the frame reader's back.
type Epoll struct {
	mu        sync.Mutex
	conns     map[net.Conn]chan struct{} // conn -> rearm signal
	readyCh   chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its monitor goroutine.
func (e *Epoll) Add(conn net.Conn) error {
	rearm := make(chan struct{}, 1)
	e.mu.Lock()
	e.conns[conn] = rearm
	e.mu.Unlock()

	go e.monitor(conn, rearm)
	return nil
}

// monitor alternates between reporting conn as ready and waiting for the
// server to finish with it.
func (e *Epoll) monitor(conn net.Conn, rearm chan struct{}) {
	for {
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		select {
		case _, ok := <-rearm:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Rearm signals that the server finished reading conn.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rearm, ok := e.conns[conn]
	if !ok {
		return
	}
	select {
	case rearm <- struct{}{}:
	default:
	}
}

// Remove unregisters a connection and stops its monitor.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rearm, ok := e.conns[conn]; ok {
		delete(e.conns, conn)
		close(rearm)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection that is ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance. It is safe to call more than
// once.
func (e *Epoll) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]chan struct{})
	e.mu.Unlock()
	return nil
}
