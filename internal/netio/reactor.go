// Package netio implements the single-threaded non-blocking network reactor
// described in §4.4: one epoll loop owns every connection's fd, decodes
// inbound frames via internal/wire, and flushes queued outbound frames when
// a socket becomes writable. It plays the same role as the source's mio
// Poll/Listener pair; golang.org/x/sys/unix provides the raw epoll_create1/
// epoll_ctl/epoll_wait syscalls, since nothing else in this module's
// dependency graph wraps epoll directly (net.Listener's internal poller
// isn't exposed to callers, and pulling in a full async-runtime dependency
// for one reactor loop would be the wrong shape for a single-binary
// server).
package netio

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ocx/ecsforge/internal/wire"
)

// FrameHandler receives fully decoded inbound frames as they're parsed off
// the wire. Implemented by the dispatch bus (internal/bus); kept as a plain
// function type here so netio has no import-time dependency on it.
type FrameHandler func(frame Frame)

// DisconnectHandler is notified when a connection is closed, so the ECS
// side can drop its session state.
type DisconnectHandler func(connID uint64)

// Config controls reactor timing and buffer sizing.
type Config struct {
	ListenAddr      string
	PollTimeout     time.Duration
	IdleTimeout     time.Duration
	ReadBufferBytes int
}

// Reactor owns one epoll instance, the listening socket, and every accepted
// connection. Run must be called from a single goroutine; Send and
// FramedSend may be called from any goroutine.
type Reactor struct {
	cfg Config

	epfd     int
	listenFD int
	wakeR    int
	wakeW    int

	nextConnID  uint64
	connections map[int]*connection // fd -> connection
	byID        map[uint64]int      // connID -> fd

	onFrame      FrameHandler
	onDisconnect DisconnectHandler

	logger *log.Logger

	pendingWrites chan writeRequest
}

type writeRequest struct {
	connID uint64
	framed []byte
}

const epollEventBufferSize = 128

// New binds and listens on cfg.ListenAddr, creates the epoll instance, and
// registers the listening socket and an internal self-pipe used to wake
// Run() when another goroutine queues an outbound write (the Go analogue
// of mio's Waker).
func New(cfg Config, onFrame FrameHandler, onDisconnect DisconnectHandler, logger *log.Logger) (*Reactor, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = 64 * 1024
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[NETIO] ", log.LstdFlags)
	}

	listenFD, err := bindAndListen(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.ListenAddr, err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	pipeFDs := make([]int, 2)
	if err := unix.Pipe2(pipeFDs, unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		unix.Close(listenFD)
		return nil, fmt.Errorf("pipe2: %w", err)
	}

	r := &Reactor{
		cfg:           cfg,
		epfd:          epfd,
		listenFD:      listenFD,
		wakeR:         pipeFDs[0],
		wakeW:         pipeFDs[1],
		connections:   make(map[int]*connection),
		byID:          make(map[uint64]int),
		onFrame:       onFrame,
		onDisconnect:  onDisconnect,
		logger:        logger,
		pendingWrites: make(chan writeRequest, 1024),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFD)}); err != nil {
		r.Close()
		return nil, fmt.Errorf("epoll_ctl listener: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeR, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeR)}); err != nil {
		r.Close()
		return nil, fmt.Errorf("epoll_ctl wake pipe: %w", err)
	}

	return r, nil
}

// Send queues a framed outbound message for delivery to connID and wakes
// the reactor loop so it registers EPOLLOUT and flushes promptly instead of
// waiting for the next poll timeout.
func (r *Reactor) Send(connID uint64, framed []byte) {
	select {
	case r.pendingWrites <- writeRequest{connID: connID, framed: framed}:
	default:
		r.logger.Printf("outbound queue full, dropping frame for conn %d", connID)
		return
	}
	r.wake()
}

func (r *Reactor) wake() {
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

// Run drives the epoll loop until ctx is cancelled. Must be called from a
// single goroutine; it is the only goroutine that touches r.connections.
func (r *Reactor) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, epollEventBufferSize)
	timeoutMs := int(r.cfg.PollTimeout / time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(r.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			switch {
			case fd == r.listenFD:
				r.acceptLoop()
			case fd == r.wakeR:
				r.drainWakePipe()
				r.dispatchPendingWrites()
			default:
				r.handleConnEvent(fd, ev.Events)
			}
		}

		r.reapIdleConnections()
	}
}

func (r *Reactor) acceptLoop() {
	for {
		connFD, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.logger.Printf("accept: %v", err)
			return
		}
		r.nextConnID++
		id := r.nextConnID
		conn := newConnection(id, connFD, describeSockaddr(sa))
		r.connections[connFD] = conn
		r.byID[id] = connFD

		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, connFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(connFD)}); err != nil {
			r.logger.Printf("epoll_ctl add conn %d: %v", id, err)
			r.closeConn(conn)
			continue
		}
		r.logger.Printf("accepted conn %d from %s", id, conn.addr)
	}
}

func (r *Reactor) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (r *Reactor) dispatchPendingWrites() {
	for {
		select {
		case req := <-r.pendingWrites:
			fd, ok := r.byID[req.connID]
			if !ok {
				continue
			}
			conn := r.connections[fd]
			conn.queueWrite(req.framed)
			r.flushOrRegisterWritable(conn)
		default:
			return
		}
	}
}

func (r *Reactor) handleConnEvent(fd int, eventMask uint32) {
	conn, ok := r.connections[fd]
	if !ok {
		return
	}
	if eventMask&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeConn(conn)
		return
	}
	if eventMask&unix.EPOLLIN != 0 {
		r.readConn(conn)
	}
	if conn.closing {
		return
	}
	if eventMask&unix.EPOLLOUT != 0 {
		r.flushOrRegisterWritable(conn)
	}
}

func (r *Reactor) readConn(conn *connection) {
	buf := make([]byte, r.cfg.ReadBufferBytes)
	for {
		n, err := unix.Read(conn.fd, buf)
		if n > 0 {
			frames := conn.feed(buf[:n], nil)
			for _, f := range frames {
				r.onFrame(f)
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.closeConn(conn)
			return
		}
		if n == 0 {
			r.closeConn(conn)
			return
		}
		if n < len(buf) {
			return
		}
	}
}

// flushOrRegisterWritable writes as much of conn's buffered output as the
// socket accepts, then registers or clears EPOLLOUT depending on whether
// bytes remain.
func (r *Reactor) flushOrRegisterWritable(conn *connection) {
	for conn.hasPendingWrite() {
		n, err := unix.Write(conn.fd, conn.writeBuf)
		if n > 0 {
			conn.consumeWritten(n)
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			r.closeConn(conn)
			return
		}
		if n == 0 {
			break
		}
	}

	wantsOut := conn.hasPendingWrite()
	if wantsOut == conn.wantsW {
		return
	}
	conn.wantsW = wantsOut
	events := uint32(unix.EPOLLIN)
	if wantsOut {
		events |= unix.EPOLLOUT
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, conn.fd, &unix.EpollEvent{Events: events, Fd: int32(conn.fd)})
}

// reapIdleConnections closes connections that haven't produced activity
// within cfg.IdleTimeout, run once per poll wakeup (mirrors the source's
// periodic check_close/check_timeout pass).
func (r *Reactor) reapIdleConnections() {
	now := time.Now()
	for _, conn := range r.connections {
		if conn.idleFor(now) > r.cfg.IdleTimeout {
			r.logger.Printf("conn %d idle timeout", conn.id)
			r.closeConn(conn)
		}
	}
}

func (r *Reactor) closeConn(conn *connection) {
	if conn.closing {
		return
	}
	conn.closing = true
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, conn.fd, nil)
	unix.Close(conn.fd)
	delete(r.connections, conn.fd)
	delete(r.byID, conn.id)
	if r.onDisconnect != nil {
		r.onDisconnect(conn.id)
	}
}

// Close releases the reactor's own file descriptors and closes the fd of
// every connection still open, without calling the DisconnectHandler for
// them.
func (r *Reactor) Close() {
	for _, conn := range r.connections {
		unix.Close(conn.fd)
	}
	if r.wakeR != 0 {
		unix.Close(r.wakeR)
	}
	if r.wakeW != 0 {
		unix.Close(r.wakeW)
	}
	if r.listenFD != 0 {
		unix.Close(r.listenFD)
	}
	if r.epfd != 0 {
		unix.Close(r.epfd)
	}
}

// FramedSend is a convenience wrapper combining wire.OutboundFrame.Marshal
// with Send.
func (r *Reactor) FramedSend(connID uint64, frame wire.OutboundFrame) {
	r.Send(connID, frame.Marshal())
}

// BoundAddr returns the actual local address the listening socket is bound
// to, useful when Config.ListenAddr used port 0 (tests, ephemeral ports).
func (r *Reactor) BoundAddr() (string, error) {
	sa, err := unix.Getsockname(r.listenFD)
	if err != nil {
		return "", err
	}
	return describeSockaddr(sa), nil
}
