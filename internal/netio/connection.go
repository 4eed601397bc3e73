package netio

import (
	"time"

	"github.com/ocx/ecsforge/internal/wire"
)

// connState is the inbound parsing state machine for a single connection:
// either waiting for a header (NeedHeader) or waiting for the remainder of
// a body whose length is already known (NeedBody). Mirrors the source's
// Connection::parse state, adapted to a growable read buffer instead of a
// fixed-size ring.
type connState int

const (
	needHeader connState = iota
	needBody
)

// Frame is one fully decoded inbound request, handed to a FrameHandler.
type Frame struct {
	ConnID    uint64
	CommandID uint32
	Body      []byte
}

// connection tracks per-socket read/write buffering and framing state. It
// holds no network syscalls itself — the reactor owns the fd and performs
// all I/O, handing bytes in and pulling bytes out.
type connection struct {
	id   uint64
	fd   int
	addr string

	state      connState
	pendingLen uint32
	pendingCmd uint32
	readBuf    []byte

	writeBuf []byte // bytes not yet flushed to the socket
	wantsW   bool   // EPOLLOUT currently registered

	lastActivity time.Time
	closing      bool
}

func newConnection(id uint64, fd int, addr string) *connection {
	return &connection{
		id:           id,
		fd:           fd,
		addr:         addr,
		state:        needHeader,
		readBuf:      make([]byte, 0, 4096),
		lastActivity: time.Now(),
	}
}

// feed appends freshly-read bytes and decodes as many complete frames as
// the buffer now contains, per the inbound header format in internal/wire:
// [u32 body_length][u32 command_id][body]. Decoded frames are appended to
// out and the trailing partial frame, if any, is left in readBuf.
func (c *connection) feed(data []byte, out []Frame) []Frame {
	c.lastActivity = time.Now()
	c.readBuf = append(c.readBuf, data...)

	for {
		if c.state == needHeader {
			if len(c.readBuf) < wire.InboundHeaderSize {
				return out
			}
			hdr, err := wire.ParseInboundHeader(c.readBuf[:wire.InboundHeaderSize])
			if err != nil {
				return out
			}
			c.pendingLen = hdr.BodyLength
			c.pendingCmd = hdr.CommandID
			c.readBuf = c.readBuf[wire.InboundHeaderSize:]
			c.state = needBody
		}

		if uint32(len(c.readBuf)) < c.pendingLen {
			return out
		}

		body := make([]byte, c.pendingLen)
		copy(body, c.readBuf[:c.pendingLen])
		c.readBuf = c.readBuf[c.pendingLen:]
		c.state = needHeader

		out = append(out, Frame{ConnID: c.id, CommandID: c.pendingCmd, Body: body})
	}
}

// queueWrite appends an already-framed outbound message (see
// wire.OutboundFrame.Marshal) to this connection's write buffer.
func (c *connection) queueWrite(framed []byte) {
	c.writeBuf = append(c.writeBuf, framed...)
}

func (c *connection) hasPendingWrite() bool {
	return len(c.writeBuf) > 0
}

// consumeWritten drops the first n bytes of the write buffer after a
// successful partial or full write syscall.
func (c *connection) consumeWritten(n int) {
	c.writeBuf = c.writeBuf[n:]
}

func (c *connection) idleFor(now time.Time) time.Duration {
	return now.Sub(c.lastActivity)
}
