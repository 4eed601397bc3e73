package netio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ocx/ecsforge/internal/wire"
)

// TestReactorEchoesFrameToHandler exercises the full accept -> read ->
// decode -> handler path end to end over a real loopback TCP socket.
func TestReactorEchoesFrameToHandler(t *testing.T) {
	var mu sync.Mutex
	var received []Frame
	frameSeen := make(chan struct{}, 1)

	onFrame := func(f Frame) {
		mu.Lock()
		received = append(received, f)
		mu.Unlock()
		select {
		case frameSeen <- struct{}{}:
		default:
		}
	}

	r, err := New(Config{ListenAddr: "127.0.0.1:0", PollTimeout: 50 * time.Millisecond}, onFrame, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	addr, err := r.BoundAddr()
	if err != nil {
		t.Fatalf("BoundAddr: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	conn, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(encodeInboundFrame(123, []byte("ping"))); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-frameSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reactor to decode the frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(received))
	}
	if received[0].CommandID != 123 || string(received[0].Body) != "ping" {
		t.Fatalf("unexpected frame: %+v", received[0])
	}
}

// TestReactorSendDeliversOutboundFrame verifies Send() and its wake-pipe write flush a
// queued outbound frame to a connected client without waiting for the next
// poll timeout.
func TestReactorSendDeliversOutboundFrame(t *testing.T) {
	connIDCh := make(chan uint64, 1)
	onFrame := func(f Frame) {
		select {
		case connIDCh <- f.ConnID:
		default:
		}
	}

	r, err := New(Config{ListenAddr: "127.0.0.1:0", PollTimeout: 50 * time.Millisecond}, onFrame, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	addr, err := r.BoundAddr()
	if err != nil {
		t.Fatalf("BoundAddr: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	conn, err := net.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Prime the connection so the reactor learns its conn id.
	if _, err := conn.Write(encodeInboundFrame(1, nil)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var connID uint64
	select {
	case connID = <-connIDCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	r.FramedSend(connID, wire.OutboundFrame{EntityID: 7, CommandID: 99, Body: []byte("pong")})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := wire.ReadOutboundFrame(conn)
	if err != nil {
		t.Fatalf("ReadOutboundFrame: %v", err)
	}
	if out.EntityID != 7 || out.CommandID != 99 || string(out.Body) != "pong" {
		t.Fatalf("unexpected outbound frame: %+v", out)
	}
}
