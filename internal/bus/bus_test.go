package bus

import (
	"fmt"
	"testing"
	"time"
)

type moveRequest struct{ X, Y int }
type chatRequest struct{ Text string }

func decodeMove(body []byte) (any, error) {
	if len(body) != 2 {
		return nil, fmt.Errorf("bad move body")
	}
	return moveRequest{X: int(body[0]), Y: int(body[1])}, nil
}

func decodeChat(body []byte) (any, error) {
	return chatRequest{Text: string(body)}, nil
}

const (
	cmdMove uint32 = 1
	cmdChat uint32 = 2
)

func newTestBus(keepOrder, keepDuplicate bool) (*Bus, chan Envelope, chan Envelope) {
	b := New(Config{KeepOrder: keepOrder, KeepDuplicate: keepDuplicate}, nil)
	moveCh := b.RegisterKind(cmdMove, "Move", decodeMove, 16)
	chatCh := b.RegisterKind(cmdChat, "Chat", decodeChat, 16)
	return b, moveCh, chatCh
}

func recvWithTimeout(t *testing.T, ch chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

// TestUnorderedDispatchSendsDirectly covers the unordered mode: every
// dispatch reaches its channel immediately, with no per-entity ordering
// applied.
func TestUnorderedDispatchSendsDirectly(t *testing.T) {
	b, moveCh, _ := newTestBus(false, true)
	if err := b.Dispatch(1, cmdMove, []byte{1, 1}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	env := recvWithTimeout(t, moveCh)
	if env.Request.(moveRequest) != (moveRequest{1, 1}) {
		t.Fatalf("unexpected request: %+v", env.Request)
	}
}

// TestKeepOrderFirstRequestDispatchesImmediately checks the ready_bit=true
// initial state: an entity's first request in keep_order mode goes
// straight to the channel without waiting in the queue.
func TestKeepOrderFirstRequestDispatchesImmediately(t *testing.T) {
	b, moveCh, _ := newTestBus(true, true)
	if err := b.Dispatch(1, cmdMove, []byte{5, 5}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	recvWithTimeout(t, moveCh)
	if !b.InFlight(1) {
		t.Fatal("expected entity 1 to be in flight after its first dispatch")
	}
}

// TestAtMostOneInFlightInvariant covers §8's keep_order invariant: while a
// request is in flight for an entity, a second dispatch must queue instead
// of reaching the channel, and InFlight must stay true until Next() is
// called.
func TestAtMostOneInFlightInvariant(t *testing.T) {
	b, moveCh, _ := newTestBus(true, true)
	b.Dispatch(1, cmdMove, []byte{1, 1})
	recvWithTimeout(t, moveCh) // first request now in flight

	b.Dispatch(1, cmdMove, []byte{2, 2})
	select {
	case env := <-moveCh:
		t.Fatalf("second request must not bypass the in-flight one, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
	if b.QueueDepth(1) != 1 {
		t.Fatalf("expected 1 queued request, got %d", b.QueueDepth(1))
	}

	b.Next(1) // cleanup system finishes the first request
	recvWithTimeout(t, moveCh)
	if !b.InFlight(1) {
		t.Fatal("expected entity to remain in flight for the dequeued request")
	}
}

// TestDuplicateCoalescingOverwritesTailOfSameKind demonstrates §4.5's
// coalescing rule: a queued request is overwritten in place by a
// same-kind request that arrives while it is still the tail of the queue.
func TestDuplicateCoalescingOverwritesTailOfSameKind(t *testing.T) {
	b, moveCh, chatCh := newTestBus(true, false)

	b.Dispatch(1, cmdMove, []byte{1, 1})
	recvWithTimeout(t, moveCh) // Move(1,1) in flight

	b.Dispatch(1, cmdMove, []byte{2, 2})  // queued: [Move(2,2)]
	b.Dispatch(1, cmdMove, []byte{3, 3})  // same kind as tail -> overwrites: [Move(3,3)]
	b.Dispatch(1, cmdChat, []byte("hi"))  // different kind -> appended: [Move(3,3), Chat]

	if depth := b.QueueDepth(1); depth != 2 {
		t.Fatalf("expected 2 queued requests after coalescing, got %d", depth)
	}

	b.Next(1) // drains Move(3,3), not Move(2,2) — it was overwritten
	env := recvWithTimeout(t, moveCh)
	if env.Request.(moveRequest) != (moveRequest{3, 3}) {
		t.Fatalf("expected the coalesced Move(3,3), got %+v", env.Request)
	}

	b.Next(1)
	chatEnv := recvWithTimeout(t, chatCh)
	if chatEnv.Request.(chatRequest).Text != "hi" {
		t.Fatalf("expected Chat(hi), got %+v", chatEnv.Request)
	}

	b.Next(1)
	if b.InFlight(1) {
		t.Fatal("expected entity to return to ready state once the queue drains")
	}
}

// TestDuplicateCoalescingDoesNotCrossKindBoundary reproduces the literal
// arrival sequence from §8 scenario 4 (Move, Move, Chat, Move): because a
// Chat request sits at the tail when the second Move arrives, it breaks
// tail-adjacency and the two Move requests are delivered separately
// instead of coalescing, per the normative "most recent queued item"
// rule in §4.5.
func TestDuplicateCoalescingDoesNotCrossKindBoundary(t *testing.T) {
	b, moveCh, chatCh := newTestBus(true, false)

	b.Dispatch(1, cmdMove, []byte{1, 1})
	recvWithTimeout(t, moveCh) // Move(1,1) in flight

	b.Dispatch(1, cmdMove, []byte{2, 2}) // queued: [Move(2,2)]
	b.Dispatch(1, cmdChat, []byte("hi")) // tail is Move(2,2), different kind -> appended
	b.Dispatch(1, cmdMove, []byte{3, 3}) // tail is Chat, different kind -> appended, no coalescing

	if depth := b.QueueDepth(1); depth != 3 {
		t.Fatalf("expected 3 queued requests, got %d", depth)
	}

	b.Next(1)
	if env := recvWithTimeout(t, moveCh); env.Request.(moveRequest) != (moveRequest{2, 2}) {
		t.Fatalf("expected Move(2,2) first, got %+v", env.Request)
	}
	b.Next(1)
	if env := recvWithTimeout(t, chatCh); env.Request.(chatRequest).Text != "hi" {
		t.Fatalf("expected Chat(hi) second, got %+v", env.Request)
	}
	b.Next(1)
	if env := recvWithTimeout(t, moveCh); env.Request.(moveRequest) != (moveRequest{3, 3}) {
		t.Fatalf("expected Move(3,3) last, got %+v", env.Request)
	}
}

func TestDropEntityClearsState(t *testing.T) {
	b, moveCh, _ := newTestBus(true, true)
	b.Dispatch(1, cmdMove, []byte{1, 1})
	recvWithTimeout(t, moveCh)
	b.DropEntity(1)
	if b.InFlight(1) {
		t.Fatal("expected dropped entity to report not in flight")
	}
}

func TestDispatchUnknownCommandID(t *testing.T) {
	b, _, _ := newTestBus(false, true)
	if err := b.Dispatch(1, 0xDEAD, []byte{}); err == nil {
		t.Fatal("expected an error for an unregistered command id")
	}
}
