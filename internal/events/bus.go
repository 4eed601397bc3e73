// Package events is the operator-facing notification bus: events published
// here are fanned out to admin subscribers (the websocket live feed, the
// SSE stream). Kinds are defined for reload, connection, scene enter/leave
// and commit events; the runtime itself publishes the reload and
// connection-closed kinds only. It has nothing to do with the dispatch bus in internal/bus,
// which carries player request traffic into the ECS tick.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind identifies the category of an operator-facing notification. Code
// that names kinds through the constants below gets a compile error on a
// typo; Kind is a string type, so an untyped string literal such as
// "relod.requested" still compiles and simply matches no events.
type Kind string

const (
	KindReloadRequested  Kind = "reload.requested"
	KindReloadFailed     Kind = "reload.failed"
	KindConnectionClosed Kind = "connection.closed"
	KindSceneEnter       Kind = "scene.enter"
	KindSceneLeave       Kind = "scene.leave"
	KindCommitPass       Kind = "commit.pass"
)

// Emitter is the interface for publishing ops events.
type Emitter interface {
	Emit(kind Kind, source, subject string, data map[string]interface{})
}

// Event is the envelope for all operator-facing notifications: library
// reloads, connection lifecycle, scene enter/leave, commit passes.
type Event struct {
	Type    Kind                   `json:"type"`
	Source  string                 `json:"source"`
	ID      string                 `json:"id"`
	Time    time.Time              `json:"time"`
	Subject string                 `json:"subject,omitempty"`
	Data    map[string]interface{} `json:"data"`
}

// NewEvent creates an Event with a monotonic-looking id and current time.
func NewEvent(kind Kind, source, subject string, data map[string]interface{}) *Event {
	return &Event{
		Type:    kind,
		Source:  source,
		ID:      fmt.Sprintf("ev-%d", time.Now().UnixNano()),
		Time:    time.Now(),
		Subject: subject,
		Data:    data,
	}
}

// JSON serializes the event in the same shape the websocket live feed
// writes with WriteJSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// SSEFormat returns the event in Server-Sent Events format, used by
// internal/admin's /admin/events/stream endpoint for operators that can't
// open a websocket (curl, a reverse proxy that strips Upgrade headers).
func (e *Event) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", e.Type, data, e.ID)), nil
}

// Bus is an in-process pub/sub event bus. Subscribers receive Events
// in real time; a full subscriber channel drops the event rather than
// blocking the publisher, since ops notifications are best-effort.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]chan *Event // kind -> channels
	allSubs     []chan *Event          // subscribers to all events
	logger      *log.Logger
	bufferSize  int
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Kind][]chan *Event),
		allSubs:     make([]chan *Event, 0),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of specific kinds.
// Pass no kinds to receive ALL events.
func (eb *Bus) Subscribe(kinds ...Kind) chan *Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan *Event, eb.bufferSize)

	if len(kinds) == 0 {
		eb.allSubs = append(eb.allSubs, ch)
	} else {
		for _, k := range kinds {
			eb.subscribers[k] = append(eb.subscribers[k], ch)
		}
	}

	return ch
}

// Unsubscribe removes a subscription channel.
func (eb *Bus) Unsubscribe(ch chan *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for k, subs := range eb.subscribers {
		filtered := make([]chan *Event, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		eb.subscribers[k] = filtered
	}

	filtered := make([]chan *Event, 0, len(eb.allSubs))
	for _, s := range eb.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	eb.allSubs = filtered

	close(ch)
}

// Publish sends an event to all matching subscribers.
func (eb *Bus) Publish(event *Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			eb.logger.Printf("dropping event %s for full subscriber", event.Type)
		}
	}

	for _, ch := range eb.allSubs {
		select {
		case ch <- event:
		default:
			eb.logger.Printf("dropping event %s for full all-events subscriber", event.Type)
		}
	}
}

// Emit is a convenience method to create and publish an event.
func (eb *Bus) Emit(kind Kind, source, subject string, data map[string]interface{}) {
	eb.Publish(NewEvent(kind, source, subject, data))
}

// SubscriberCount returns the total number of active subscribers.
func (eb *Bus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	count := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		count += len(subs)
	}
	return count
}
