package admin

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ocx/ecsforge/internal/events"
)

// LiveFeed fans out every event published on internal/events.Bus (library
// reloads, connection closes, and any other kind a publisher emits) to
// connected operator websockets, tracked in a mutex-guarded client map.
type LiveFeed struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*websocket.Conn

	evts *events.Bus
	sub  chan *events.Event

	logger *log.Logger
}

// NewLiveFeed creates a live feed subscribed to every event on evts.
func NewLiveFeed(evts *events.Bus) *LiveFeed {
	return &LiveFeed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
		evts:    evts,
		sub:     evts.Subscribe(),
		logger:  log.New(log.Writer(), "[ADMIN feed] ", log.LstdFlags),
	}
}

// Run pumps subscribed events out to every connected client. It blocks and
// should be started in its own goroutine.
func (f *LiveFeed) Run() {
	for event := range f.sub {
		f.broadcast(event)
	}
}

func (f *LiveFeed) broadcast(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sessionID, conn := range f.clients {
		if err := conn.WriteJSON(event); err != nil {
			f.logger.Printf("write error to session %s: %v", sessionID, err)
			conn.Close()
			delete(f.clients, sessionID)
		}
	}
}

// HandleWebSocket upgrades the request and registers the connection under a
// fresh session id, tagging every log line for that operator connection,
// including the disconnect line unregister writes.
func (f *LiveFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Printf("upgrade error: %v", err)
		return
	}
	sessionID := uuid.NewString()

	f.mu.Lock()
	f.clients[sessionID] = conn
	f.mu.Unlock()
	f.logger.Printf("operator session %s connected (total: %d)", sessionID, f.connectedCount())

	go func() {
		defer f.unregister(sessionID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *LiveFeed) unregister(sessionID string, conn *websocket.Conn) {
	f.mu.Lock()
	if _, ok := f.clients[sessionID]; ok {
		delete(f.clients, sessionID)
		conn.Close()
	}
	f.mu.Unlock()
	f.logger.Printf("operator session %s disconnected (total: %d)", sessionID, f.connectedCount())
}

func (f *LiveFeed) connectedCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close unsubscribes from the event bus and drops every connected client.
func (f *LiveFeed) Close() {
	f.evts.Unsubscribe(f.sub)
	f.mu.Lock()
	defer f.mu.Unlock()
	for sessionID, conn := range f.clients {
		conn.Close()
		delete(f.clients, sessionID)
	}
}
