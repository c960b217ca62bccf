// Package syncdb defines the contract of the synchronized database engine the
// wiki is layered on, and ships two implementations: an in-process engine for
// offline use and a websocket signaling client for peer presence.
package syncdb

import (
	"context"
	"sync"
)

// EventType enumerates the notifications raised by an Engine.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
	EventPeerReady    EventType = "peer-ready"
	EventPeerLeave    EventType = "peer-leave"
	EventSync         EventType = "sync"
)

// Event is a single notification from the engine. Only the fields relevant to
// Type are set. Peers, when non-nil, is the engine's full peer set at the time
// the event was raised.
type Event struct {
	Type        EventType
	PeerID      string
	Peers       []string
	Attempt     int
	ChangeCount int
	Err         string
}

// Handler receives engine events.
type Handler func(Event)

// Engine is the synchronized database abstraction. Table contents are read and
// written through the shared gorm connection; the engine owns replication,
// peer discovery and reconnection.
type Engine interface {
	EnableSync(ctx context.Context, table string) error
	Connect(ctx context.Context, signalingURL, token string) error
	Disconnect() error
	Peers() []string
	PeerID() string
	Subscribe(handler Handler) (unsubscribe func())
}

// hub fans events out to subscribers. Subscribers may be removed while an
// event is being delivered.
type hub struct {
	mu       sync.Mutex
	next     int
	handlers map[int]Handler
}

func newHub() *hub {
	return &hub{handlers: make(map[int]Handler)}
}

func (h *hub) subscribe(handler Handler) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// publish delivers event to the handlers registered when it started. A
// handler removed while delivery is under way is skipped.
func (h *hub) publish(event Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.handlers))
	for i := 0; i < h.next; i++ {
		if _, ok := h.handlers[i]; ok {
			ids = append(ids, i)
		}
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.mu.Lock()
		handler, ok := h.handlers[id]
		h.mu.Unlock()
		if ok {
			handler(event)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}
