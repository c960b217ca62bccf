package syncdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// LocalEngine is an in-process Engine. It never talks to the network; peer
// presence and sync notifications are injected with Emit, which makes it the
// engine used for offline sessions and tests.
type LocalEngine struct {
	mu        sync.Mutex
	peerID    string
	tables    map[string]struct{}
	peers     map[string]struct{}
	connected bool
	events    *hub
}

var _ Engine = (*LocalEngine)(nil)

// NewLocalEngine creates an engine identifying itself as peerID.
func NewLocalEngine(peerID string) *LocalEngine {
	return &LocalEngine{
		peerID: peerID,
		tables: make(map[string]struct{}),
		peers:  make(map[string]struct{}),
		events: newHub(),
	}
}

func (e *LocalEngine) EnableSync(_ context.Context, table string) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return eris.New("table name is required")
	}

	e.mu.Lock()
	e.tables[table] = struct{}{}
	e.mu.Unlock()
	return nil
}

// SyncedTables lists the tables registered through EnableSync.
func (e *LocalEngine) SyncedTables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	tables := make([]string, 0, len(e.tables))
	for table := range e.tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

func (e *LocalEngine) Connect(_ context.Context, _ string, token string) error {
	if strings.TrimSpace(token) == "" {
		return eris.New("token is required")
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	e.events.publish(Event{Type: EventConnected})
	return nil
}

func (e *LocalEngine) Disconnect() error {
	e.mu.Lock()
	wasConnected := e.connected
	e.connected = false
	e.peers = make(map[string]struct{})
	e.mu.Unlock()

	if wasConnected {
		e.events.publish(Event{Type: EventDisconnected})
	}
	return nil
}

func (e *LocalEngine) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.peers)
}

func (e *LocalEngine) PeerID() string {
	return e.peerID
}

func (e *LocalEngine) Subscribe(handler Handler) func() {
	return e.events.subscribe(handler)
}

// Subscribers reports how many handlers are currently attached.
func (e *LocalEngine) Subscribers() int {
	return e.events.count()
}

// Emit applies event to the engine's peer set and delivers it to subscribers.
// The delivered event carries the resulting peer snapshot.
func (e *LocalEngine) Emit(event Event) {
	e.mu.Lock()
	switch event.Type {
	case EventPeerReady:
		if event.PeerID != "" {
			e.peers[event.PeerID] = struct{}{}
		}
	case EventPeerLeave:
		delete(e.peers, event.PeerID)
	case EventDisconnected:
		e.connected = false
		e.peers = make(map[string]struct{})
	case EventConnected, EventReconnected:
		e.connected = true
	}
	if event.Type == EventPeerReady || event.Type == EventPeerLeave {
		event.Peers = sortedKeys(e.peers)
	}
	e.mu.Unlock()

	e.events.publish(event)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
