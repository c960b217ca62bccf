package connstate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/syncdb"
)

// Observer is notified after every event the machine applies.
type Observer func(state State, event syncdb.Event)

// Machine owns the ConnectionState of one wiki session and is its only writer.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
	detach    func()
	logger    *logrus.Logger
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine(logger *logrus.Logger) *Machine {
	return &Machine{state: Initial(), logger: logger}
}

// Attach subscribes the machine to engine, detaching from any previous engine
// first so that events from an old session can never reach the new one.
func (m *Machine) Attach(engine syncdb.Engine) {
	m.Detach()

	unsubscribe := engine.Subscribe(m.Handle)

	m.mu.Lock()
	m.detach = unsubscribe
	m.mu.Unlock()
}

// Detach stops listening to the current engine, if any.
func (m *Machine) Detach() {
	m.mu.Lock()
	detach := m.detach
	m.detach = nil
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Reset returns the machine to its initial state.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Initial()
	m.mu.Unlock()
}

// Observe registers fn to be called after each applied event.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle applies a single engine event.
func (m *Machine) Handle(event syncdb.Event) {
	m.mu.Lock()
	m.state = Reduce(m.state, event)
	state := m.state
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.log(state, event)

	for _, observer := range observers {
		observer(state, event)
	}
}

func (m *Machine) log(state State, event syncdb.Event) {
	if m.logger == nil {
		return
	}

	entry := m.logger.WithFields(logrus.Fields{
		"component":  "connstate",
		"event":      string(event.Type),
		"status":     string(state.Status),
		"peer_count": state.PeerCount,
	})
	if event.PeerID != "" {
		entry = entry.WithField("peer_id", event.PeerID)
	}

	switch event.Type {
	case syncdb.EventDisconnected:
		if event.Err != "" {
			entry.WithField("error", event.Err).Warn("signaling connection closed")
			return
		}
		entry.Info("disconnected from signaling server")
	case syncdb.EventSync:
		entry.WithField("changes", event.ChangeCount).Info("synced changes from peer")
	case syncdb.EventReconnecting:
		entry.WithField("attempt", event.Attempt).Info("reconnecting to signaling server")
	default:
		entry.Debug("connection event")
	}
}
