// Package connstate reflects the signaling and peer connectivity of a wiki
// session. It never drives the network itself; every transition is derived
// from events raised by the sync engine.
package connstate

import (
	"fmt"
	"sort"

	"peerwiki/app/internal/syncdb"
)

// Status is the connectivity state of a session.
type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Reconnecting Status = "reconnecting"
)

// SyncNotice records the most recent sync notification.
type SyncNotice struct {
	ChangeCount int    `json:"changeCount"`
	PeerID      string `json:"peerId"`
}

// State is an immutable snapshot of a session's connectivity.
type State struct {
	Status    Status      `json:"status"`
	PeerCount int         `json:"peerCount"`
	Peers     []string    `json:"peers"`
	LastError string      `json:"lastError,omitempty"`
	Attempt   int         `json:"attempt,omitempty"`
	LastSync  *SyncNotice `json:"lastSync,omitempty"`
}

// Initial returns the state of a session that has not connected yet.
func Initial() State {
	return State{Status: Disconnected, Peers: []string{}}
}

// Reduce applies event to state and returns the new state. The peer count is
// always recomputed from the peer set, so duplicated or reordered presence
// events cannot skew it.
func Reduce(state State, event syncdb.Event) State {
	next := state
	peers := toSet(state.Peers)

	switch event.Type {
	case syncdb.EventConnected:
		next.Status = Connecting
		next.LastError = ""
		next.Attempt = 0
	case syncdb.EventPeerReady:
		next.Status = Connected
		if event.PeerID != "" {
			peers[event.PeerID] = struct{}{}
		}
	case syncdb.EventPeerLeave:
		delete(peers, event.PeerID)
	case syncdb.EventDisconnected:
		next.Status = Disconnected
		next.Attempt = 0
		next.LastError = event.Err
		peers = map[string]struct{}{}
	case syncdb.EventReconnecting:
		next.Status = Reconnecting
		next.Attempt = event.Attempt
	case syncdb.EventReconnected:
		next.Status = Connected
		next.Attempt = 0
		next.LastError = ""
	case syncdb.EventSync:
		next.LastSync = &SyncNotice{ChangeCount: event.ChangeCount, PeerID: event.PeerID}
	default:
		return state
	}

	if event.Peers != nil && event.Type != syncdb.EventDisconnected {
		peers = toSet(event.Peers)
	}

	next.Peers = fromSet(peers)
	next.PeerCount = len(next.Peers)
	return next
}

// StatusText describes the state the way the status bar shows it.
func (s State) StatusText() string {
	switch s.Status {
	case Connecting:
		return "Connected! Waiting for peers..."
	case Connected:
		if s.PeerCount == 0 {
			return "Connected to signaling server"
		}
		return fmt.Sprintf("Connected to %s", PeerLabel(s.PeerCount))
	case Reconnecting:
		return fmt.Sprintf("Reconnecting... (attempt %d)", s.Attempt)
	default:
		if s.LastError != "" {
			return fmt.Sprintf("Connection failed: %s", s.LastError)
		}
		return "Disconnected from signaling server"
	}
}

// SyncText describes a sync notification, e.g. "Synced 3 changes".
func SyncText(changeCount int) string {
	if changeCount == 1 {
		return "Synced 1 change"
	}
	return fmt.Sprintf("Synced %d changes", changeCount)
}

// PeerLabel pluralises a peer count, e.g. "1 peer" or "2 peers".
func PeerLabel(count int) string {
	if count == 1 {
		return "1 peer"
	}
	return fmt.Sprintf("%d peers", count)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}
