package connstate

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/syncdb"
)

func TestReduceTransitions(t *testing.T) {
	t.Parallel()

	state := Initial()
	if state.Status != Disconnected || state.PeerCount != 0 {
		t.Fatalf("unexpected initial state %#v", state)
	}

	steps := []struct {
		event  syncdb.Event
		status Status
		peers  int
	}{
		{event: syncdb.Event{Type: syncdb.EventConnected}, status: Connecting, peers: 0},
		{event: syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "a"}, status: Connected, peers: 1},
		{event: syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "b"}, status: Connected, peers: 2},
		{event: syncdb.Event{Type: syncdb.EventReconnecting, Attempt: 1}, status: Reconnecting, peers: 2},
		{event: syncdb.Event{Type: syncdb.EventReconnected}, status: Connected, peers: 2},
		{event: syncdb.Event{Type: syncdb.EventPeerLeave, PeerID: "a"}, status: Connected, peers: 1},
		{event: syncdb.Event{Type: syncdb.EventPeerLeave, PeerID: "b"}, status: Connected, peers: 0},
		{event: syncdb.Event{Type: syncdb.EventReconnecting, Attempt: 2}, status: Reconnecting, peers: 0},
		{event: syncdb.Event{Type: syncdb.EventDisconnected, Err: "gave up"}, status: Disconnected, peers: 0},
	}

	for i, step := range steps {
		state = Reduce(state, step.event)
		if state.Status != step.status {
			t.Fatalf("step %d (%s): expected status %s, got %s", i, step.event.Type, step.status, state.Status)
		}
		if state.PeerCount != step.peers {
			t.Fatalf("step %d (%s): expected %d peers, got %d", i, step.event.Type, step.peers, state.PeerCount)
		}
	}

	if state.LastError != "gave up" {
		t.Fatalf("expected last error to be recorded, got %q", state.LastError)
	}
}

func TestReduceDuplicatePeerReadyDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	state := Reduce(Initial(), syncdb.Event{Type: syncdb.EventConnected})
	for i := 0; i < 3; i++ {
		state = Reduce(state, syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "peer-1"})
	}

	if state.PeerCount != 1 {
		t.Fatalf("expected 1 peer after duplicate peer-ready events, got %d", state.PeerCount)
	}
}

func TestReducePeerLeaveForUnknownPeerIsHarmless(t *testing.T) {
	t.Parallel()

	state := Reduce(Initial(), syncdb.Event{Type: syncdb.EventPeerLeave, PeerID: "ghost"})
	if state.PeerCount != 0 {
		t.Fatalf("expected peer count to stay 0, got %d", state.PeerCount)
	}
	if state.Status != Disconnected {
		t.Fatalf("expected peer-leave not to change status, got %s", state.Status)
	}
}

func TestReduceUsesPeerSnapshotWhenPresent(t *testing.T) {
	t.Parallel()

	state := Reduce(Initial(), syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "a"})
	state = Reduce(state, syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "c", Peers: []string{"c", "b"}})

	if diff := cmp.Diff([]string{"b", "c"}, state.Peers); diff != "" {
		t.Fatalf("unexpected peers (-want +got):\n%s", diff)
	}
	if state.PeerCount != 2 {
		t.Fatalf("expected peer count 2, got %d", state.PeerCount)
	}
}

func TestReduceSyncIsNotATransition(t *testing.T) {
	t.Parallel()

	state := Reduce(Initial(), syncdb.Event{Type: syncdb.EventConnected})
	next := Reduce(state, syncdb.Event{Type: syncdb.EventSync, ChangeCount: 4, PeerID: "p"})

	if next.Status != Connecting {
		t.Fatalf("expected status to stay connecting, got %s", next.Status)
	}
	if next.LastSync == nil || next.LastSync.ChangeCount != 4 || next.LastSync.PeerID != "p" {
		t.Fatalf("expected sync notice to be recorded, got %#v", next.LastSync)
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	state := Reduce(Initial(), syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "a"})
	before := append([]string(nil), state.Peers...)

	_ = Reduce(state, syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "b"})

	if diff := cmp.Diff(before, state.Peers); diff != "" {
		t.Fatalf("input state was mutated (-want +got):\n%s", diff)
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state State
		want  string
	}{
		{state: Initial(), want: "Disconnected from signaling server"},
		{state: State{Status: Disconnected, LastError: "refused"}, want: "Connection failed: refused"},
		{state: State{Status: Connecting}, want: "Connected! Waiting for peers..."},
		{state: State{Status: Connected}, want: "Connected to signaling server"},
		{state: State{Status: Connected, PeerCount: 1}, want: "Connected to 1 peer"},
		{state: State{Status: Connected, PeerCount: 3}, want: "Connected to 3 peers"},
		{state: State{Status: Reconnecting, Attempt: 2}, want: "Reconnecting... (attempt 2)"},
	}

	for _, tc := range cases {
		if got := tc.state.StatusText(); got != tc.want {
			t.Errorf("StatusText() = %q, want %q", got, tc.want)
		}
	}

	if got := SyncText(1); got != "Synced 1 change" {
		t.Errorf("SyncText(1) = %q", got)
	}
	if got := SyncText(5); got != "Synced 5 changes" {
		t.Errorf("SyncText(5) = %q", got)
	}
}

func TestMachineAttachDetach(t *testing.T) {
	t.Parallel()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	first := syncdb.NewLocalEngine("me")
	second := syncdb.NewLocalEngine("me")
	machine := NewMachine(logger)

	var observed []Status
	machine.Observe(func(state State, _ syncdb.Event) {
		observed = append(observed, state.Status)
	})

	machine.Attach(first)
	first.Emit(syncdb.Event{Type: syncdb.EventConnected})
	first.Emit(syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "a"})

	if got := machine.State(); got.Status != Connected || got.PeerCount != 1 {
		t.Fatalf("unexpected state after first engine events: %#v", got)
	}

	machine.Attach(second)
	machine.Reset()
	if n := first.Subscribers(); n != 0 {
		t.Fatalf("expected first engine to be detached, still has %d subscribers", n)
	}

	first.Emit(syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "b"})
	if got := machine.State(); got.Status != Disconnected || got.PeerCount != 0 {
		t.Fatalf("events from detached engine leaked into state: %#v", got)
	}

	second.Emit(syncdb.Event{Type: syncdb.EventConnected})
	if got := machine.State(); got.Status != Connecting {
		t.Fatalf("expected connecting after second engine connected, got %s", got.Status)
	}

	want := []Status{Connecting, Connected, Connecting}
	if diff := cmp.Diff(want, observed); diff != "" {
		t.Fatalf("unexpected observed statuses (-want +got):\n%s", diff)
	}

	machine.Detach()
	if n := second.Subscribers(); n != 0 {
		t.Fatalf("expected second engine to be detached, still has %d subscribers", n)
	}
}
