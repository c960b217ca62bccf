package syncdb

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxAttempts    = 10
	writeTimeout          = 5 * time.Second
)

// SignalingOptions configures a SignalingEngine.
type SignalingOptions struct {
	PeerID         string
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	MaxAttempts    int
	Logger         *logrus.Logger
}

// frame is the JSON message exchanged with the signaling server.
type frame struct {
	Type    string   `json:"type"`
	Peer    string   `json:"peer,omitempty"`
	Peers   []string `json:"peers,omitempty"`
	Changes int      `json:"changes,omitempty"`
	Tables  []string `json:"tables,omitempty"`
}

// SignalingEngine tracks peer presence through a websocket signaling server.
// The server relays presence frames for every client sharing the same token.
type SignalingEngine struct {
	peerID         string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	maxAttempts    int
	logger         *logrus.Logger
	events         *hub

	mu     sync.Mutex
	tables map[string]struct{}
	peers  map[string]struct{}
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Engine = (*SignalingEngine)(nil)

// NewSignalingEngine constructs a websocket-backed engine.
func NewSignalingEngine(opts SignalingOptions) (*SignalingEngine, error) {
	peerID := strings.TrimSpace(opts.PeerID)
	if peerID == "" {
		return nil, eris.New("peer id is required")
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &SignalingEngine{
		peerID:         peerID,
		dialer:         dialer,
		reconnectDelay: delay,
		maxAttempts:    attempts,
		logger:         opts.Logger,
		events:         newHub(),
		tables:         make(map[string]struct{}),
		peers:          make(map[string]struct{}),
	}, nil
}

func (e *SignalingEngine) EnableSync(_ context.Context, table string) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return eris.New("table name is required")
	}

	e.mu.Lock()
	e.tables[table] = struct{}{}
	e.mu.Unlock()
	return nil
}

// Connect dials the signaling server and starts the receive loop. Failures
// after the first successful dial are retried in the background.
func (e *SignalingEngine) Connect(ctx context.Context, signalingURL, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return eris.New("token is required")
	}

	target, err := e.endpoint(signalingURL, token)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return eris.New("signaling engine is already connected")
	}
	e.mu.Unlock()

	conn, err := e.dial(ctx, target)
	if err != nil {
		return eris.Wrapf(err, "connecting to signaling server %s", signalingURL)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.conn = conn
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.events.publish(Event{Type: EventConnected})

	go func() {
		defer close(done)
		e.run(loopCtx, target, conn)
	}()

	return nil
}

// Disconnect stops the receive loop and closes the socket.
func (e *SignalingEngine) Disconnect() error {
	e.mu.Lock()
	cancel := e.cancel
	conn := e.conn
	done := e.done
	e.cancel = nil
	e.conn = nil
	e.done = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	var closeErr error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		closeErr = conn.Close()
	}
	if done != nil {
		<-done
	}

	e.resetPeers()
	e.events.publish(Event{Type: EventDisconnected})

	if closeErr != nil {
		return eris.Wrap(closeErr, "closing signaling connection")
	}
	return nil
}

func (e *SignalingEngine) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.peers)
}

func (e *SignalingEngine) PeerID() string {
	return e.peerID
}

func (e *SignalingEngine) Subscribe(handler Handler) func() {
	return e.events.subscribe(handler)
}

func (e *SignalingEngine) endpoint(signalingURL, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(signalingURL))
	if err != nil {
		return "", eris.Wrapf(err, "parsing signaling url: %s", signalingURL)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", eris.Errorf("signaling url must use ws or wss, got %q", parsed.Scheme)
	}

	query := parsed.Query()
	query.Set("token", token)
	query.Set("peer", e.peerID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (e *SignalingEngine) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, _, err := e.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	tables := sortedKeys(e.tables)
	e.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame{Type: "hello", Peer: e.peerID, Tables: tables}); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "sending hello frame")
	}

	return conn, nil
}

func (e *SignalingEngine) run(ctx context.Context, target string, conn *websocket.Conn) {
	for {
		err := e.receive(conn)
		if ctx.Err() != nil {
			return
		}

		e.logWarn(err, "signaling connection lost")
		e.resetPeers()

		conn = e.reconnect(ctx, target)
		if conn == nil {
			return
		}
	}
}

func (e *SignalingEngine) receive(conn *websocket.Conn) error {
	for {
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		e.handleFrame(msg)
	}
}

func (e *SignalingEngine) handleFrame(msg frame) {
	switch msg.Type {
	case string(EventPeerReady), string(EventPeerLeave):
		e.mu.Lock()
		if msg.Peers != nil {
			e.peers = make(map[string]struct{}, len(msg.Peers))
			for _, peer := range msg.Peers {
				e.peers[peer] = struct{}{}
			}
		} else if msg.Type == string(EventPeerReady) {
			e.peers[msg.Peer] = struct{}{}
		} else {
			delete(e.peers, msg.Peer)
		}
		delete(e.peers, e.peerID)
		snapshot := sortedKeys(e.peers)
		e.mu.Unlock()

		e.events.publish(Event{Type: EventType(msg.Type), PeerID: msg.Peer, Peers: snapshot})
	case string(EventSync):
		e.events.publish(Event{Type: EventSync, PeerID: msg.Peer, ChangeCount: msg.Changes})
	default:
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{"component": "syncdb.signaling", "type": msg.Type}).Debug("ignoring signaling frame")
		}
	}
}

// reconnect retries the dial with a fixed delay. It returns nil when the
// context is cancelled or the attempts are exhausted.
func (e *SignalingEngine) reconnect(ctx context.Context, target string) *websocket.Conn {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.events.publish(Event{Type: EventReconnecting, Attempt: attempt})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.reconnectDelay):
		}

		conn, err := e.dial(ctx, target)
		if err != nil {
			lastErr = err
			e.logWarn(err, "signaling reconnect attempt failed")
			continue
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil
		}

		e.mu.Lock()
		e.conn = conn
		e.mu.Unlock()

		e.events.publish(Event{Type: EventReconnected})
		return conn
	}

	e.mu.Lock()
	cancel := e.cancel
	e.conn = nil
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	message := "reconnect attempts exhausted"
	if lastErr != nil {
		message = lastErr.Error()
	}
	e.events.publish(Event{Type: EventDisconnected, Err: message})
	return nil
}

func (e *SignalingEngine) resetPeers() {
	e.mu.Lock()
	e.peers = make(map[string]struct{})
	e.mu.Unlock()
}

func (e *SignalingEngine) logWarn(err error, message string) {
	if e.logger == nil || err == nil {
		return
	}
	e.logger.WithFields(logrus.Fields{"component": "syncdb.signaling", "peer_id": e.peerID}).
		WithField("error", err.Error()).Warn(message)
}
