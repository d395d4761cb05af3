package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkforge/coedit/commons"
)

// Websocket is a Transport backed by a gorilla WebSocket connection. A
// dropped connection is redialed with exponential backoff until Close is
// called; the caller observes the outage only as Status transitions.
type Websocket struct {
	url    string
	dialer *websocket.Dialer
	logger *logrus.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	messages chan commons.Message
	status   chan Status
	done     chan struct{}

	closeOnce sync.Once
}

// WebsocketOptions configures a Websocket transport.
type WebsocketOptions struct {
	// HandshakeTimeout bounds the WebSocket handshake. Defaults to 10s.
	HandshakeTimeout time.Duration

	// Logger receives reconnect diagnostics. Defaults to the standard
	// logrus logger.
	Logger *logrus.Logger
}

// NewWebsocket returns a Websocket transport for the given ws:// or wss://
// URL. No connection is made until Connect.
func NewWebsocket(rawURL string, opts WebsocketOptions) *Websocket {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Websocket{
		url:      rawURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger:   opts.Logger,
		messages: make(chan commons.Message, 64),
		status:   make(chan Status, 16),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop.
func (t *Websocket) Connect() error {
	conn, _, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}

	t.setConn(conn)
	t.emit(StatusConnected)
	go t.readLoop(conn)
	return nil
}

// Send writes a message to the current connection.
func (t *Websocket) Send(msg commons.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed() {
		return ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Messages returns the inbound message stream.
func (t *Websocket) Messages() <-chan commons.Message {
	return t.messages
}

// Status returns connection-state transitions.
func (t *Websocket) Status() <-chan Status {
	return t.status
}

// Close tears down the connection and stops any reconnect attempt.
func (t *Websocket) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

// readLoop reads messages off one connection until it fails, then hands
// off to the reconnect loop.
func (t *Websocket) readLoop(conn *websocket.Conn) {
	for {
		var msg commons.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if t.closed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Errorf("websocket error: %v", err)
			}
			t.mu.Lock()
			t.conn = nil
			t.mu.Unlock()

			t.emit(StatusReconnecting)
			t.reconnect()
			return
		}

		select {
		case t.messages <- msg:
		case <-t.done:
			return
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// transport is closed.
func (t *Websocket) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until closed

	err := backoff.Retry(func() error {
		if t.closed() {
			return backoff.Permanent(ErrClosed)
		}

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err != nil {
			t.logger.Warnf("reconnect to %s failed: %v", t.url, err)
			return err
		}

		t.setConn(conn)
		t.emit(StatusConnected)
		go t.readLoop(conn)
		return nil
	}, bo)

	if err != nil && !t.closed() {
		t.logger.Errorf("reconnect abandoned: %v", err)
		t.emit(StatusDisconnected)
	}
}

func (t *Websocket) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *Websocket) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// emit publishes a status transition. It blocks until the consumer takes
// it or the transport is closed; a dropped transition could strand the
// consumer in the wrong connection state.
func (t *Websocket) emit(s Status) {
	select {
	case t.status <- s:
	case <-t.done:
	}
}
