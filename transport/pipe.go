package transport

import (
	"sync"

	"github.com/inkforge/coedit/commons"
)

// Pipe is an in-process Transport. It delivers injected messages to the
// consumer in FIFO order and records every sent message, and its
// connection state can be driven explicitly, which makes it the transport
// of choice for exercising disconnect/replay behavior in tests.
type Pipe struct {
	mu        sync.Mutex
	connected bool
	isClosed  bool
	sendErr   error

	sent     chan commons.Message
	messages chan commons.Message
	status   chan Status
}

// NewPipe returns a disconnected Pipe.
func NewPipe() *Pipe {
	return &Pipe{
		sent:     make(chan commons.Message, 256),
		messages: make(chan commons.Message, 256),
		status:   make(chan Status, 16),
	}
}

// Connect marks the pipe connected and emits StatusConnected.
func (p *Pipe) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return ErrClosed
	}
	p.connected = true
	p.emit(StatusConnected)
	return nil
}

// Send records an outbound message.
func (p *Pipe) Send(msg commons.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return ErrClosed
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	if !p.connected {
		return ErrNotConnected
	}
	p.sent <- msg
	return nil
}

// Messages returns the inbound message stream.
func (p *Pipe) Messages() <-chan commons.Message {
	return p.messages
}

// Status returns connection-state transitions.
func (p *Pipe) Status() <-chan Status {
	return p.status
}

// Close marks the pipe closed.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isClosed = true
	p.connected = false
	return nil
}

// Deliver injects an inbound message, as if received from the server.
func (p *Pipe) Deliver(msg commons.Message) {
	p.messages <- msg
}

// Sent returns the stream of messages the local side transmitted.
func (p *Pipe) Sent() <-chan commons.Message {
	return p.sent
}

// Drop simulates losing the connection: sends start failing and
// StatusReconnecting is emitted.
func (p *Pipe) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = false
	p.emit(StatusReconnecting)
}

// Resume simulates a successful reconnect.
func (p *Pipe) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return
	}
	p.connected = true
	p.emit(StatusConnected)
}

// FailSends makes every subsequent Send return err until called with nil.
func (p *Pipe) FailSends(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sendErr = err
}

func (p *Pipe) emit(s Status) {
	select {
	case p.status <- s:
	default:
	}
}
