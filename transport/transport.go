// Package transport abstracts the duplex message channel between the
// editing core and the coordinating server as a minimal named-message
// interface, so a WebSocket, long-polling, or in-process fake can back it.
package transport

import (
	"errors"

	"github.com/inkforge/coedit/commons"
)

// Status represents the connection state of a transport.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned by Send while the transport has no
	// live connection.
	ErrNotConnected = errors.New("transport: not connected")
)

// Transport is a duplex, reconnecting message channel. Implementations
// own exactly one logical connection; a transport instance is owned by
// exactly one session coordinator.
type Transport interface {
	// Connect establishes the initial connection.
	Connect() error

	// Send transmits a message. It returns ErrNotConnected while the
	// channel is down.
	Send(msg commons.Message) error

	// Messages returns the inbound message stream. No messages arrive
	// after Close; consumers stop via their own lifecycle.
	Messages() <-chan commons.Message

	// Status returns connection-state transitions. Implementations emit
	// StatusConnected after every (re)connect and StatusReconnecting or
	// StatusDisconnected when the channel drops.
	Status() <-chan Status

	// Close tears the transport down. Safe to call more than once.
	Close() error
}
