// Package session implements the client side of the collaborative-editing
// core: session lifecycle, inbound routing through the operational
// transformer, presence, the pending-operation queue, and reconnection.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/inkforge/coedit/commons"
	"github.com/inkforge/coedit/transport"
)

var (
	// ErrAlreadyInitialized is returned by Initialize on an initialized
	// coordinator.
	ErrAlreadyInitialized = errors.New("session: already initialized")

	// ErrNotInitialized is returned by calls that need a live transport
	// before Initialize succeeded.
	ErrNotInitialized = errors.New("session: not initialized")

	// ErrInitialization wraps transport establishment failures.
	ErrInitialization = errors.New("session: transport could not be established")

	// ErrJoinFailed wraps server join rejections and join timeouts.
	ErrJoinFailed = errors.New("session: join failed")

	// ErrNotInSession is returned by operations that need an active session.
	ErrNotInSession = errors.New("session: no active session")

	// ErrSendFailure wraps transient transport errors on an otherwise
	// connected channel.
	ErrSendFailure = errors.New("session: send failed")
)

// Events is the callback surface consumed by the embedding UI layer. Nil
// fields are skipped. Callbacks are invoked from the coordinator's event
// loop and must not block.
type Events struct {
	OnUserJoined              func(commons.Participant)
	OnUserLeft                func(uuid.UUID)
	OnUserCursorUpdate        func(uuid.UUID, *commons.Cursor)
	OnProjectUpdate           func(commons.ProjectUpdate)
	OnOperationReceived       func(commons.Operation)
	OnConflictDetected        func(commons.Conflict)
	OnConnectionStatusChanged func(transport.Status)
	OnError                   func(error)
}

// Timings collects the coordinator's timeouts and intervals. Tests inject
// shorter values; production code uses DefaultTimings.
type Timings struct {
	// JoinTimeout bounds the wait for a session_joined or join_error reply.
	JoinTimeout time.Duration

	// LeaveTimeout bounds the wait for the leave acknowledgment. Local
	// state is cleared when it elapses regardless.
	LeaveTimeout time.Duration

	// HeartbeatInterval is the presence ping cadence while connected.
	HeartbeatInterval time.Duration

	// CursorDebounce is the trailing-edge window for outbound cursor
	// updates; the most recent value in a window wins.
	CursorDebounce time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		JoinTimeout:       10 * time.Second,
		LeaveTimeout:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		CursorDebounce:    100 * time.Millisecond,
	}
}
