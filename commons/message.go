package commons

import (
	"time"

	"github.com/google/uuid"
)

// Message represents the message sent over the wire. A single envelope
// carries every message type; unused fields are omitted from the JSON.
type Message struct {
	// Type represents the message type.
	Type MessageType `json:"type"`

	// SessionID identifies the session a message belongs to.
	SessionID uuid.UUID `json:"sessionId,omitempty"`

	// ProjectID identifies the document/project, used when joining.
	ProjectID string `json:"projectId,omitempty"`

	// ParticipantID identifies the sending (or affected) participant.
	ParticipantID uuid.UUID `json:"participantId,omitempty"`

	// Profile is the join request's participant profile.
	Profile *Profile `json:"profile,omitempty"`

	// Session is the full session snapshot sent on session_joined.
	Session *Session `json:"session,omitempty"`

	// Participant is the joined participant sent on user_joined.
	Participant *Participant `json:"participant,omitempty"`

	// Operation is the text operation for operation messages.
	Operation *Operation `json:"operation,omitempty"`

	// OperationID is the acknowledged operation's id for operation_ack.
	OperationID uuid.UUID `json:"operationId,omitempty"`

	// Update is the payload of project_update messages.
	Update *ProjectUpdate `json:"update,omitempty"`

	// Cursor is the payload of cursor_update messages. Absent means the
	// participant's cursor is cleared.
	Cursor *Cursor `json:"cursor,omitempty"`

	// Conflict is the payload of conflict_detected messages.
	Conflict *Conflict `json:"conflict,omitempty"`

	// Resolution is the payload of resolve_conflict messages.
	Resolution *Resolution `json:"resolution,omitempty"`

	// Text carries join_error reasons and error messages.
	Text string `json:"text,omitempty"`

	// Timestamp is set on heartbeats.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MessageType represents the type of the message.
type MessageType string

const (
	JoinSessionMessage      MessageType = "join_session"
	SessionJoinedMessage    MessageType = "session_joined"
	JoinErrorMessage        MessageType = "join_error"
	LeaveSessionMessage     MessageType = "leave_session"
	SessionLeftMessage      MessageType = "session_left"
	OperationMessage        MessageType = "operation"
	OperationAckMessage     MessageType = "operation_ack"
	ProjectUpdateMessage    MessageType = "project_update"
	CursorUpdateMessage     MessageType = "cursor_update"
	UserJoinedMessage       MessageType = "user_joined"
	UserLeftMessage         MessageType = "user_left"
	HeartbeatMessage        MessageType = "presence_heartbeat"
	ConflictDetectedMessage MessageType = "conflict_detected"
	ResolveConflictMessage  MessageType = "resolve_conflict"
	ErrorMessage            MessageType = "error"
)
