package commons

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// OperationKind represents the kind of an editing operation.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpDelete OperationKind = "delete"
	OpRetain OperationKind = "retain"
	OpFormat OperationKind = "format"
)

// Operation represents a single text edit against the shared document.
// Operations are immutable once issued; transforms produce new values.
type Operation struct {
	// ID is a client-generated, globally unique identifier.
	ID uuid.UUID `json:"id"`

	// Kind represents the operation kind, for example, insert, delete.
	Kind OperationKind `json:"kind"`

	// Position is the zero-based offset into the shared document.
	Position int `json:"position"`

	// Content is the inserted text. Only set for insert operations.
	Content string `json:"content,omitempty"`

	// Length is the number of characters affected. Only set for delete
	// and retain operations.
	Length int `json:"length,omitempty"`

	// Attributes carries formatting attributes for format operations.
	Attributes map[string]any `json:"attributes,omitempty"`

	// ParticipantID identifies the issuing participant.
	ParticipantID uuid.UUID `json:"participantId"`

	// IssuedAt is the client-side issue timestamp.
	IssuedAt time.Time `json:"issuedAt"`
}

// ContentLength returns the length of the inserted content in characters.
func (o Operation) ContentLength() int {
	return utf8.RuneCountInString(o.Content)
}

// End returns the exclusive end offset of a delete's range.
func (o Operation) End() int {
	return o.Position + o.Length
}

// UpdateVerb represents the create/update/delete verb of a project update.
type UpdateVerb string

const (
	UpdateCreate UpdateVerb = "create"
	UpdateModify UpdateVerb = "update"
	UpdateDelete UpdateVerb = "delete"
)

// ProjectUpdate represents a higher-level, non-text change to the shared
// project, for example a character or story-structure edit. Updates are
// atomic units: they are never transformed, only ordered by arrival.
type ProjectUpdate struct {
	// Kind tags the entity being changed, for example "character".
	Kind string `json:"kind"`

	// Verb is the change verb.
	Verb UpdateVerb `json:"verb"`

	// TargetID identifies the changed entity, if any.
	TargetID string `json:"targetId,omitempty"`

	// Payload is the opaque update body.
	Payload json.RawMessage `json:"payload,omitempty"`

	// ParticipantID identifies the issuing participant.
	ParticipantID uuid.UUID `json:"participantId"`

	// IssuedAt is the client-side issue timestamp.
	IssuedAt time.Time `json:"issuedAt"`
}
