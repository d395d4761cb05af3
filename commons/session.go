package commons

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Range represents a selection range in the document.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Cursor represents a participant's cursor position and optional selection.
type Cursor struct {
	Position  int    `json:"position"`
	Selection *Range `json:"selection,omitempty"`
}

// Profile represents the client-supplied part of a participant's identity.
// The server is authoritative for the id and color bound to a profile.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Participant represents one member of an editing session.
type Participant struct {
	ID uuid.UUID `json:"id"`

	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`

	// Color is the display color assigned by the server on join.
	Color string `json:"color"`

	// Cursor is the participant's last known cursor, if any.
	Cursor *Cursor `json:"cursor,omitempty"`

	LastSeen time.Time `json:"lastSeen"`
	Online   bool      `json:"online"`
}

// Session represents one collaborative editing session. The authoritative
// copy lives on the coordinating server; clients hold a cache.
type Session struct {
	ID uuid.UUID `json:"id"`

	// ProjectID identifies the document/project being edited.
	ProjectID string `json:"projectId"`

	// Participants is an ordered set: a participant id appears at most once.
	Participants []Participant `json:"participants"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Conflict represents a set of operations the server could not auto-merge.
type Conflict struct {
	ID          uuid.UUID   `json:"id"`
	Description string      `json:"description"`
	Operations  []Operation `json:"operations"`
}

// ResolutionKind represents the caller's choice for resolving a conflict.
type ResolutionKind string

const (
	ResolveAcceptMine   ResolutionKind = "accept_mine"
	ResolveAcceptTheirs ResolutionKind = "accept_theirs"
	ResolveMerge        ResolutionKind = "merge"
	ResolveCustom       ResolutionKind = "custom"
)

// Resolution represents the chosen resolution for a conflict.
type Resolution struct {
	ConflictID uuid.UUID      `json:"conflictId"`
	Kind       ResolutionKind `json:"kind"`

	// Payload carries the resolved state for custom resolutions.
	Payload json.RawMessage `json:"payload,omitempty"`

	ParticipantID uuid.UUID `json:"participantId"`
	ResolvedAt    time.Time `json:"resolvedAt"`
}
