package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/inkforge/coedit/commons"
)

// Tracker maintains the roster of participants in a session: membership,
// cursors, and online state. A participant id appears at most once.
//
// Tracker is not safe for concurrent use; the owning coordinator
// serializes access under its own mutex.
type Tracker struct {
	participants []commons.Participant
}

// NewTracker returns an empty roster.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset replaces the roster with the given snapshot, typically the
// session_joined payload. The local roster is a cache; the server copy is
// authoritative and rebuilt from scratch on every successful join.
func (t *Tracker) Reset(participants []commons.Participant) {
	t.participants = append([]commons.Participant(nil), participants...)
}

// Join appends a participant and reports whether the roster changed.
// Joining an already-present id refreshes its entry instead of duplicating
// it, so replayed join events are harmless.
func (t *Tracker) Join(p commons.Participant) bool {
	for i := range t.participants {
		if t.participants[i].ID == p.ID {
			t.participants[i] = p
			return false
		}
	}
	t.participants = append(t.participants, p)
	return true
}

// Leave removes the participant by id and reports whether it was present.
func (t *Tracker) Leave(id uuid.UUID) bool {
	for i := range t.participants {
		if t.participants[i].ID == id {
			t.participants = append(t.participants[:i], t.participants[i+1:]...)
			return true
		}
	}
	return false
}

// SetCursor updates the matching participant's cursor, clearing it when
// cursor is nil. Unknown ids are ignored rather than erroring, since a
// stale cursor update can race a leave event.
func (t *Tracker) SetCursor(id uuid.UUID, cursor *commons.Cursor) bool {
	for i := range t.participants {
		if t.participants[i].ID == id {
			t.participants[i].Cursor = cursor
			return true
		}
	}
	return false
}

// Touch refreshes a participant's last-seen timestamp and online flag.
func (t *Tracker) Touch(id uuid.UUID, at time.Time) bool {
	for i := range t.participants {
		if t.participants[i].ID == id {
			t.participants[i].LastSeen = at
			t.participants[i].Online = true
			return true
		}
	}
	return false
}

// Get returns the participant with the given id.
func (t *Tracker) Get(id uuid.UUID) (commons.Participant, bool) {
	for _, p := range t.participants {
		if p.ID == id {
			return p, true
		}
	}
	return commons.Participant{}, false
}

// Online returns the participants currently flagged online.
func (t *Tracker) Online() []commons.Participant {
	var online []commons.Participant
	for _, p := range t.participants {
		if p.Online {
			online = append(online, p)
		}
	}
	return online
}

// All returns a copy of the full roster in arrival order.
func (t *Tracker) All() []commons.Participant {
	return append([]commons.Participant(nil), t.participants...)
}

// Len returns the roster size.
func (t *Tracker) Len() int {
	return len(t.participants)
}
