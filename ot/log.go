package ot

import (
	"github.com/google/uuid"

	"github.com/inkforge/coedit/commons"
)

// Log is the ordered record of locally issued operations, each carrying an
// acknowledged flag. The unacknowledged entries, in issue order, are the
// set every incoming remote operation must be transformed against.
//
// Log is not safe for concurrent use; the owning coordinator serializes
// access under its own mutex.
type Log struct {
	entries []logEntry
}

type logEntry struct {
	op    commons.Operation
	acked bool
}

// NewLog returns an empty operation log.
func NewLog() *Log {
	return &Log{}
}

// Append records a locally issued operation as unacknowledged.
func (l *Log) Append(op commons.Operation) {
	l.entries = append(l.entries, logEntry{op: op})
}

// Ack marks the operation with the given id as acknowledged and reports
// whether it was found. Fully acknowledged entries at the front of the log
// are pruned, since no future transform can involve them.
func (l *Log) Ack(id uuid.UUID) bool {
	found := false
	for i := range l.entries {
		if l.entries[i].op.ID == id {
			l.entries[i].acked = true
			found = true
			break
		}
	}

	// Prune the acknowledged prefix.
	i := 0
	for i < len(l.entries) && l.entries[i].acked {
		i++
	}
	l.entries = l.entries[i:]

	return found
}

// Unacknowledged returns the operations still awaiting a server ack, in
// issue order. The returned slice is a copy.
func (l *Log) Unacknowledged() []commons.Operation {
	ops := make([]commons.Operation, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.acked {
			ops = append(ops, e.op)
		}
	}
	return ops
}

// Len returns the number of entries still held, acknowledged or not.
func (l *Log) Len() int {
	return len(l.entries)
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.entries = nil
}
