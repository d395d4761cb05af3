// Package ot rebases remote operations against locally issued operations
// that the server has not yet acknowledged, so a remote edit can be applied
// to the local document without corrupting offsets.
package ot

import (
	"errors"
	"fmt"

	"github.com/inkforge/coedit/commons"
)

// ErrOverlappingDelete is returned when a remote delete overlaps an
// unacknowledged local delete. The transform is not well-defined for this
// pair; callers must escalate it as a conflict instead of applying it.
var ErrOverlappingDelete = errors.New("ot: overlapping deletes cannot be transformed")

// OverlapError reports the pair of deletes whose ranges overlap.
type OverlapError struct {
	Remote commons.Operation
	Local  commons.Operation
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("ot: remote delete [%d,%d) overlaps unacknowledged local delete [%d,%d)",
		e.Remote.Position, e.Remote.End(), e.Local.Position, e.Local.End())
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingDelete }

// Transform rebases remote against every unacknowledged local operation,
// oldest first, and returns the operation to apply locally. The input is
// never mutated. It returns an *OverlapError when remote cannot be rebased.
func Transform(remote commons.Operation, unacked []commons.Operation) (commons.Operation, error) {
	for _, local := range unacked {
		var err error
		remote, err = transformPair(remote, local)
		if err != nil {
			return commons.Operation{}, err
		}
	}
	return remote, nil
}

// transformPair rebases remote against a single local operation.
func transformPair(remote, local commons.Operation) (commons.Operation, error) {
	switch {
	case remote.Kind == commons.OpInsert && local.Kind == commons.OpInsert:
		// A local insert at or before the remote insert's position pushes
		// it right. At equal offsets the local insert keeps priority.
		if local.Position <= remote.Position {
			remote.Position += local.ContentLength()
		}

	case remote.Kind == commons.OpDelete && local.Kind == commons.OpInsert:
		if local.Position <= remote.Position {
			remote.Position += local.ContentLength()
		}

	case remote.Kind == commons.OpInsert && local.Kind == commons.OpDelete:
		// Shift the remote insert left past the deleted range, clamped so
		// it never lands before the delete's start.
		if remote.Position > local.Position {
			remote.Position -= local.Length
			if remote.Position < local.Position {
				remote.Position = local.Position
			}
		}

	case remote.Kind == commons.OpDelete && local.Kind == commons.OpDelete:
		switch {
		case remote.Position >= local.End():
			remote.Position -= local.Length
		case remote.End() <= local.Position:
			// Entirely before the local delete; unchanged.
		default:
			return commons.Operation{}, &OverlapError{Remote: remote, Local: local}
		}

	default:
		// Retain, format and any future kinds pass through unchanged.
	}

	return remote, nil
}
