package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inkforge/coedit/commons"
)

// presenceMirror publishes roster membership and cursors into Redis with
// TTLs so services outside the relay can observe who is editing what. A
// nil mirror is a no-op; the server runs without Redis by default.
type presenceMirror struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger interface{ Warnf(string, ...any) }
}

func newPresenceMirror(addr string, ttl time.Duration, logger interface{ Warnf(string, ...any) }) *presenceMirror {
	if addr == "" {
		return nil
	}
	return &presenceMirror{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

func memberKey(projectID string, id uuid.UUID) string {
	return fmt.Sprintf("coedit:presence:%s:%s", projectID, id)
}

func cursorKey(projectID string, id uuid.UUID) string {
	return fmt.Sprintf("coedit:cursor:%s:%s", projectID, id)
}

// Touch refreshes a participant's presence key.
func (m *presenceMirror) Touch(ctx context.Context, projectID string, id uuid.UUID) {
	if m == nil {
		return
	}
	if err := m.rdb.Set(ctx, memberKey(projectID, id), time.Now().Unix(), m.ttl).Err(); err != nil {
		m.logger.Warnf("presence mirror touch failed: %v", err)
	}
}

// SetCursor stores a participant's cursor, or clears it when nil.
func (m *presenceMirror) SetCursor(ctx context.Context, projectID string, id uuid.UUID, cursor *commons.Cursor) {
	if m == nil {
		return
	}

	key := cursorKey(projectID, id)
	if cursor == nil {
		if err := m.rdb.Del(ctx, key).Err(); err != nil {
			m.logger.Warnf("presence mirror cursor clear failed: %v", err)
		}
		return
	}

	payload, err := json.Marshal(cursor)
	if err != nil {
		m.logger.Warnf("presence mirror cursor encode failed: %v", err)
		return
	}
	if err := m.rdb.Set(ctx, key, payload, m.ttl).Err(); err != nil {
		m.logger.Warnf("presence mirror cursor store failed: %v", err)
	}
}

// Remove drops a participant's presence and cursor keys.
func (m *presenceMirror) Remove(ctx context.Context, projectID string, id uuid.UUID) {
	if m == nil {
		return
	}
	if err := m.rdb.Del(ctx, memberKey(projectID, id), cursorKey(projectID, id)).Err(); err != nil {
		m.logger.Warnf("presence mirror remove failed: %v", err)
	}
}
