package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkforge/coedit/commons"
)

// Display colors assigned to participants in join order.
var palette = []string{
	"#e07a5f", "#3d405b", "#81b29a", "#f2cc8f",
	"#6d597a", "#b56576", "#355070", "#eaac8b",
}

// Hub owns every session room and the WebSocket endpoints feeding them.
type Hub struct {
	cfg      Config
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	mirror   *presenceMirror

	mu    sync.Mutex
	rooms map[string]*room
}

func newHub(cfg Config, logger *logrus.Logger, mirror *presenceMirror) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{},
		mirror:   mirror,
		rooms:    make(map[string]*room),
	}
}

// room is one project's session plus its connected clients.
type room struct {
	session commons.Session
	clients map[uuid.UUID]*client

	// recentDeletes is the sliding window used for overlapping-delete
	// conflict detection.
	recentDeletes []deleteRecord

	// conflicts tracks bounced operations awaiting a resolution; the
	// contested operation is acked to its issuer once resolved.
	conflicts map[uuid.UUID]conflictRecord
}

type deleteRecord struct {
	op commons.Operation
	at time.Time
}

type conflictRecord struct {
	operationID uuid.UUID
	issuer      uuid.UUID
}

// client is one WebSocket connection. Outbound messages go through a
// buffered queue drained by writeLoop so one slow reader cannot stall the
// room; a full queue drops the message.
type client struct {
	conn *websocket.Conn
	send chan commons.Message

	participantID uuid.UUID
	projectID     string
}

func (c *client) enqueue(msg commons.Message) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		_ = c.conn.WriteJSON(msg)
	}
}

// handleConn upgrades the HTTP connection and reads messages until the
// client goes away.
func (h *Hub) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan commons.Message, 32)}
	go c.writeLoop()
	defer close(c.send)

	for {
		var msg commons.Message
		if err := conn.ReadJSON(&msg); err != nil {
			h.dropClient(c)
			return
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *client, msg commons.Message) {
	switch msg.Type {
	case commons.JoinSessionMessage:
		h.join(c, msg)

	case commons.LeaveSessionMessage:
		h.leave(c)

	case commons.OperationMessage:
		h.operation(c, msg)

	case commons.CursorUpdateMessage:
		h.withRoom(c, func(rm *room) {
			rm.session.LastActivity = time.Now()
			msg.ParticipantID = c.participantID
			h.broadcast(rm, c, msg)
		})
		if c.participantID != uuid.Nil {
			h.mirror.SetCursor(context.Background(), c.projectID, c.participantID, msg.Cursor)
		}

	case commons.HeartbeatMessage:
		h.withRoom(c, func(rm *room) {
			now := time.Now()
			for i := range rm.session.Participants {
				if rm.session.Participants[i].ID == c.participantID {
					rm.session.Participants[i].LastSeen = now
					rm.session.Participants[i].Online = true
				}
			}
		})
		if c.participantID != uuid.Nil {
			h.mirror.Touch(context.Background(), c.projectID, c.participantID)
		}

	case commons.ProjectUpdateMessage:
		h.withRoom(c, func(rm *room) {
			rm.session.LastActivity = time.Now()
			h.broadcast(rm, c, msg)
		})

	case commons.ResolveConflictMessage:
		// Relay the resolution so every collaborator can converge on it,
		// and ack the contested operation so its issuer can retire it from
		// the unacknowledged log.
		h.withRoom(c, func(rm *room) {
			if msg.Resolution != nil {
				if rec, ok := rm.conflicts[msg.Resolution.ConflictID]; ok {
					delete(rm.conflicts, msg.Resolution.ConflictID)
					if issuer, ok := rm.clients[rec.issuer]; ok {
						issuer.enqueue(commons.Message{
							Type:        commons.OperationAckMessage,
							SessionID:   rm.session.ID,
							OperationID: rec.operationID,
						})
					}
				}
			}
			h.broadcast(rm, c, msg)
		})

	default:
		c.enqueue(commons.Message{Type: commons.ErrorMessage, Text: "unknown message type"})
	}
}

// join admits a client into its project's room, assigning the
// authoritative participant identity.
func (h *Hub) join(c *client, msg commons.Message) {
	if msg.Profile == nil || msg.ProjectID == "" {
		c.enqueue(commons.Message{Type: commons.JoinErrorMessage, Text: "join request is missing project or profile"})
		return
	}
	if c.participantID != uuid.Nil {
		c.enqueue(commons.Message{Type: commons.JoinErrorMessage, Text: "already in a session"})
		return
	}

	h.mu.Lock()
	rm, ok := h.rooms[msg.ProjectID]
	if !ok {
		rm = &room{
			session: commons.Session{
				ID:        uuid.New(),
				ProjectID: msg.ProjectID,
				CreatedAt: time.Now(),
			},
			clients:   make(map[uuid.UUID]*client),
			conflicts: make(map[uuid.UUID]conflictRecord),
		}
		h.rooms[msg.ProjectID] = rm
	}

	p := commons.Participant{
		ID:       uuid.New(),
		Name:     msg.Profile.Name,
		Avatar:   msg.Profile.Avatar,
		Color:    palette[len(rm.session.Participants)%len(palette)],
		LastSeen: time.Now(),
		Online:   true,
	}
	rm.session.Participants = append(rm.session.Participants, p)
	rm.session.LastActivity = time.Now()

	c.participantID = p.ID
	c.projectID = msg.ProjectID
	rm.clients[p.ID] = c

	snapshot := rm.session
	snapshot.Participants = append([]commons.Participant(nil), rm.session.Participants...)

	h.broadcast(rm, c, commons.Message{
		Type:        commons.UserJoinedMessage,
		SessionID:   rm.session.ID,
		Participant: &p,
	})
	h.mu.Unlock()

	c.enqueue(commons.Message{
		Type:          commons.SessionJoinedMessage,
		ParticipantID: p.ID,
		Session:       &snapshot,
	})
	h.mirror.Touch(context.Background(), c.projectID, p.ID)

	color.Green("%s >> %s joined project %s", time.Now().Format(time.ANSIC), p.Name, msg.ProjectID)
	h.logger.WithFields(logrus.Fields{"project": msg.ProjectID, "participant": p.ID}).Info("participant joined")
}

// operation acks the sender, screens deletes against the conflict window,
// and relays to the rest of the room.
func (h *Hub) operation(c *client, msg commons.Message) {
	if msg.Operation == nil {
		c.enqueue(commons.Message{Type: commons.ErrorMessage, Text: "operation message without operation"})
		return
	}

	h.withRoom(c, func(rm *room) {
		rm.session.LastActivity = time.Now()
		op := *msg.Operation

		if op.Kind == commons.OpDelete {
			if other, ok := rm.overlappingDelete(op, h.cfg.ConflictWindow); ok {
				conflictID := uuid.New()
				rm.conflicts[conflictID] = conflictRecord{operationID: op.ID, issuer: c.participantID}
				c.enqueue(commons.Message{
					Type:      commons.ConflictDetectedMessage,
					SessionID: rm.session.ID,
					Conflict: &commons.Conflict{
						ID:          conflictID,
						Description: "delete overlaps a concurrent delete from another participant",
						Operations:  []commons.Operation{op, other},
					},
				})
				return
			}
			rm.rememberDelete(op)
		}

		c.enqueue(commons.Message{
			Type:        commons.OperationAckMessage,
			SessionID:   rm.session.ID,
			OperationID: op.ID,
		})
		h.broadcast(rm, c, msg)
	})
}

// overlappingDelete reports a delete from another participant inside the
// conflict window whose range overlaps op's.
func (rm *room) overlappingDelete(op commons.Operation, window time.Duration) (commons.Operation, bool) {
	cutoff := time.Now().Add(-window)
	for _, rec := range rm.recentDeletes {
		if rec.at.Before(cutoff) {
			continue
		}
		if rec.op.ParticipantID == op.ParticipantID {
			continue
		}
		if op.Position < rec.op.End() && rec.op.Position < op.End() {
			return rec.op, true
		}
	}
	return commons.Operation{}, false
}

func (rm *room) rememberDelete(op commons.Operation) {
	rm.recentDeletes = append(rm.recentDeletes, deleteRecord{op: op, at: time.Now()})

	// Trim stale entries; the window is short so the slice stays small.
	if len(rm.recentDeletes) > 64 {
		rm.recentDeletes = rm.recentDeletes[len(rm.recentDeletes)-64:]
	}
}

// leave acknowledges and removes the participant.
func (h *Hub) leave(c *client) {
	c.enqueue(commons.Message{Type: commons.SessionLeftMessage})
	h.removeParticipant(c, true)
}

// dropClient handles a vanished connection: the participant is marked
// offline but kept in the roster until the heartbeat reaper gives up on a
// reconnect.
func (h *Hub) dropClient(c *client) {
	h.withRoom(c, func(rm *room) {
		delete(rm.clients, c.participantID)
		for i := range rm.session.Participants {
			if rm.session.Participants[i].ID == c.participantID {
				rm.session.Participants[i].Online = false
			}
		}
	})
}

// removeParticipant fully removes a participant and tells the room.
func (h *Hub) removeParticipant(c *client, announce bool) {
	if c.participantID == uuid.Nil {
		return
	}

	h.mu.Lock()
	rm, ok := h.rooms[c.projectID]
	if ok {
		delete(rm.clients, c.participantID)
		for i := range rm.session.Participants {
			if rm.session.Participants[i].ID == c.participantID {
				rm.session.Participants = append(rm.session.Participants[:i], rm.session.Participants[i+1:]...)
				break
			}
		}
		if announce {
			h.broadcast(rm, c, commons.Message{
				Type:          commons.UserLeftMessage,
				SessionID:     rm.session.ID,
				ParticipantID: c.participantID,
			})
		}
		if len(rm.clients) == 0 && len(rm.session.Participants) == 0 {
			delete(h.rooms, c.projectID)
		}
	}
	h.mu.Unlock()

	if c.participantID != uuid.Nil {
		h.mirror.Remove(context.Background(), c.projectID, c.participantID)
	}
	c.participantID = uuid.Nil
	c.projectID = ""
}

// withRoom runs fn with the client's room under the hub lock.
func (h *Hub) withRoom(c *client, fn func(*room)) {
	if c.participantID == uuid.Nil {
		c.enqueue(commons.Message{Type: commons.ErrorMessage, Text: "not in a session"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[c.projectID]
	if !ok {
		return
	}
	fn(rm)
}

// broadcast fans a message out to every client in the room except origin.
// Callers hold the hub lock.
func (h *Hub) broadcast(rm *room, origin *client, msg commons.Message) {
	for id, peer := range rm.clients {
		if origin != nil && id == origin.participantID {
			continue
		}
		peer.enqueue(msg)
	}
}

// reapLoop expires participants whose heartbeats stopped. Suspends with
// the process; stop is closed on shutdown.
func (h *Hub) reapLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.reap(time.Now())
		}
	}
}

// reap removes participants not seen within the heartbeat timeout and
// announces their departure.
func (h *Hub) reap(now time.Time) {
	cutoff := now.Add(-h.cfg.HeartbeatTimeout)

	h.mu.Lock()
	defer h.mu.Unlock()

	for projectID, rm := range h.rooms {
		kept := rm.session.Participants[:0]
		for _, p := range rm.session.Participants {
			if p.LastSeen.After(cutoff) {
				kept = append(kept, p)
				continue
			}
			if peer, ok := rm.clients[p.ID]; ok {
				delete(rm.clients, p.ID)
				_ = peer.conn.Close()
			}
			h.broadcast(rm, nil, commons.Message{
				Type:          commons.UserLeftMessage,
				SessionID:     rm.session.ID,
				ParticipantID: p.ID,
			})
			h.logger.WithFields(logrus.Fields{"project": projectID, "participant": p.ID}).Info("participant reaped")
		}
		rm.session.Participants = kept

		if len(rm.clients) == 0 && len(rm.session.Participants) == 0 {
			delete(h.rooms, projectID)
		}
	}
}
