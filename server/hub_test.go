package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkforge/coedit/commons"
)

func newTestServer(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()

	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = time.Minute
	}
	if cfg.ConflictWindow == 0 {
		cfg.ConflictWindow = 2 * time.Second
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = time.Minute
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := newHub(cfg, logger, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.handleConn))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want commons.MessageType) commons.Message {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg commons.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func joinProject(t *testing.T, conn *websocket.Conn, projectID, name string) commons.Message {
	t.Helper()

	err := conn.WriteJSON(commons.Message{
		Type:      commons.JoinSessionMessage,
		ProjectID: projectID,
		Profile:   &commons.Profile{Name: name},
	})
	if err != nil {
		t.Fatalf("send join: %v", err)
	}
	return readUntil(t, conn, commons.SessionJoinedMessage)
}

func TestJoinAssignsIdentity(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	conn := dialServer(t, srv)

	reply := joinProject(t, conn, "novel-42", "ada")

	if reply.ParticipantID == uuid.Nil {
		t.Error("no participant id assigned")
	}
	if reply.Session == nil || reply.Session.ProjectID != "novel-42" {
		t.Fatalf("bad session snapshot: %+v", reply.Session)
	}
	if len(reply.Session.Participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(reply.Session.Participants))
	}
	if reply.Session.Participants[0].Color == "" {
		t.Error("no display color assigned")
	}
}

func TestOperationRelayAndAck(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	first := dialServer(t, srv)
	joinProject(t, first, "novel-42", "ada")

	second := dialServer(t, srv)
	reply := joinProject(t, second, "novel-42", "ben")
	benID := reply.ParticipantID

	// The earlier participant hears about the join.
	joined := readUntil(t, first, commons.UserJoinedMessage)
	if joined.Participant.ID != benID {
		t.Errorf("got join for %v, expected %v", joined.Participant.ID, benID)
	}

	op := commons.Operation{
		ID:            uuid.New(),
		Kind:          commons.OpInsert,
		Position:      5,
		Content:       "X",
		ParticipantID: benID,
		IssuedAt:      time.Now(),
	}
	if err := second.WriteJSON(commons.Message{Type: commons.OperationMessage, SessionID: reply.Session.ID, Operation: &op}); err != nil {
		t.Fatalf("send operation: %v", err)
	}

	ack := readUntil(t, second, commons.OperationAckMessage)
	if ack.OperationID != op.ID {
		t.Errorf("acked %v, expected %v", ack.OperationID, op.ID)
	}

	relayed := readUntil(t, first, commons.OperationMessage)
	if relayed.Operation.ID != op.ID || relayed.Operation.Position != 5 {
		t.Errorf("relay altered the operation: %+v", relayed.Operation)
	}
}

func TestOverlappingDeleteConflict(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	first := dialServer(t, srv)
	firstReply := joinProject(t, first, "novel-42", "ada")

	second := dialServer(t, srv)
	secondReply := joinProject(t, second, "novel-42", "ben")

	delA := commons.Operation{
		ID: uuid.New(), Kind: commons.OpDelete, Position: 5, Length: 3,
		ParticipantID: firstReply.ParticipantID,
	}
	if err := first.WriteJSON(commons.Message{Type: commons.OperationMessage, SessionID: firstReply.Session.ID, Operation: &delA}); err != nil {
		t.Fatalf("send first delete: %v", err)
	}
	readUntil(t, first, commons.OperationAckMessage)

	delB := commons.Operation{
		ID: uuid.New(), Kind: commons.OpDelete, Position: 6, Length: 4,
		ParticipantID: secondReply.ParticipantID,
	}
	if err := second.WriteJSON(commons.Message{Type: commons.OperationMessage, SessionID: secondReply.Session.ID, Operation: &delB}); err != nil {
		t.Fatalf("send second delete: %v", err)
	}

	conflict := readUntil(t, second, commons.ConflictDetectedMessage)
	if len(conflict.Conflict.Operations) != 2 {
		t.Fatalf("expected both contending operations, got %d", len(conflict.Conflict.Operations))
	}
}

// TestResolutionAcksContestedOperation verifies that resolving a bounced
// delete finally acks it, so the issuer can retire it from the
// unacknowledged log instead of re-hitting the conflict forever.
func TestResolutionAcksContestedOperation(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	first := dialServer(t, srv)
	firstReply := joinProject(t, first, "novel-42", "ada")

	second := dialServer(t, srv)
	secondReply := joinProject(t, second, "novel-42", "ben")
	readUntil(t, first, commons.UserJoinedMessage)

	delA := commons.Operation{
		ID: uuid.New(), Kind: commons.OpDelete, Position: 5, Length: 3,
		ParticipantID: firstReply.ParticipantID,
	}
	if err := first.WriteJSON(commons.Message{Type: commons.OperationMessage, SessionID: firstReply.Session.ID, Operation: &delA}); err != nil {
		t.Fatalf("send first delete: %v", err)
	}
	readUntil(t, first, commons.OperationAckMessage)

	delB := commons.Operation{
		ID: uuid.New(), Kind: commons.OpDelete, Position: 6, Length: 4,
		ParticipantID: secondReply.ParticipantID,
	}
	if err := second.WriteJSON(commons.Message{Type: commons.OperationMessage, SessionID: secondReply.Session.ID, Operation: &delB}); err != nil {
		t.Fatalf("send second delete: %v", err)
	}
	conflict := readUntil(t, second, commons.ConflictDetectedMessage)

	err := second.WriteJSON(commons.Message{
		Type:      commons.ResolveConflictMessage,
		SessionID: secondReply.Session.ID,
		Resolution: &commons.Resolution{
			ConflictID:    conflict.Conflict.ID,
			Kind:          commons.ResolveAcceptTheirs,
			ParticipantID: secondReply.ParticipantID,
			ResolvedAt:    time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("send resolution: %v", err)
	}

	ack := readUntil(t, second, commons.OperationAckMessage)
	if ack.OperationID != delB.ID {
		t.Errorf("acked %v, expected the contested operation %v", ack.OperationID, delB.ID)
	}

	resolved := readUntil(t, first, commons.ResolveConflictMessage)
	if resolved.Resolution == nil || resolved.Resolution.ConflictID != conflict.Conflict.ID {
		t.Errorf("resolution not relayed intact: %+v", resolved.Resolution)
	}
}

func TestLeaveAnnounced(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	first := dialServer(t, srv)
	joinProject(t, first, "novel-42", "ada")

	second := dialServer(t, srv)
	reply := joinProject(t, second, "novel-42", "ben")
	readUntil(t, first, commons.UserJoinedMessage)

	err := second.WriteJSON(commons.Message{
		Type:          commons.LeaveSessionMessage,
		SessionID:     reply.Session.ID,
		ParticipantID: reply.ParticipantID,
	})
	if err != nil {
		t.Fatalf("send leave: %v", err)
	}

	readUntil(t, second, commons.SessionLeftMessage)

	left := readUntil(t, first, commons.UserLeftMessage)
	if left.ParticipantID != reply.ParticipantID {
		t.Errorf("got leave for %v, expected %v", left.ParticipantID, reply.ParticipantID)
	}
}

func TestReapSilentParticipant(t *testing.T) {
	hub, srv := newTestServer(t, Config{HeartbeatTimeout: 100 * time.Millisecond})

	first := dialServer(t, srv)
	firstReply := joinProject(t, first, "novel-42", "ada")

	second := dialServer(t, srv)
	secondReply := joinProject(t, second, "novel-42", "ben")
	readUntil(t, first, commons.UserJoinedMessage)

	// Keep the first participant alive past the timeout; leave the second
	// silent.
	time.Sleep(150 * time.Millisecond)
	err := first.WriteJSON(commons.Message{
		Type:          commons.HeartbeatMessage,
		SessionID:     firstReply.Session.ID,
		ParticipantID: firstReply.ParticipantID,
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("send heartbeat: %v", err)
	}

	// Wait for the relay to apply the heartbeat before reaping, so only
	// the silent participant is past the timeout.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		fresh := false
		if rm := hub.rooms["novel-42"]; rm != nil {
			for _, p := range rm.session.Participants {
				if p.ID == firstReply.ParticipantID && time.Since(p.LastSeen) < 50*time.Millisecond {
					fresh = true
				}
			}
		}
		hub.mu.Unlock()
		if fresh {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.reap(time.Now())

	left := readUntil(t, first, commons.UserLeftMessage)
	if left.ParticipantID != secondReply.ParticipantID {
		t.Errorf("reaped %v, expected the silent participant %v", left.ParticipantID, secondReply.ParticipantID)
	}
}
