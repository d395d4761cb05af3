package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inkforge/coedit/commons"
	"github.com/inkforge/coedit/ot"
	"github.com/inkforge/coedit/transport"
)

// Coordinator owns one session's lifecycle end to end: it drives the
// transport, routes inbound operations through the operational transformer,
// queues outbound operations while disconnected, throttles cursor
// broadcasts, and escalates conflicts to the caller.
//
// A Coordinator is an explicitly constructed instance; transports and
// coordinators are never shared between sessions.
type Coordinator struct {
	tr      transport.Transport
	timings Timings
	logger  *logrus.Logger

	mu          sync.Mutex
	events      Events
	initialized bool
	connected   bool

	sess   *commons.Session
	self   commons.Participant
	log    *ot.Log
	roster *Tracker

	// pending holds operations issued while disconnected, in issue order,
	// for replay on reconnect.
	pending []commons.Operation

	joinWait   chan commons.Message
	joinCancel chan struct{}
	leaveWait  chan struct{}

	pendingCursor *commons.Cursor
	cursorTimer   *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

// Options configures optional Coordinator dependencies.
type Options struct {
	// Timings overrides DefaultTimings when any field is non-zero.
	Timings Timings

	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// New returns a Coordinator over the given transport. The transport must
// be exclusively owned by this instance.
func New(tr transport.Transport, events Events, opts Options) *Coordinator {
	timings := DefaultTimings()
	if opts.Timings.JoinTimeout > 0 {
		timings.JoinTimeout = opts.Timings.JoinTimeout
	}
	if opts.Timings.LeaveTimeout > 0 {
		timings.LeaveTimeout = opts.Timings.LeaveTimeout
	}
	if opts.Timings.HeartbeatInterval > 0 {
		timings.HeartbeatInterval = opts.Timings.HeartbeatInterval
	}
	if opts.Timings.CursorDebounce > 0 {
		timings.CursorDebounce = opts.Timings.CursorDebounce
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Coordinator{
		tr:      tr,
		events:  events,
		timings: timings,
		logger:  logger,
		log:     ot.NewLog(),
		roster:  NewTracker(),
		done:    make(chan struct{}),
	}
}

// Initialize establishes the transport connection and starts the event
// loop. It does not join any session. Re-initializing fails with
// ErrAlreadyInitialized.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.mu.Unlock()

	if err := c.tr.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.connected = true
	c.mu.Unlock()

	go c.run()
	return nil
}

// JoinSession joins the session for the given project and returns the
// server's session snapshot. The server is authoritative for the local
// participant's id and color. It fails with ErrJoinFailed on an explicit
// rejection or after the join timeout.
func (c *Coordinator) JoinSession(projectID string, profile commons.Profile) (*commons.Session, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if c.sess != nil || c.joinWait != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: session already active", ErrJoinFailed)
	}

	wait := make(chan commons.Message, 1)
	cancel := make(chan struct{})
	c.joinWait = wait
	c.joinCancel = cancel
	c.mu.Unlock()

	err := c.tr.Send(commons.Message{
		Type:      commons.JoinSessionMessage,
		ProjectID: projectID,
		Profile:   &profile,
	})
	if err != nil {
		c.clearJoinWait()
		return nil, fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	timer := time.NewTimer(c.timings.JoinTimeout)
	defer timer.Stop()

	select {
	case msg := <-wait:
		if msg.Type == commons.JoinErrorMessage {
			c.clearJoinWait()
			return nil, fmt.Errorf("%w: %s", ErrJoinFailed, msg.Text)
		}
		return c.completeJoin(msg)

	case <-timer.C:
		c.clearJoinWait()
		return nil, fmt.Errorf("%w: no reply within %s", ErrJoinFailed, c.timings.JoinTimeout)

	case <-cancel:
		return nil, fmt.Errorf("%w: canceled", ErrJoinFailed)

	case <-c.done:
		return nil, fmt.Errorf("%w: coordinator shut down", ErrJoinFailed)
	}
}

// completeJoin installs the session snapshot from a session_joined reply.
func (c *Coordinator) completeJoin(msg commons.Message) (*commons.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.joinWait = nil
	c.joinCancel = nil

	if msg.Session == nil {
		return nil, fmt.Errorf("%w: malformed session_joined reply", ErrJoinFailed)
	}

	sess := *msg.Session
	c.sess = &sess
	c.roster.Reset(sess.Participants)

	self, ok := c.roster.Get(msg.ParticipantID)
	if !ok {
		c.sess = nil
		c.roster.Reset(nil)
		return nil, fmt.Errorf("%w: server snapshot is missing the local participant", ErrJoinFailed)
	}
	c.self = self

	snapshot := c.sessionSnapshotLocked()
	return snapshot, nil
}

func (c *Coordinator) clearJoinWait() {
	c.mu.Lock()
	c.joinWait = nil
	c.joinCancel = nil
	c.mu.Unlock()
}

// LeaveSession leaves the current session. It is best-effort: the leave
// request is sent and acknowledged within the leave timeout if the server
// cooperates, but local state is cleared unconditionally either way. It
// also cancels any in-flight join.
func (c *Coordinator) LeaveSession() {
	c.mu.Lock()
	if c.joinCancel != nil {
		close(c.joinCancel)
		c.joinCancel = nil
		c.joinWait = nil
	}
	if c.sess == nil {
		c.mu.Unlock()
		return
	}

	wait := make(chan struct{})
	c.leaveWait = wait
	msg := commons.Message{
		Type:          commons.LeaveSessionMessage,
		SessionID:     c.sess.ID,
		ParticipantID: c.self.ID,
	}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if err := c.tr.Send(msg); err == nil {
			timer := time.NewTimer(c.timings.LeaveTimeout)
			select {
			case <-wait:
			case <-timer.C:
			case <-c.done:
			}
			timer.Stop()
		}
	}

	c.clearSessionState()
}

// clearSessionState drops the session cache, the operation log, the
// pending queue, and any scheduled cursor flush.
func (c *Coordinator) clearSessionState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = nil
	c.self = commons.Participant{}
	c.log.Clear()
	c.pending = nil
	c.roster.Reset(nil)
	c.leaveWait = nil
	c.pendingCursor = nil
	if c.cursorTimer != nil {
		c.cursorTimer.Stop()
		c.cursorTimer = nil
	}
}

// SendOperation stamps the operation with a fresh id, the local
// participant, and an issue timestamp, records it in the operation log,
// and transmits it. While disconnected the operation is queued for replay
// instead. It never blocks on the network beyond the write itself.
func (c *Coordinator) SendOperation(op commons.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return ErrNotInSession
	}

	op.ID = uuid.New()
	op.ParticipantID = c.self.ID
	op.IssuedAt = time.Now()

	c.log.Append(op)

	// Once anything is queued, everything queues behind it; a later op
	// must never overtake an earlier one on the wire.
	if !c.connected || len(c.pending) > 0 {
		c.pending = append(c.pending, op)
		return nil
	}

	msg := commons.Message{
		Type:      commons.OperationMessage,
		SessionID: c.sess.ID,
		Operation: &op,
	}
	if err := c.tr.Send(msg); err != nil {
		// Transient failure: queue for replay, recovery happens on the
		// next reconnect.
		c.logger.Warnf("operation send failed, queued for replay: %v", err)
		c.pending = append(c.pending, op)
	}
	return nil
}

// SendProjectUpdate stamps and transmits a project update. Updates are
// dropped while disconnected rather than queued: later state sync
// supersedes them, unlike text operations.
func (c *Coordinator) SendProjectUpdate(update commons.ProjectUpdate) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return ErrNotInSession
	}

	update.ParticipantID = c.self.ID
	update.IssuedAt = time.Now()

	if !c.connected {
		c.mu.Unlock()
		c.logger.Debugf("dropping project update %s/%s while disconnected", update.Kind, update.Verb)
		return nil
	}

	msg := commons.Message{
		Type:      commons.ProjectUpdateMessage,
		SessionID: c.sess.ID,
		Update:    &update,
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// UpdateCursor schedules an outbound cursor broadcast. Broadcasts are
// debounced to one per window, trailing edge: the most recent value wins.
// A no-op when not in a session.
func (c *Coordinator) UpdateCursor(cursor commons.Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return
	}

	c.pendingCursor = &cursor
	if c.cursorTimer == nil {
		c.cursorTimer = time.AfterFunc(c.timings.CursorDebounce, c.flushCursor)
	}
}

// flushCursor sends the most recent cursor value at the end of a debounce
// window. Cursor updates are dropped while disconnected; they are a
// best-effort presence signal, never part of document consistency.
func (c *Coordinator) flushCursor() {
	c.mu.Lock()
	c.cursorTimer = nil
	cursor := c.pendingCursor
	c.pendingCursor = nil

	if cursor == nil || c.sess == nil || !c.connected {
		c.mu.Unlock()
		return
	}

	msg := commons.Message{
		Type:          commons.CursorUpdateMessage,
		SessionID:     c.sess.ID,
		ParticipantID: c.self.ID,
		Cursor:        cursor,
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		c.logger.Debugf("cursor update dropped: %v", err)
	}
}

// ResolveConflict transmits the caller's resolution for a conflict. It
// does not wait for server confirmation.
func (c *Coordinator) ResolveConflict(conflictID uuid.UUID, resolution commons.Resolution) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return ErrNotInSession
	}

	resolution.ConflictID = conflictID
	resolution.ParticipantID = c.self.ID
	resolution.ResolvedAt = time.Now()

	msg := commons.Message{
		Type:       commons.ResolveConflictMessage,
		SessionID:  c.sess.ID,
		Resolution: &resolution,
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// Disconnect leaves the current session if any, tears down the transport,
// and clears all registered callbacks. The coordinator cannot be reused.
func (c *Coordinator) Disconnect() {
	c.LeaveSession()

	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	c.initialized = false
	c.events = Events{}
	c.mu.Unlock()

	_ = c.tr.Close()
}

// Session returns a copy of the current session snapshot, or nil when not
// in a session.
func (c *Coordinator) Session() *commons.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionSnapshotLocked()
}

func (c *Coordinator) sessionSnapshotLocked() *commons.Session {
	if c.sess == nil {
		return nil
	}
	sess := *c.sess
	sess.Participants = c.roster.All()
	return &sess
}

// Self returns the server-resolved local participant identity.
func (c *Coordinator) Self() commons.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Connected reports whether the coordinator currently believes the
// transport to be up.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PendingOperations returns how many operations await replay.
func (c *Coordinator) PendingOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// UnacknowledgedOperations returns how many issued operations still await
// a server ack.
func (c *Coordinator) UnacknowledgedOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.log.Unacknowledged())
}

// run is the coordinator's single event loop. All inbound transport events
// are serialized here; the heartbeat ticker lives and dies with the
// connected state so it can never outlive a torn-down session.
func (c *Coordinator) run() {
	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time

	stopHeartbeat := func() {
		if heartbeat != nil {
			heartbeat.Stop()
			heartbeat = nil
			heartbeatC = nil
		}
	}
	defer stopHeartbeat()

	for {
		select {
		case <-c.done:
			return

		case status := <-c.tr.Status():
			switch status {
			case transport.StatusConnected:
				stopHeartbeat()
				heartbeat = time.NewTicker(c.timings.HeartbeatInterval)
				heartbeatC = heartbeat.C
				c.handleConnected()
			case transport.StatusReconnecting, transport.StatusDisconnected:
				stopHeartbeat()
				c.handleDisconnected(status)
			}

		case msg := <-c.tr.Messages():
			c.handleMessage(msg)

		case <-heartbeatC:
			c.sendHeartbeat()
		}
	}
}

// handleConnected resumes live sends, replaying the full pending queue in
// original issue order first. The mutex is held across the replay so no
// newly issued operation can interleave with it.
func (c *Coordinator) handleConnected() {
	c.mu.Lock()
	c.connected = true

	for c.sess != nil && len(c.pending) > 0 {
		op := c.pending[0]
		msg := commons.Message{
			Type:      commons.OperationMessage,
			SessionID: c.sess.ID,
			Operation: &op,
		}
		if err := c.tr.Send(msg); err != nil {
			c.logger.Warnf("replay interrupted, %d operations still queued: %v", len(c.pending), err)
			break
		}
		c.pending = c.pending[1:]
	}
	events := c.events
	c.mu.Unlock()

	if events.OnConnectionStatusChanged != nil {
		events.OnConnectionStatusChanged(transport.StatusConnected)
	}
}

// handleDisconnected suppresses outbound sends until the transport
// recovers. The session is deliberately kept: a transport outage is not a
// leave.
func (c *Coordinator) handleDisconnected(status transport.Status) {
	c.mu.Lock()
	c.connected = false
	events := c.events
	c.mu.Unlock()

	if events.OnConnectionStatusChanged != nil {
		events.OnConnectionStatusChanged(status)
	}
}

func (c *Coordinator) sendHeartbeat() {
	c.mu.Lock()
	if c.sess == nil || !c.connected {
		c.mu.Unlock()
		return
	}
	msg := commons.Message{
		Type:          commons.HeartbeatMessage,
		SessionID:     c.sess.ID,
		ParticipantID: c.self.ID,
		Timestamp:     time.Now(),
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		c.logger.Debugf("heartbeat dropped: %v", err)
	}
}

// handleMessage routes one inbound message. Session-scoped messages are
// only processed while a session is active.
func (c *Coordinator) handleMessage(msg commons.Message) {
	switch msg.Type {
	case commons.SessionJoinedMessage, commons.JoinErrorMessage:
		c.mu.Lock()
		wait := c.joinWait
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait <- msg:
			default:
			}
		}

	case commons.SessionLeftMessage:
		c.mu.Lock()
		wait := c.leaveWait
		c.leaveWait = nil
		c.mu.Unlock()
		if wait != nil {
			close(wait)
		}

	case commons.OperationMessage:
		c.handleRemoteOperation(msg)

	case commons.OperationAckMessage:
		c.mu.Lock()
		if c.sess != nil && !c.log.Ack(msg.OperationID) {
			c.logger.Debugf("ack for unknown operation %s", msg.OperationID)
		}
		c.mu.Unlock()

	case commons.UserJoinedMessage:
		c.mu.Lock()
		var joined *commons.Participant
		if c.sess != nil && msg.Participant != nil {
			p := *msg.Participant
			c.roster.Join(p)
			c.sess.LastActivity = time.Now()
			joined = &p
		}
		events := c.events
		c.mu.Unlock()
		if joined != nil && events.OnUserJoined != nil {
			events.OnUserJoined(*joined)
		}

	case commons.UserLeftMessage:
		c.mu.Lock()
		left := c.sess != nil && c.roster.Leave(msg.ParticipantID)
		if left {
			c.sess.LastActivity = time.Now()
		}
		events := c.events
		c.mu.Unlock()
		if left && events.OnUserLeft != nil {
			events.OnUserLeft(msg.ParticipantID)
		}

	case commons.CursorUpdateMessage:
		c.mu.Lock()
		known := c.sess != nil && c.roster.SetCursor(msg.ParticipantID, msg.Cursor)
		if known {
			c.roster.Touch(msg.ParticipantID, time.Now())
		}
		events := c.events
		c.mu.Unlock()
		if known && events.OnUserCursorUpdate != nil {
			events.OnUserCursorUpdate(msg.ParticipantID, msg.Cursor)
		}

	case commons.ProjectUpdateMessage:
		c.mu.Lock()
		inSession := c.sess != nil && msg.Update != nil
		if inSession {
			c.sess.LastActivity = time.Now()
		}
		events := c.events
		c.mu.Unlock()
		if inSession && events.OnProjectUpdate != nil {
			events.OnProjectUpdate(*msg.Update)
		}

	case commons.ConflictDetectedMessage:
		// Stateless relay: the caller decides and answers through
		// ResolveConflict.
		c.mu.Lock()
		inSession := c.sess != nil && msg.Conflict != nil
		events := c.events
		c.mu.Unlock()
		if inSession && events.OnConflictDetected != nil {
			events.OnConflictDetected(*msg.Conflict)
		}

	case commons.ErrorMessage:
		c.emitError(fmt.Errorf("server error: %s", msg.Text))

	default:
		c.emitError(fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// handleRemoteOperation transforms an inbound operation against the
// current unacknowledged log and hands it to the caller. A transform that
// is not well-defined is escalated as a conflict, never silently applied.
func (c *Coordinator) handleRemoteOperation(msg commons.Message) {
	c.mu.Lock()
	if c.sess == nil || msg.Operation == nil {
		c.mu.Unlock()
		return
	}

	remote := *msg.Operation
	if remote.ParticipantID == c.self.ID {
		// The relay does not echo local operations; ignore any that slip
		// through.
		c.mu.Unlock()
		return
	}

	c.sess.LastActivity = time.Now()
	transformed, err := ot.Transform(remote, c.log.Unacknowledged())
	events := c.events
	c.mu.Unlock()

	if err != nil {
		conflict := commons.Conflict{
			ID:          uuid.New(),
			Description: "concurrent overlapping deletes cannot be merged automatically",
			Operations:  []commons.Operation{remote},
		}
		if overlap, ok := err.(*ot.OverlapError); ok {
			conflict.Operations = []commons.Operation{overlap.Remote, overlap.Local}
		}
		if events.OnConflictDetected != nil {
			events.OnConflictDetected(conflict)
		}
		return
	}

	if events.OnOperationReceived != nil {
		events.OnOperationReceived(transformed)
	}
}

func (c *Coordinator) emitError(err error) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	c.logger.Warnf("%v", err)
	if events.OnError != nil {
		events.OnError(err)
	}
}
