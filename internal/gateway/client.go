package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultReplayBufferSize is the default number of recently dispatched
// events retained per client for resume.
const DefaultReplayBufferSize = 1024

// disconnectInfo records when a client's transport failed, anchoring the
// resume grace window.
type disconnectInfo struct {
	at time.Time
}

// GatewayClient is one client session: a socket, the two tasks that serve
// it, and the bounded replay buffer resume needs. It outlives individual
// WebSocket connections across a resume, which is why its connection,
// reader, and task-done channels are all replaceable via splice.
type GatewayClient struct {
	mu sync.Mutex

	userID       string
	sessionID    string
	sessionToken string

	conn   *Connection
	reader *frameReader

	sequence      *sequenceCounter
	sessionIDCell *sessionIDCell
	heartbeats    chan HeartbeatPayload

	replay *replayBuffer

	kill *killSwitch

	mainTaskDone      chan struct{}
	heartbeatTaskDone chan struct{}

	disconnect  *disconnectInfo
	graceWindow time.Duration

	store  *GatewayUsersStore
	logger *slog.Logger
}

func newGatewayClient(userID, sessionID, sessionToken string, conn *Connection, store *GatewayUsersStore, replayCap int, graceWindow time.Duration, logger *slog.Logger) *GatewayClient {
	return &GatewayClient{
		userID:       userID,
		sessionID:    sessionID,
		sessionToken: sessionToken,
		conn:         conn,
		replay:       newReplayBuffer(replayCap),
		graceWindow:  graceWindow,
		store:        store,
		logger:       logger,
	}
}

// SessionID returns the client's session id.
func (c *GatewayClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UserID returns the id of the user this client belongs to.
func (c *GatewayClient) UserID() string { return c.userID }

// Sequence returns the last sequence number dispatched to this client.
func (c *GatewayClient) Sequence() int64 { return c.sequence.current() }

// currentConn returns the connection currently in use, which may change
// across a resume splice.
func (c *GatewayClient) currentConn() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsDisconnected reports whether the client is in the resume-pending state.
func (c *GatewayClient) IsDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect != nil
}

// withinGraceWindow reports whether a disconnected client is still within
// its resume grace window.
func (c *GatewayClient) withinGraceWindow(grace time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnect == nil {
		return false
	}
	return time.Since(c.disconnect.at) <= grace
}

// dispatch assigns the next sequence number, appends the event to the
// replay buffer, and sends it over the connection. A transport failure
// moves the client into the resume-pending state.
func (c *GatewayClient) dispatch(ctx context.Context, eventType string, data json.RawMessage) error {
	c.mu.Lock()
	if c.disconnect != nil {
		c.mu.Unlock()
		return fmt.Errorf("gateway: client %s is disconnected", c.sessionID)
	}
	conn := c.conn
	c.mu.Unlock()

	seq := c.sequence.next()
	c.replay.append(replayEntry{seq: seq, typ: eventType, data: data})

	msg := GatewayMessage{Op: OpDispatch, Type: eventType, Data: data, Seq: seqPtr(seq)}
	if err := conn.Send(ctx, msg); err != nil {
		c.fail()
		return newError(ErrTransport, err)
	}
	return nil
}

// notifyReconnect sends an unsequenced Reconnect opcode, telling a
// well-behaved client to close and resume. Used ahead of a graceful
// shutdown so clients don't have to wait out a dead heartbeat to notice.
func (c *GatewayClient) notifyReconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.disconnect != nil {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()
	return conn.Send(ctx, GatewayMessage{Op: OpReconnect})
}

// fail transitions the client into the resume-pending state and fires its
// kill switch. It is idempotent: repeated transport failures on a client
// that already failed are no-ops beyond the kill signal, which is itself
// idempotent. Called from within the client's own tasks when the
// connection breaks.
func (c *GatewayClient) fail() {
	c.mu.Lock()
	alreadyFailed := c.disconnect != nil
	if !alreadyFailed {
		c.disconnect = &disconnectInfo{at: time.Now()}
	}
	grace := c.graceWindow
	c.mu.Unlock()

	c.kill.Fire()
	if alreadyFailed {
		return
	}

	time.AfterFunc(grace, c.reapIfStillDisconnected)
}

// reapIfStillDisconnected performs final teardown for a client whose
// resume grace window elapsed with no reconnect. It is a no-op if the
// client resumed (or was already reaped) in the meantime.
func (c *GatewayClient) reapIfStillDisconnected() {
	c.mu.Lock()
	disc := c.disconnect
	mainDone, hbDone := c.mainTaskDone, c.heartbeatTaskDone
	conn := c.conn
	c.mu.Unlock()

	if disc == nil {
		return
	}

	if mainDone != nil {
		<-mainDone
	}
	if hbDone != nil {
		<-hbDone
	}
	_ = conn.Close(websocket.StatusNormalClosure, "resume grace window elapsed")

	if user, ok := c.store.get(c.userID); ok {
		c.store.Unregister(user, c)
	}
}

// splice replaces a resume-pending client's connection with a newly
// accepted one, resetting the machinery its tasks depend on so a fresh
// main task and heartbeat handler can be spawned against it. Returns the
// new kill switch those tasks must share.
func (c *GatewayClient) splice(conn *Connection) *killSwitch {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.disconnect = nil
	c.kill = newKillSwitch()
	c.mainTaskDone = make(chan struct{})
	c.heartbeatTaskDone = make(chan struct{})
	return c.kill
}

// close fires kill, waits for both owned tasks to exit, and detaches the
// client from its parent user. Must only be called from outside the
// client's own tasks (e.g. by Server.Shutdown), never from within them, or
// it would deadlock waiting on its own completion.
func (c *GatewayClient) close(reason string) {
	c.mu.Lock()
	kill := c.kill
	mainDone, hbDone := c.mainTaskDone, c.heartbeatTaskDone
	conn := c.conn
	c.mu.Unlock()

	kill.Fire()
	if mainDone != nil {
		<-mainDone
	}
	if hbDone != nil {
		<-hbDone
	}
	_ = conn.Close(websocket.StatusNormalClosure, reason)

	if user, ok := c.store.get(c.userID); ok {
		c.store.Unregister(user, c)
	}
}
