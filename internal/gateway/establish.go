package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/amityvox/amityvox/internal/models"
)

// NewConnection is returned once a session is fully admitted, by either
// EstablishConnection or ResumeConnection.
type NewConnection struct {
	User   *GatewayUser
	Client *GatewayClient
}

type handshakeFrameKind int

const (
	frameUnknown handshakeFrameKind = iota
	frameHeartbeat
	frameIdentify
	frameResumeFrame
)

// decodeHandshakeFrame classifies a handshake-phase frame by its opcode.
// Using the envelope's self-describing op field (rather than trying each
// payload shape in turn) gives unambiguous Heartbeat/Identify/Resume
// precedence for any compliant client.
func decodeHandshakeFrame(msg GatewayMessage) (interface{}, handshakeFrameKind) {
	switch msg.Op {
	case OpHeartbeat:
		var hb HeartbeatPayload
		_ = json.Unmarshal(msg.Data, &hb)
		return hb, frameHeartbeat
	case OpIdentify:
		var id IdentifyPayload
		if err := json.Unmarshal(msg.Data, &id); err != nil {
			return nil, frameUnknown
		}
		return id, frameIdentify
	case OpResume:
		var r ResumePayload
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return nil, frameUnknown
		}
		return r, frameResumeFrame
	default:
		return nil, frameUnknown
	}
}

// EstablishConnection performs the WebSocket handshake: send Hello, then
// race the handshake timeout against the arrival of a recognized
// Heartbeat, Identify, or Resume frame. A heartbeat received before
// Identify lazily spawns the HeartbeatHandler so a well-behaved client
// that heartbeats early is never killed for it.
func (s *Server) EstablishConnection(ctx context.Context, rawConn *websocket.Conn) (*NewConnection, error) {
	conn := newConnection(rawConn)

	hello := GatewayMessage{Op: OpHello, Data: mustMarshalJSON(HelloPayload{
		HeartbeatInterval: int(s.cfg.HeartbeatInterval.Milliseconds()),
	})}
	if err := conn.Send(ctx, hello); err != nil {
		return nil, newError(ErrHandshakeFailed, fmt.Errorf("sending hello: %w", err))
	}

	kill := newKillSwitch()
	connCtx, cancelConn := context.WithCancel(ctx)
	go func() {
		<-kill.Done()
		cancelConn()
	}()

	// The handshake-phase reader is bound to ctx, never connCtx: firing
	// kill here (to stop a handshake-spawned heartbeat handler ahead of a
	// Resume handoff) must not cancel a Read in flight on the same socket
	// ResumeConnection is about to take over.
	reader := startFrameReader(ctx, conn)
	heartbeats := make(chan HeartbeatPayload, 4)
	sequence := &sequenceCounter{}
	sessionCell := &sessionIDCell{}

	deadline := time.NewTimer(s.cfg.HandshakeTimeout)
	defer deadline.Stop()

	var heartbeatHandler *HeartbeatHandler
	var heartbeatDone chan struct{}

	spawnHeartbeat := func() {
		heartbeatHandler = newHeartbeatHandler(conn, s.cfg.HeartbeatTimeout, heartbeats, kill, sequence, sessionCell, s.logger)
		heartbeatDone = make(chan struct{})
		go func() {
			defer close(heartbeatDone)
			heartbeatHandler.run(connCtx)
		}()
	}

	for {
		select {
		case <-kill.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed during handshake")
			return nil, newError(ErrClosed, nil)

		case <-deadline.C:
			kill.Fire()
			_ = conn.Close(ErrTimeout.CloseCode(), "handshake timed out")
			return nil, newError(ErrTimeout, nil)

		case <-ctx.Done():
			kill.Fire()
			return nil, newError(ErrClosed, ctx.Err())

		case res, ok := <-reader.C():
			if !ok || res.err != nil {
				kill.Fire()
				err := res.err
				if err == nil {
					err = ErrConnClosed
				}
				if errors.Is(err, ErrConnClosed) {
					return nil, newError(ErrClosed, err)
				}
				return nil, newError(ErrHandshakeFailed, err)
			}

			payload, kind := decodeHandshakeFrame(res.msg)
			switch kind {
			case frameHeartbeat:
				if heartbeatHandler == nil {
					spawnHeartbeat()
				}
				select {
				case heartbeats <- payload.(HeartbeatPayload):
				default:
					s.logger.Warn("dropping heartbeat during handshake, handler not keeping up")
				}
				reader = startFrameReader(ctx, conn)

			case frameIdentify:
				identify := payload.(IdentifyPayload)
				userID, err := s.auth.VerifyToken(ctx, identify.Token)
				if err != nil {
					kill.Fire()
					_ = conn.Close(ErrInvalidToken.CloseCode(), "invalid token")
					return nil, newError(ErrInvalidToken, err)
				}

				sessionID := models.NewULID().String()
				sessionCell.set(sessionID)

				user := s.users.GetOrCreate(userID)
				client := newGatewayClient(userID, sessionID, identify.Token, conn, s.users, s.cfg.ReplayBufferSize, s.cfg.ResumeGrace, s.logger)
				client.sequence = sequence
				client.sessionIDCell = sessionCell
				client.kill = kill
				client.reader = startFrameReader(connCtx, conn)
				client.heartbeats = heartbeats

				if heartbeatHandler == nil {
					spawnHeartbeat()
				}
				client.heartbeatTaskDone = heartbeatDone
				client.mainTaskDone = make(chan struct{})
				go func() {
					defer close(client.mainTaskDone)
					runGatewayTask(connCtx, s, client)
				}()

				s.users.Register(user, client)
				s.onClientAttached(user)
				s.seedSubscriptions(ctx, user, client)

				return &NewConnection{User: user, Client: client}, nil

			case frameResumeFrame:
				resume := payload.(ResumePayload)
				// Stops the handshake's heartbeat handler, if one was
				// spawned, without touching conn: the reader that just
				// delivered this frame has already returned and nothing
				// else is reading from this socket yet, so there's no
				// need to cancel anything to hand it to ResumeConnection.
				kill.Fire()
				return s.ResumeConnection(ctx, conn, resume)

			default:
				kill.Fire()
				_ = conn.Close(ErrUnexpectedMessage.CloseCode(), "unexpected message")
				return nil, newError(ErrUnexpectedMessage, nil)
			}
		}
	}
}
