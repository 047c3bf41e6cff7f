package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type heartbeatState int32

const (
	heartbeatIdle heartbeatState = iota
	heartbeatLive
	heartbeatDead
)

// HeartbeatHandler implements the per-client liveness state machine: Idle
// until the first heartbeat arrives, Live as long as heartbeats keep
// arriving within the configured timeout, Dead (and killing the client)
// once they stop. It is spawned lazily, the first time a client heartbeats,
// and shares its kill switch with the client's main task so either one
// tearing down takes the other with it.
type HeartbeatHandler struct {
	conn       sender
	timeout    time.Duration
	heartbeats <-chan HeartbeatPayload
	kill       *killSwitch
	sequence   *sequenceCounter
	sessionID  *sessionIDCell
	logger     *slog.Logger

	state atomic.Int32
}

func newHeartbeatHandler(conn sender, timeout time.Duration, heartbeats <-chan HeartbeatPayload, kill *killSwitch, sequence *sequenceCounter, sessionID *sessionIDCell, logger *slog.Logger) *HeartbeatHandler {
	h := &HeartbeatHandler{
		conn:       conn,
		timeout:    timeout,
		heartbeats: heartbeats,
		kill:       kill,
		sequence:   sequence,
		sessionID:  sessionID,
		logger:     logger,
	}
	h.state.Store(int32(heartbeatIdle))
	return h
}

// State reports the handler's current liveness state. Exported for tests.
func (h *HeartbeatHandler) State() heartbeatState { return heartbeatState(h.state.Load()) }

// run is the handler's main loop. It returns when the timeout elapses with
// no heartbeat, when ctx is canceled, or when an external kill is observed.
func (h *HeartbeatHandler) run(ctx context.Context) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case <-h.kill.Done():
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			h.logger.Debug("heartbeat timed out, killing client",
				slog.String("session_id", h.sessionID.get()))
			h.state.Store(int32(heartbeatDead))
			h.kill.Fire()
			return
		case _, ok := <-h.heartbeats:
			if !ok {
				return
			}
			h.state.Store(int32(heartbeatLive))
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.timeout)

			ack := GatewayMessage{Op: OpHeartbeatAck, Seq: seqPtr(h.sequence.current())}
			if err := h.conn.Send(ctx, ack); err != nil {
				h.logger.Debug("failed to send heartbeat ack",
					slog.String("session_id", h.sessionID.get()),
					slog.String("error", err.Error()))
				h.kill.Fire()
				return
			}
		}
	}
}
