package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
)

// runGatewayTask is a client's inbound loop: it owns the connection's
// single reader for the life of the session (handed off from the handshake
// or a resume splice) and routes frames to the heartbeat handler, the
// subscription set, or triggers teardown on close/transport failure.
func runGatewayTask(ctx context.Context, s *Server, c *GatewayClient) {
	for {
		select {
		case <-c.kill.Done():
			return
		case res, ok := <-c.reader.C():
			if !ok || res.err != nil {
				c.fail()
				s.onClientDetached(c.UserID())
				return
			}
			s.routeInbound(ctx, c, res.msg)
			c.reader = startFrameReader(ctx, c.currentConn())
		}
	}
}

func (s *Server) routeInbound(ctx context.Context, c *GatewayClient, msg GatewayMessage) {
	switch msg.Op {
	case OpHeartbeat:
		var hb HeartbeatPayload
		_ = json.Unmarshal(msg.Data, &hb)
		select {
		case c.heartbeats <- hb:
		default:
			s.logger.Warn("dropping heartbeat, handler not keeping up",
				slog.String("session_id", c.SessionID()))
		}
		if s.cache != nil {
			if err := s.cache.RefreshPresence(ctx, c.UserID()); err != nil {
				s.logger.Debug("failed to refresh presence", slog.String("user_id", c.UserID()), slog.String("error", err.Error()))
			}
		}

	case OpSubscribe:
		var sub SubscribePayload
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			s.logger.Debug("ignoring malformed subscribe frame", slog.String("session_id", c.SessionID()))
			return
		}
		user, ok := s.users.get(c.UserID())
		if !ok {
			return
		}
		for _, topic := range sub.Add {
			user.Subscribe(topic)
		}
		for _, topic := range sub.Remove {
			user.Unsubscribe(topic)
		}

	case OpVoiceStateUpdate, OpPresenceUpdate, OpRequestMembers, OpTyping:
		// Owned by other subsystems (voice, presence, search); the
		// gateway's job here is only to keep the connection alive and
		// ignore what it doesn't process itself.
		s.logger.Debug("ignoring opcode handled elsewhere", slog.Int("op", msg.Op))

	default:
		s.logger.Debug("ignoring unrecognized opcode",
			slog.Int("op", msg.Op), slog.String("session_id", c.SessionID()))
	}
}
