package gateway

import (
	"context"
	"fmt"
)

// ResumeConnection reattaches a new socket to a resume-pending
// GatewayClient: verify the token, locate the client by session id, splice
// the connection in, and replay everything it missed.
func (s *Server) ResumeConnection(ctx context.Context, conn *Connection, resume ResumePayload) (*NewConnection, error) {
	userID, err := s.auth.VerifyToken(ctx, resume.Token)
	if err != nil {
		s.sendInvalidSession(ctx, conn)
		return nil, newError(ErrInvalidToken, err)
	}

	user, client, ok := s.users.FindResumable(resume.SessionID)
	if !ok || client.UserID() != userID {
		s.sendInvalidSession(ctx, conn)
		return nil, newError(ErrCannotResume, fmt.Errorf("no resumable session %q", resume.SessionID))
	}

	if !client.withinGraceWindow(s.cfg.ResumeGrace) {
		s.sendInvalidSession(ctx, conn)
		return nil, newError(ErrCannotResume, fmt.Errorf("resume grace window elapsed for %q", resume.SessionID))
	}

	missed, ok := client.replay.since(resume.Seq)
	if !ok {
		s.sendInvalidSession(ctx, conn)
		return nil, newError(ErrCannotResume, fmt.Errorf("sequence %d is older than the replay buffer holds", resume.Seq))
	}

	kill := client.splice(conn)
	connCtx, cancelConn := context.WithCancel(ctx)
	go func() {
		<-kill.Done()
		cancelConn()
	}()

	reader := startFrameReader(connCtx, conn)
	heartbeats := make(chan HeartbeatPayload, 4)

	client.mu.Lock()
	client.reader = reader
	client.heartbeats = heartbeats
	mainDone, hbDone := client.mainTaskDone, client.heartbeatTaskDone
	client.mu.Unlock()

	heartbeatHandler := newHeartbeatHandler(conn, s.cfg.HeartbeatTimeout, heartbeats, kill, client.sequence, client.sessionIDCell, s.logger)
	go func() {
		defer close(hbDone)
		heartbeatHandler.run(connCtx)
	}()

	go func() {
		defer close(mainDone)
		runGatewayTask(connCtx, s, client)
	}()

	s.onClientAttached(user)

	for _, entry := range missed {
		msg := GatewayMessage{Op: OpDispatch, Type: entry.typ, Data: entry.data, Seq: seqPtr(entry.seq)}
		if err := conn.Send(ctx, msg); err != nil {
			client.fail()
			return nil, newError(ErrTransport, err)
		}
	}

	return &NewConnection{User: user, Client: client}, nil
}

func (s *Server) sendInvalidSession(ctx context.Context, conn *Connection) {
	_ = conn.Send(ctx, GatewayMessage{Op: OpInvalidSession})
}
