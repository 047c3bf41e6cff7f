package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestResumeReplaysMissedEvents(t *testing.T) {
	s, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{"VALID": "user-1"}},
		HandshakeTimeout: 2 * time.Second,
		HeartbeatTimeout: 2 * time.Second,
		ResumeGrace:      time.Second,
		ReplayBufferSize: 16,
	})
	defer srv.Close()

	ctx := context.Background()
	conn := dialTestServer(t, srv)
	cc := newConnection(conn)

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}
	if err := cc.Send(ctx, GatewayMessage{Op: OpIdentify, Data: mustMarshalJSON(IdentifyPayload{Token: "VALID"})}); err != nil {
		t.Fatalf("sending identify: %v", err)
	}
	readyMsg, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving ready: %v", err)
	}
	var ready ReadyPayload
	if err := json.Unmarshal(readyMsg.Data, &ready); err != nil {
		t.Fatalf("decoding ready: %v", err)
	}

	if _, _, ok := s.users.FindResumable(ready.SessionID); ok {
		t.Fatalf("client should still be live, not resumable, right after identify")
	}
	client, ok := s.users.sessions[ready.SessionID]
	if !ok {
		t.Fatalf("session %q not registered", ready.SessionID)
	}

	// Dispatch two events the client will miss once disconnected.
	if err := client.dispatch(ctx, "MESSAGE_CREATE", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	if err := client.dispatch(ctx, "MESSAGE_CREATE", json.RawMessage(`{"id":"2"}`)); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}

	// Simulate a dropped connection without a clean close.
	_ = conn.CloseNow()
	waitUntil(t, time.Second, func() bool { return client.IsDisconnected() })

	// Reconnect and resume from seq 1: READY took seq 1, so the two missed
	// dispatches are seq 2 and 3.
	resumeConn := dialTestServer(t, srv)
	defer resumeConn.Close(websocket.StatusNormalClosure, "")
	rc := newConnection(resumeConn)

	if _, err := rc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello on resume socket: %v", err)
	}
	if err := rc.Send(ctx, GatewayMessage{Op: OpResume, Data: mustMarshalJSON(ResumePayload{
		SessionID: ready.SessionID,
		Token:     "VALID",
		Seq:       1,
	})}); err != nil {
		t.Fatalf("sending resume: %v", err)
	}

	first, err := rc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving first replayed event: %v", err)
	}
	if first.Type != "MESSAGE_CREATE" || first.Seq == nil || *first.Seq != 2 {
		t.Fatalf("unexpected first replayed frame: %+v", first)
	}

	second, err := rc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving second replayed event: %v", err)
	}
	if second.Seq == nil || *second.Seq != 3 {
		t.Fatalf("unexpected second replayed frame: %+v", second)
	}
}

func TestResumeTooOldSendsInvalidSession(t *testing.T) {
	s, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{"VALID": "user-1"}},
		HandshakeTimeout: 2 * time.Second,
		HeartbeatTimeout: 2 * time.Second,
		ResumeGrace:      time.Second,
		ReplayBufferSize: 2,
	})
	defer srv.Close()

	ctx := context.Background()
	conn := dialTestServer(t, srv)
	cc := newConnection(conn)

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}
	if err := cc.Send(ctx, GatewayMessage{Op: OpIdentify, Data: mustMarshalJSON(IdentifyPayload{Token: "VALID"})}); err != nil {
		t.Fatalf("sending identify: %v", err)
	}
	readyMsg, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving ready: %v", err)
	}
	var ready ReadyPayload
	if err := json.Unmarshal(readyMsg.Data, &ready); err != nil {
		t.Fatalf("decoding ready: %v", err)
	}

	client, ok := s.users.sessions[ready.SessionID]
	if !ok {
		t.Fatalf("session %q not registered", ready.SessionID)
	}
	for i := 0; i < 5; i++ {
		if err := client.dispatch(ctx, "X", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	_ = conn.CloseNow()
	waitUntil(t, time.Second, func() bool { return client.IsDisconnected() })

	resumeConn := dialTestServer(t, srv)
	defer resumeConn.Close(websocket.StatusNormalClosure, "")
	rc := newConnection(resumeConn)

	if _, err := rc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello on resume socket: %v", err)
	}
	if err := rc.Send(ctx, GatewayMessage{Op: OpResume, Data: mustMarshalJSON(ResumePayload{
		SessionID: ready.SessionID,
		Token:     "VALID",
		Seq:       1,
	})}); err != nil {
		t.Fatalf("sending resume: %v", err)
	}

	resp, err := rc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving invalid session response: %v", err)
	}
	if resp.Op != OpInvalidSession {
		t.Fatalf("op = %d, want OpInvalidSession", resp.Op)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
