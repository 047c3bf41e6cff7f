package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type fakeVerifier struct {
	valid map[string]string
}

func (f *fakeVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	userID, ok := f.valid[token]
	if !ok {
		return "", newError(ErrInvalidToken, nil)
	}
	return userID, nil
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	s := NewServer(cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		_, _ = s.EstablishConnection(r.Context(), conn)
	})
	return s, httptest.NewServer(mux)
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + srv.URL[len("http"):] + "/gateway"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	return conn
}

// TestHappyPath covers S1: connect, receive Hello, Identify with a valid
// token, receive READY.
func TestHappyPath(t *testing.T) {
	_, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{"VALID": "user-1"}},
		HandshakeTimeout: time.Second,
		HeartbeatTimeout: time.Second,
	})
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	cc := newConnection(conn)
	ctx := context.Background()

	hello, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving hello: %v", err)
	}
	if hello.Op != OpHello {
		t.Fatalf("first message op = %d, want OpHello", hello.Op)
	}

	if err := cc.Send(ctx, GatewayMessage{Op: OpIdentify, Data: mustMarshalJSON(IdentifyPayload{Token: "VALID"})}); err != nil {
		t.Fatalf("sending identify: %v", err)
	}

	ready, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving ready dispatch: %v", err)
	}
	if ready.Op != OpDispatch || ready.Type != "READY" {
		t.Fatalf("unexpected ready frame: %+v", ready)
	}
}

// TestBadToken covers S3: an invalid token must close with 4004.
func TestBadToken(t *testing.T) {
	_, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{}},
		HandshakeTimeout: time.Second,
		HeartbeatTimeout: time.Second,
	})
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	cc := newConnection(conn)
	ctx := context.Background()

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}
	if err := cc.Send(ctx, GatewayMessage{Op: OpIdentify, Data: mustMarshalJSON(IdentifyPayload{Token: "BAD"})}); err != nil {
		t.Fatalf("sending identify: %v", err)
	}

	_, err := cc.Receive(ctx)
	if err == nil {
		t.Fatal("expected connection to close after bad token, got no error")
	}
	if websocket.CloseStatus(err) != 4004 {
		t.Errorf("close status = %d, want 4004", websocket.CloseStatus(err))
	}
}

// TestHandshakeTimeout covers S2: silence during the handshake window
// closes with 4009.
func TestHandshakeTimeout(t *testing.T) {
	_, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{}},
		HandshakeTimeout: 30 * time.Millisecond,
		HeartbeatTimeout: time.Second,
	})
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	cc := newConnection(conn)
	ctx := context.Background()

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}

	_, err := cc.Receive(ctx)
	if err == nil {
		t.Fatal("expected connection to close after handshake timeout, got no error")
	}
	if websocket.CloseStatus(err) != 4009 {
		t.Errorf("close status = %d, want 4009", websocket.CloseStatus(err))
	}
}

// TestHeartbeatBeforeIdentify covers S6: a heartbeat sent before Identify
// spawns the handler and gets acked, and a later Identify still succeeds.
func TestHeartbeatBeforeIdentify(t *testing.T) {
	_, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{"VALID": "user-1"}},
		HandshakeTimeout: 2 * time.Second,
		HeartbeatTimeout: 2 * time.Second,
	})
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	cc := newConnection(conn)
	ctx := context.Background()

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}

	if err := cc.Send(ctx, GatewayMessage{Op: OpHeartbeat}); err != nil {
		t.Fatalf("sending heartbeat: %v", err)
	}

	ack, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving heartbeat ack: %v", err)
	}
	if ack.Op != OpHeartbeatAck {
		t.Fatalf("ack op = %d, want OpHeartbeatAck", ack.Op)
	}

	if err := cc.Send(ctx, GatewayMessage{Op: OpIdentify, Data: mustMarshalJSON(IdentifyPayload{Token: "VALID"})}); err != nil {
		t.Fatalf("sending identify: %v", err)
	}

	ready, err := cc.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving ready dispatch: %v", err)
	}
	if ready.Op != OpDispatch || ready.Type != "READY" {
		t.Fatalf("unexpected ready frame: %+v", ready)
	}
}

// TestUnexpectedMessage covers an unrecognized handshake opcode closing
// with ErrUnexpectedMessage's code.
func TestUnexpectedMessage(t *testing.T) {
	_, srv := newTestServer(t, ServerConfig{
		AuthService:      &fakeVerifier{valid: map[string]string{}},
		HandshakeTimeout: time.Second,
		HeartbeatTimeout: time.Second,
	})
	defer srv.Close()

	conn := dialTestServer(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	cc := newConnection(conn)
	ctx := context.Background()

	if _, err := cc.Receive(ctx); err != nil {
		t.Fatalf("receiving hello: %v", err)
	}
	if err := cc.Send(ctx, GatewayMessage{Op: OpVoiceStateUpdate}); err != nil {
		t.Fatalf("sending unexpected opcode: %v", err)
	}

	_, err := cc.Receive(ctx)
	if err == nil {
		t.Fatal("expected connection to close, got no error")
	}
	if websocket.CloseStatus(err) != 4002 {
		t.Errorf("close status = %d, want 4002", websocket.CloseStatus(err))
	}
}
