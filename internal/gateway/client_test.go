package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// connPair spins up a minimal WebSocket echo server and returns the
// server-side Connection plus the raw client-side *websocket.Conn, for
// tests that need a real socket rather than a fake sender.
func connPair(t *testing.T) (server *Connection, client *websocket.Conn, closeAll func()) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		serverCh <- conn
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + srv.URL[len("http"):] + "/"
	clientConn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}

	serverConn := <-serverCh
	return newConnection(serverConn), clientConn, func() {
		_ = clientConn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
	}
}

func TestGatewayClient_DispatchAssignsSequenceAndReplays(t *testing.T) {
	serverConn, clientConn, closeAll := connPair(t)
	defer closeAll()

	store := NewGatewayUsersStore(testLogger())
	client := newGatewayClient("user-1", "sess-1", "tok", serverConn, store, 16, time.Minute, testLogger())
	client.sequence = &sequenceCounter{}

	ctx := context.Background()
	if err := client.dispatch(ctx, "MESSAGE_CREATE", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	_, data, err := clientConn.Read(ctx)
	if err != nil {
		t.Fatalf("reading dispatched frame: %v", err)
	}
	var msg GatewayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if msg.Op != OpDispatch || msg.Type != "MESSAGE_CREATE" || msg.Seq == nil || *msg.Seq != 1 {
		t.Fatalf("unexpected dispatched frame: %+v", msg)
	}

	entries, ok := client.replay.since(0)
	if !ok || len(entries) != 1 || entries[0].seq != 1 {
		t.Errorf("expected replay buffer to hold the dispatched event, got %+v ok=%v", entries, ok)
	}
}

func TestGatewayClient_WithinGraceWindow(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	client := newGatewayClient("user-1", "sess-1", "tok", nil, store, 16, time.Minute, testLogger())

	if client.withinGraceWindow(time.Minute) {
		t.Error("a live client should not report within grace window")
	}

	client.mu.Lock()
	client.disconnect = &disconnectInfo{at: time.Now()}
	client.mu.Unlock()

	if !client.withinGraceWindow(time.Minute) {
		t.Error("expected a just-disconnected client to be within its grace window")
	}

	client.mu.Lock()
	client.disconnect = &disconnectInfo{at: time.Now().Add(-2 * time.Minute)}
	client.mu.Unlock()

	if client.withinGraceWindow(time.Minute) {
		t.Error("expected a long-disconnected client to be outside its grace window")
	}
}

func TestGatewayClient_FailIsIdempotent(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	client := newGatewayClient("user-1", "sess-1", "tok", nil, store, 16, time.Hour, testLogger())
	client.kill = newKillSwitch()

	client.fail()
	firstDisconnect := client.disconnect

	client.fail()
	if client.disconnect != firstDisconnect {
		t.Error("fail() replaced the disconnect marker on a second call")
	}
	if !client.kill.Fired() {
		t.Error("expected kill switch to be fired after fail()")
	}
}

func TestGatewayClient_Splice(t *testing.T) {
	serverConn, _, closeAll := connPair(t)
	defer closeAll()

	store := NewGatewayUsersStore(testLogger())
	client := newGatewayClient("user-1", "sess-1", "tok", nil, store, 16, time.Minute, testLogger())
	client.kill = newKillSwitch()
	client.disconnect = &disconnectInfo{at: time.Now()}

	oldKill := client.kill
	newKill := client.splice(serverConn)

	if newKill == oldKill {
		t.Error("splice did not install a new kill switch")
	}
	if client.IsDisconnected() {
		t.Error("splice should clear the disconnected state")
	}
	if client.conn != serverConn {
		t.Error("splice did not install the new connection")
	}
}
