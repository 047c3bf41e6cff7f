package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestConnection_SendReceiveRoundTrip(t *testing.T) {
	serverConn, clientConn, closeAll := connPair(t)
	defer closeAll()

	ctx := context.Background()
	want := GatewayMessage{Op: OpHello, Data: mustMarshalJSON(HelloPayload{HeartbeatInterval: 45000})}
	if err := serverConn.Send(ctx, want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, data, err := clientConn.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var got GatewayMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Op != OpHello {
		t.Errorf("Op = %d, want %d", got.Op, OpHello)
	}
}

func TestConnection_ReceiveClassifiesCloseAsConnClosed(t *testing.T) {
	serverConn, clientConn, closeAll := connPair(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = clientConn.Close(websocket.StatusNormalClosure, "bye")
	}()

	_, err := serverConn.Receive(ctx)
	if err == nil {
		t.Fatal("expected an error once the peer closes")
	}
	if err != ErrConnClosed {
		t.Errorf("Receive error = %v, want ErrConnClosed", err)
	}
}
