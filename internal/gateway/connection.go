package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// ErrConnClosed indicates the peer closed the WebSocket, or it was closed
// locally, while a read was in flight.
var ErrConnClosed = errors.New("gateway: connection closed")

// sender is the narrow interface a GatewayClient and HeartbeatHandler need
// from a Connection. Depending on the interface rather than *Connection
// lets tests substitute a fake without standing up a real socket.
type sender interface {
	Send(ctx context.Context, v interface{}) error
}

// Connection wraps an accepted WebSocket. Writes are serialized behind a
// mutex so the main task and the heartbeat task can share one socket
// safely. Reads are never concurrent: only the single goroutine started by
// startFrameReader ever calls Receive for a given Connection.
type Connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{conn: conn}
}

// Send serializes v as JSON and writes it as a single text frame.
func (c *Connection) Send(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding gateway frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Receive blocks for the next text frame and decodes it as a GatewayMessage.
func (c *Connection) Receive(ctx context.Context) (GatewayMessage, error) {
	var msg GatewayMessage
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return msg, classifyReadErr(err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decoding gateway frame: %w", err)
	}
	return msg, nil
}

// Close closes the underlying socket with the given status code and reason.
func (c *Connection) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if websocket.CloseStatus(err) != -1 {
		return ErrConnClosed
	}
	return err
}
