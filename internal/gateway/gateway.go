// Package gateway implements AmityVox's real-time WebSocket gateway: the
// connection handshake, heartbeat supervision, live event dispatch, and
// session resume that together keep a client's view of the instance in
// sync without polling the REST API.
//
// A client connects, receives Hello, and must send a Heartbeat, Identify,
// or Resume frame before the handshake timeout elapses. Identify starts a
// fresh session; Resume reattaches to one that survived a transient
// disconnect. Once established, the gateway fans events published on the
// internal event bus out to every subscribed client and acks heartbeats to
// keep the connection alive.
package gateway

import "encoding/json"

// Gateway opcodes. Numbered to match the protocol spoken by the bundled Go
// SDK and any Discord-gateway-compatible client.
const (
	OpDispatch         = 0
	OpHeartbeat        = 1
	OpIdentify         = 2
	OpPresenceUpdate   = 3
	OpVoiceStateUpdate = 4
	OpResume           = 6
	OpReconnect        = 7
	OpRequestMembers   = 8
	OpInvalidSession   = 9
	OpHello            = 10
	OpHeartbeatAck     = 11
	OpTyping           = 12
	OpSubscribe        = 13
)

// GatewayMessage is the envelope for every frame exchanged over a gateway
// WebSocket connection.
type GatewayMessage struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
}

// IdentifyPayload is the opcode 2 payload a client sends to authenticate a
// new session.
type IdentifyPayload struct {
	Token   string `json:"token"`
	Intents int64  `json:"intents,omitempty"`
}

// HelloPayload is the opcode 10 payload sent immediately after the
// WebSocket upgrade, advertising the heartbeat interval the client must
// honor.
type HelloPayload struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// ResumePayload is the opcode 6 payload a client sends to reattach to a
// prior session after a transient disconnect.
type ResumePayload struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Seq       int64  `json:"seq"`
}

// HeartbeatPayload is the opcode 1 payload. Seq is nil until the client has
// received at least one dispatch.
type HeartbeatPayload struct {
	Seq *int64 `json:"d"`
}

// ReadyPayload is the opcode 0 "READY" dispatch sent once a session is
// fully established.
type ReadyPayload struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	GuildIDs  []string `json:"guild_ids"`
}

// SubscribePayload is the opcode 13 payload a client sends to add or remove
// topics from its subscription set.
type SubscribePayload struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func mustMarshalJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("gateway: marshaling well-known payload: " + err.Error())
	}
	return data
}

func seqPtr(v int64) *int64 { return &v }
