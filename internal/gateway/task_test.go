package gateway

import (
	"context"
	"testing"
)

func TestRouteInbound_Subscribe(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	user := store.GetOrCreate("user-1")
	client := &GatewayClient{userID: "user-1", sessionID: "sess-1", store: store}
	store.Register(user, client)

	s := &Server{users: store, logger: testLogger()}

	msg := GatewayMessage{Op: OpSubscribe, Data: mustMarshalJSON(SubscribePayload{Add: []string{"guild-1", "guild-2"}})}
	s.routeInbound(context.Background(), client, msg)

	if !user.IsSubscribed("guild-1") || !user.IsSubscribed("guild-2") {
		t.Fatal("expected both guilds to be subscribed")
	}

	msg = GatewayMessage{Op: OpSubscribe, Data: mustMarshalJSON(SubscribePayload{Remove: []string{"guild-1"}})}
	s.routeInbound(context.Background(), client, msg)

	if user.IsSubscribed("guild-1") {
		t.Error("expected guild-1 to be unsubscribed")
	}
	if !user.IsSubscribed("guild-2") {
		t.Error("expected guild-2 to remain subscribed")
	}
}

func TestRouteInbound_UnknownUserIsNoop(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	client := &GatewayClient{userID: "ghost", sessionID: "sess-1", store: store}
	s := &Server{users: store, logger: testLogger()}

	msg := GatewayMessage{Op: OpSubscribe, Data: mustMarshalJSON(SubscribePayload{Add: []string{"guild-1"}})}
	// Should not panic even though "ghost" was never registered.
	s.routeInbound(context.Background(), client, msg)
}

func TestRouteInbound_IgnoresDeferredOpcodes(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	client := &GatewayClient{userID: "user-1", sessionID: "sess-1", store: store}
	s := &Server{users: store, logger: testLogger()}

	for _, op := range []int{OpVoiceStateUpdate, OpPresenceUpdate, OpRequestMembers, OpTyping, 999} {
		s.routeInbound(context.Background(), client, GatewayMessage{Op: op})
	}
}
