package gateway

import "testing"

func TestNewGatewayUser_SeedsOwnIDAndBroadcast(t *testing.T) {
	u := newGatewayUser("user-1", testLogger())
	if !u.IsSubscribed("user-1") {
		t.Error("user is not subscribed to its own id by default")
	}
	if !u.IsSubscribed(topicBroadcast) {
		t.Error("user is not subscribed to the broadcast topic by default")
	}
	if u.IsSubscribed("some-guild") {
		t.Error("user should not be subscribed to an unrelated topic")
	}
}

func TestGatewayUser_SubscribeUnsubscribe(t *testing.T) {
	u := newGatewayUser("user-1", testLogger())

	u.Subscribe("guild-1")
	if !u.IsSubscribed("guild-1") {
		t.Fatal("expected guild-1 to be subscribed")
	}

	u.Unsubscribe("guild-1")
	if u.IsSubscribed("guild-1") {
		t.Error("expected guild-1 to be unsubscribed")
	}
}

func TestGatewayUser_CannotUnsubscribeOwnIDOrBroadcast(t *testing.T) {
	u := newGatewayUser("user-1", testLogger())

	u.Unsubscribe("user-1")
	if !u.IsSubscribed("user-1") {
		t.Error("own id should not be removable via Unsubscribe")
	}

	u.Unsubscribe(topicBroadcast)
	if !u.IsSubscribed(topicBroadcast) {
		t.Error("broadcast topic should not be removable via Unsubscribe")
	}
}

func TestGatewayUser_AttachDetach(t *testing.T) {
	u := newGatewayUser("user-1", testLogger())
	c1 := &GatewayClient{userID: "user-1", sessionID: "s1"}
	c2 := &GatewayClient{userID: "user-1", sessionID: "s2"}

	u.attach(c1)
	u.attach(c2)
	if u.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", u.ClientCount())
	}

	u.detach(c1)
	if u.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1 after detach", u.ClientCount())
	}
}

func TestGatewayUser_LiveClientCountExcludesDisconnected(t *testing.T) {
	u := newGatewayUser("user-1", testLogger())
	live := &GatewayClient{userID: "user-1", sessionID: "live"}
	disconnected := &GatewayClient{userID: "user-1", sessionID: "gone", disconnect: &disconnectInfo{}}

	u.attach(live)
	u.attach(disconnected)

	if got := u.LiveClientCount(); got != 1 {
		t.Errorf("LiveClientCount() = %d, want 1", got)
	}
	if got := u.ClientCount(); got != 2 {
		t.Errorf("ClientCount() = %d, want 2", got)
	}
}
