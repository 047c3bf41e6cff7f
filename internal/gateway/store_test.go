package gateway

import "testing"

func TestGatewayUsersStore_GetOrCreateIsIdempotent(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	u1 := store.GetOrCreate("user-1")
	u2 := store.GetOrCreate("user-1")
	if u1 != u2 {
		t.Error("GetOrCreate returned different instances for the same id")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestGatewayUsersStore_RegisterUnregister(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	user := store.GetOrCreate("user-1")
	client := &GatewayClient{userID: "user-1", sessionID: "sess-1", store: store}

	store.Register(user, client)
	if user.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1 after Register", user.ClientCount())
	}
	if _, ok := store.get("user-1"); !ok {
		t.Fatal("user not registered in store")
	}

	store.Unregister(user, client)
	if user.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after Unregister", user.ClientCount())
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0: user with no clients should be removed", store.Len())
	}
}

func TestGatewayUsersStore_FindResumable(t *testing.T) {
	store := NewGatewayUsersStore(testLogger())
	user := store.GetOrCreate("user-1")
	client := &GatewayClient{userID: "user-1", sessionID: "sess-1", store: store}
	store.Register(user, client)

	if _, _, ok := store.FindResumable("sess-1"); ok {
		t.Fatal("a live (non-disconnected) client should not be resumable")
	}

	client.mu.Lock()
	client.disconnect = &disconnectInfo{}
	client.mu.Unlock()

	gotUser, gotClient, ok := store.FindResumable("sess-1")
	if !ok {
		t.Fatal("expected a disconnected client to be resumable")
	}
	if gotUser != user || gotClient != client {
		t.Error("FindResumable returned unexpected user/client")
	}

	if _, _, ok := store.FindResumable("no-such-session"); ok {
		t.Error("expected unknown session id to not be resumable")
	}
}
