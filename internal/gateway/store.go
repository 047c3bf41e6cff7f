package gateway

import (
	"log/slog"
	"sync"
)

// GatewayUsersStore is the process-wide registry mapping user id to
// GatewayUser, plus a session-id index used to locate resume-pending
// clients without scanning every user. It is the single source of truth a
// GatewayClient resolves its non-owning parent reference through.
type GatewayUsersStore struct {
	mu       sync.Mutex
	users    map[string]*GatewayUser
	sessions map[string]*GatewayClient
	logger   *slog.Logger
}

// NewGatewayUsersStore constructs an empty store.
func NewGatewayUsersStore(logger *slog.Logger) *GatewayUsersStore {
	return &GatewayUsersStore{
		users:    make(map[string]*GatewayUser),
		sessions: make(map[string]*GatewayClient),
		logger:   logger,
	}
}

// GetOrCreate returns the GatewayUser for id, creating and registering one
// if it doesn't already exist. Idempotent.
func (s *GatewayUsersStore) GetOrCreate(id string) *GatewayUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	u := newGatewayUser(id, s.logger)
	s.users[id] = u
	return u
}

// get resolves a previously created GatewayUser by id without creating one.
func (s *GatewayUsersStore) get(id string) (*GatewayUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// Register attaches client to user and indexes it by session id. This is
// the only path through which a GatewayClient becomes reachable for resume
// and event fan-out.
func (s *GatewayUsersStore) Register(user *GatewayUser, client *GatewayClient) {
	s.mu.Lock()
	s.sessions[client.SessionID()] = client
	s.mu.Unlock()
	user.attach(client)
}

// Unregister detaches client from its user and removes it from the session
// index, removing the user entirely once it has no clients left.
func (s *GatewayUsersStore) Unregister(user *GatewayUser, client *GatewayClient) {
	user.detach(client)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, client.SessionID())
	if user.ClientCount() == 0 {
		delete(s.users, user.ID())
	}
}

// FindResumable returns the resume-pending client registered under
// sessionID, if any.
func (s *GatewayUsersStore) FindResumable(sessionID string) (*GatewayUser, *GatewayClient, bool) {
	s.mu.Lock()
	client, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || !client.IsDisconnected() {
		return nil, nil, false
	}
	user, ok := s.get(client.UserID())
	if !ok {
		return nil, nil, false
	}
	return user, client, true
}

// snapshot returns every tracked GatewayUser. Used for event fan-out and
// shutdown broadcast, where iterating under the store lock itself would
// serialize against every registration.
func (s *GatewayUsersStore) snapshot() []*GatewayUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]*GatewayUser, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users
}

// Len returns the number of users currently tracked.
func (s *GatewayUsersStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
