package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// topicBroadcast is the subscription topic every user implicitly carries,
// matching events.PublishBroadcastEvent's routing envelope.
const topicBroadcast = "__broadcast__"

// GatewayUser aggregates every GatewayClient session belonging to one user
// id and the union of topics those clients want events for. It is the
// "parent" a GatewayClient resolves itself against through
// GatewayUsersStore rather than holding a direct reference to, avoiding a
// reference cycle.
type GatewayUser struct {
	mu sync.Mutex

	id string

	clients       []*GatewayClient
	subscriptions map[string]struct{}

	logger *slog.Logger
}

func newGatewayUser(id string, logger *slog.Logger) *GatewayUser {
	return &GatewayUser{
		id:            id,
		subscriptions: map[string]struct{}{id: {}, topicBroadcast: {}},
		logger:        logger,
	}
}

// ID returns the user id this GatewayUser aggregates clients for.
func (u *GatewayUser) ID() string { return u.id }

// attach registers a new client session.
func (u *GatewayUser) attach(c *GatewayClient) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.clients = append(u.clients, c)
}

// detach removes a client session, if present.
func (u *GatewayUser) detach(c *GatewayClient) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, existing := range u.clients {
		if existing == c {
			u.clients = append(u.clients[:i], u.clients[i+1:]...)
			return
		}
	}
}

// ClientCount returns the number of client sessions tracked, including
// resume-pending ones.
func (u *GatewayUser) ClientCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.clients)
}

// LiveClientCount returns the number of clients that are not resume-pending.
func (u *GatewayUser) LiveClientCount() int {
	u.mu.Lock()
	clients := append([]*GatewayClient(nil), u.clients...)
	u.mu.Unlock()

	n := 0
	for _, c := range clients {
		if !c.IsDisconnected() {
			n++
		}
	}
	return n
}

// Subscribe adds a topic to this user's subscription set.
func (u *GatewayUser) Subscribe(topic string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.subscriptions[topic] = struct{}{}
}

// Unsubscribe removes a topic from this user's subscription set. The
// user's own id and the broadcast topic cannot be removed.
func (u *GatewayUser) Unsubscribe(topic string) {
	if topic == u.id || topic == topicBroadcast {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.subscriptions, topic)
}

// IsSubscribed reports whether the user's clients want events for topic.
func (u *GatewayUser) IsSubscribed(topic string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.subscriptions[topic]
	return ok
}

// Reconnect tells every live client to close and resume elsewhere.
func (u *GatewayUser) Reconnect(ctx context.Context) {
	u.mu.Lock()
	clients := append([]*GatewayClient(nil), u.clients...)
	u.mu.Unlock()

	for _, c := range clients {
		if c.IsDisconnected() {
			continue
		}
		if err := c.notifyReconnect(ctx); err != nil {
			u.logger.Debug("failed to notify reconnect",
				slog.String("user_id", u.id),
				slog.String("session_id", c.SessionID()),
				slog.String("error", err.Error()))
		}
	}
}

// CloseAll closes every client session, live or resume-pending, and
// detaches them all. Used during server shutdown to actually tear down
// hijacked sockets rather than just advising clients to reconnect.
func (u *GatewayUser) CloseAll(reason string) {
	u.mu.Lock()
	clients := append([]*GatewayClient(nil), u.clients...)
	u.mu.Unlock()

	for _, c := range clients {
		c.close(reason)
	}
}

// Broadcast dispatches an event to every live client. A failure on one
// client does not prevent delivery to the others; resume-pending clients
// are skipped but retained.
func (u *GatewayUser) Broadcast(ctx context.Context, eventType string, data json.RawMessage) {
	u.mu.Lock()
	clients := append([]*GatewayClient(nil), u.clients...)
	u.mu.Unlock()

	for _, c := range clients {
		if c.IsDisconnected() {
			continue
		}
		if err := c.dispatch(ctx, eventType, data); err != nil {
			u.logger.Debug("dispatch failed",
				slog.String("user_id", u.id),
				slog.String("session_id", c.SessionID()),
				slog.String("error", err.Error()))
		}
	}
}
