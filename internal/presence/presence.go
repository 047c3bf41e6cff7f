// Package presence tracks user online/idle/offline status and opaque bearer
// session tokens using DragonflyDB (Redis-compatible). Session records and
// presence keys share one client so the gateway and REST layer agree on a
// single source of truth for "is this user connected right now".
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence status values, exposed on PresenceUpdate events and exported
// for anything deciding how to render a user's status dot.
const (
	StatusOnline    = "online"
	StatusIdle      = "idle"
	StatusFocus     = "focus"
	StatusBusy      = "busy"
	StatusInvisible = "invisible"
	StatusOffline   = "offline"
)

// Key prefixes. Every key this package touches is namespaced under one of
// these so a shared DragonflyDB instance can't collide with another
// service's keyspace.
const (
	PrefixSession   = "session:"
	PrefixPresence  = "presence:"
	PrefixRateLimit = "ratelimit:"
	PrefixCache     = "cache:"
)

// presenceTTL bounds how long a presence key survives without a refresh.
// The gateway refreshes it on every heartbeat from a connected client;
// once heartbeats stop, the key expires on its own even if the client
// vanished without a clean close.
const presenceTTL = 2 * time.Minute

// SessionData is the value stored under PrefixSession for an opaque bearer
// token minted by the auth service.
type SessionData struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service wraps a Redis-compatible client with the key conventions session
// and presence lookups share.
type Service struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to a DragonflyDB/Redis instance at url (a redis:// URL).
func New(url string, logger *slog.Logger) (*Service, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing cache url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	return &Service{client: client, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}

// PutSession stores a session under its token, expiring when the session
// itself does.
func (s *Service) PutSession(ctx context.Context, token string, data SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session for %s already expired", data.UserID)
	}
	return s.client.Set(ctx, PrefixSession+token, raw, ttl).Err()
}

// GetSession resolves a bearer token to its session data. The second
// return value is false if the token is unknown or expired.
func (s *Service) GetSession(ctx context.Context, token string) (SessionData, bool, error) {
	raw, err := s.client.Get(ctx, PrefixSession+token).Bytes()
	if err == redis.Nil {
		return SessionData{}, false, nil
	}
	if err != nil {
		return SessionData{}, false, fmt.Errorf("reading session: %w", err)
	}
	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return SessionData{}, false, fmt.Errorf("decoding session: %w", err)
	}
	return data, true, nil
}

// DeleteSession revokes a token immediately.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, PrefixSession+token).Err()
}

// SetOnline marks userID present with status, refreshing its TTL. Called
// whenever a client attaches; heartbeats then extend the TTL through
// RefreshPresence, so presence degrades to Offline automatically if the
// gateway loses track of a client.
func (s *Service) SetOnline(ctx context.Context, userID, status string) error {
	return s.client.Set(ctx, PrefixPresence+userID, status, presenceTTL).Err()
}

// SetOffline clears userID's presence key. Called when a user's last
// client detaches.
func (s *Service) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, PrefixPresence+userID).Err()
}

// GetStatus returns a user's current presence status, or StatusOffline if
// no key is present (expired or never set).
func (s *Service) GetStatus(ctx context.Context, userID string) (string, error) {
	status, err := s.client.Get(ctx, PrefixPresence+userID).Result()
	if err == redis.Nil {
		return StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading presence: %w", err)
	}
	return status, nil
}

// RefreshPresence extends a presence key's TTL without changing its value.
// A no-op if the key has already expired; the caller is responsible for
// calling SetOnline again in that case.
func (s *Service) RefreshPresence(ctx context.Context, userID string) error {
	ok, err := s.client.Expire(ctx, PrefixPresence+userID, presenceTTL).Result()
	if err != nil {
		return fmt.Errorf("refreshing presence: %w", err)
	}
	if !ok {
		s.logger.Debug("presence key missing on refresh", slog.String("user_id", userID))
	}
	return nil
}
