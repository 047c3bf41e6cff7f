package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/amityvox/internal/events"
	"github.com/amityvox/amityvox/internal/presence"
)

// Default durations applied when a ServerConfig field is left zero.
const (
	DefaultHeartbeatInterval = 45 * time.Second
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultResumeGrace       = 90 * time.Second
)

// TokenVerifier resolves a bearer token presented at Identify or Resume to
// the user id it belongs to. Satisfied by *auth.Service in production; the
// gateway depends on this narrow interface rather than the auth package
// directly so it never needs to know how a token was issued.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID string, err error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	AuthService TokenVerifier
	EventBus    *events.Bus
	Cache       *presence.Service
	Pool        *pgxpool.Pool

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	ResumeGrace       time.Duration
	ReplayBufferSize  int

	ListenAddr string
	Logger     *slog.Logger
}

type resolvedConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	ResumeGrace       time.Duration
	ReplayBufferSize  int
}

// Server accepts WebSocket connections, runs the handshake, and bridges the
// NATS event bus to every live GatewayClient.
type Server struct {
	cfg    resolvedConfig
	auth   TokenVerifier
	bus    *events.Bus
	cache  *presence.Service
	pool   *pgxpool.Pool
	logger *slog.Logger

	users      *GatewayUsersStore
	httpServer *http.Server

	unsub []func() error
}

// NewServer constructs a Server from cfg, applying defaults for any
// unset duration or buffer size.
func NewServer(cfg ServerConfig) *Server {
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	heartbeatTimeout := cfg.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 2 * heartbeatInterval
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	resumeGrace := cfg.ResumeGrace
	if resumeGrace <= 0 {
		resumeGrace = DefaultResumeGrace
	}
	replayBufferSize := cfg.ReplayBufferSize
	if replayBufferSize <= 0 {
		replayBufferSize = DefaultReplayBufferSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg: resolvedConfig{
			HeartbeatInterval: heartbeatInterval,
			HeartbeatTimeout:  heartbeatTimeout,
			HandshakeTimeout:  handshakeTimeout,
			ResumeGrace:       resumeGrace,
			ReplayBufferSize:  replayBufferSize,
		},
		auth:   cfg.AuthService,
		bus:    cfg.EventBus,
		cache:  cfg.Cache,
		pool:   cfg.Pool,
		logger: logger,
		users:  NewGatewayUsersStore(logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/gateway", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	if s.bus != nil {
		if err := s.subscribeEvents(); err != nil {
			logger.Error("failed to subscribe to event bus", slog.String("error", err.Error()))
		}
	}

	return s
}

// Start blocks serving WebSocket connections until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", slog.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown tells every live client to reconnect, closes every hijacked
// socket, unsubscribes from the event bus, and stops accepting new
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcastReconnect(ctx)
	s.closeAllClients("server shutting down")

	for _, unsub := range s.unsub {
		if err := unsub(); err != nil {
			s.logger.Warn("error unsubscribing from event bus", slog.String("error", err.Error()))
		}
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	rawConn.SetReadLimit(1 << 20)

	nc, err := s.EstablishConnection(r.Context(), rawConn)
	if err != nil {
		s.logger.Debug("handshake did not complete", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("client connected",
		slog.String("user_id", nc.User.ID()),
		slog.String("session_id", nc.Client.SessionID()))
}

// subscribeEvents wires the NATS event bus to every connected user's
// subscription set.
func (s *Server) subscribeEvents() error {
	sub, err := s.bus.SubscribeWildcard("amityvox.>", s.handleBusEvent)
	if err != nil {
		return fmt.Errorf("subscribing to event bus: %w", err)
	}
	s.unsub = append(s.unsub, sub.Unsubscribe)
	return nil
}

// handleBusEvent fans an event out to every connected user subscribed to
// one of its topics.
func (s *Server) handleBusEvent(subject string, ev events.Event) {
	topics := dispatchTopics(ev)
	if len(topics) == 0 {
		return
	}

	ctx := context.Background()
	for _, user := range s.users.snapshot() {
		if shouldDispatchTo(user, topics) {
			user.Broadcast(ctx, ev.Type, ev.Data)
		}
	}
}

// dispatchTopics returns the subscription topics an event is addressed to.
func dispatchTopics(ev events.Event) []string {
	var topics []string
	if ev.GuildID == topicBroadcast {
		topics = append(topics, topicBroadcast)
	} else if ev.GuildID != "" {
		topics = append(topics, ev.GuildID)
	}
	if ev.ChannelID != "" {
		topics = append(topics, ev.ChannelID)
	}
	if ev.UserID != "" {
		topics = append(topics, ev.UserID)
	}
	return topics
}

// shouldDispatchTo reports whether user is subscribed to any of topics.
func shouldDispatchTo(user *GatewayUser, topics []string) bool {
	for _, t := range topics {
		if user.IsSubscribed(t) {
			return true
		}
	}
	return false
}

// seedSubscriptions loads the guilds a newly identified user belongs to,
// subscribes the user to each, and sends the Ready dispatch.
func (s *Server) seedSubscriptions(ctx context.Context, user *GatewayUser, client *GatewayClient) {
	guildIDs := s.loadGuildIDs(ctx, user.ID())
	for _, id := range guildIDs {
		user.Subscribe(id)
	}

	ready := ReadyPayload{
		SessionID: client.SessionID(),
		UserID:    user.ID(),
		GuildIDs:  guildIDs,
	}
	data, err := json.Marshal(ready)
	if err != nil {
		s.logger.Error("failed to encode ready payload", slog.String("error", err.Error()))
		return
	}
	if err := client.dispatch(ctx, "READY", data); err != nil {
		s.logger.Debug("failed to dispatch ready", slog.String("error", err.Error()))
	}
}

// loadGuildIDs returns the ids of every guild userID is a member of.
func (s *Server) loadGuildIDs(ctx context.Context, userID string) []string {
	if s.pool == nil {
		return nil
	}
	rows, err := s.pool.Query(ctx, `SELECT guild_id FROM guild_members WHERE user_id = $1`, userID)
	if err != nil {
		s.logger.Error("failed to load guild memberships", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.logger.Error("failed to scan guild membership row", slog.String("error", err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// onClientAttached marks user online the moment their first live client
// connects, or just refreshes presence if they already had one.
func (s *Server) onClientAttached(user *GatewayUser) {
	if s.cache == nil {
		return
	}
	ctx := context.Background()
	if err := s.cache.SetOnline(ctx, user.ID(), presence.StatusOnline); err != nil {
		s.logger.Warn("failed to set presence online", slog.String("user_id", user.ID()), slog.String("error", err.Error()))
		return
	}
	if user.ClientCount() > 1 {
		return
	}
	s.publishPresence(ctx, user.ID(), presence.StatusOnline)
}

// onClientDetached clears a user's presence once their last live client is
// gone.
func (s *Server) onClientDetached(userID string) {
	user, ok := s.users.get(userID)
	if !ok || user.LiveClientCount() > 0 {
		return
	}
	ctx := context.Background()
	if s.cache != nil {
		if err := s.cache.SetOffline(ctx, userID); err != nil {
			s.logger.Warn("failed to clear presence", slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}
	s.publishPresence(ctx, userID, presence.StatusOffline)
}

func (s *Server) publishPresence(ctx context.Context, userID, status string) {
	if s.bus == nil {
		return
	}
	payload := map[string]string{"user_id": userID, "status": status}
	if err := s.bus.PublishUserEvent(ctx, events.SubjectPresenceUpdate, "PRESENCE_UPDATE", userID, payload); err != nil {
		s.logger.Warn("failed to publish presence update", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// broadcastReconnect tells every connected client to reconnect (and
// resume), used ahead of a graceful shutdown so clients don't have to wait
// out a dead heartbeat to notice the server is going away.
func (s *Server) broadcastReconnect(ctx context.Context) {
	for _, user := range s.users.snapshot() {
		user.Reconnect(ctx)
	}
}

// closeAllClients forcibly closes every client socket, live or
// resume-pending, across every user. The Reconnect advisory sent by
// broadcastReconnect is only a courtesy; this is what actually frees the
// hijacked connections instead of leaving them blocked on a dead
// heartbeat timeout.
func (s *Server) closeAllClients(reason string) {
	for _, user := range s.users.snapshot() {
		user.CloseAll(reason)
	}
}
