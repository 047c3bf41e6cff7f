// Package auth implements authentication: password hashing with Argon2id,
// opaque bearer session tokens backed by DragonflyDB, and the registration
// policy (open, invite-only, or email-required) an instance can enforce.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/amityvox/internal/models"
	"github.com/amityvox/amityvox/internal/presence"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < 2 || n > 32 {
		return &AuthError{Code: "invalid_username", Message: "username must be between 2 and 32 characters", Status: 400}
	}
	if !usernamePattern.MatchString(username) {
		return &AuthError{Code: "invalid_username", Message: "username may only contain letters, numbers, dots, underscores, and hyphens", Status: 400}
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < 8 || n > 128 {
		return &AuthError{Code: "invalid_password", Message: "password must be between 8 and 128 characters", Status: 400}
	}
	return nil
}

// AuthError is a structured auth failure carrying the HTTP status and
// machine-readable code the API error envelope expects.
type AuthError struct {
	Code    string
	Message string
	Status  int
}

func (e *AuthError) Error() string { return e.Message }

// Config configures a Service.
type Config struct {
	Pool            *pgxpool.Pool
	Cache           *presence.Service
	InstanceID      string
	SessionDuration time.Duration
	RegEnabled      bool
	InviteOnly      bool
	RequireEmail    bool
	Logger          *slog.Logger
}

// Service implements registration, login, and session validation against
// Postgres (accounts) and DragonflyDB (opaque session tokens).
type Service struct {
	pool            *pgxpool.Pool
	cache           *presence.Service
	instanceID      string
	sessionDuration time.Duration
	regEnabled      bool
	inviteOnly      bool
	requireEmail    bool
	logger          *slog.Logger
}

// NewService constructs a Service from cfg.
func NewService(cfg Config) *Service {
	return &Service{
		pool:            cfg.Pool,
		cache:           cfg.Cache,
		instanceID:      cfg.InstanceID,
		sessionDuration: cfg.SessionDuration,
		regEnabled:      cfg.RegEnabled,
		inviteOnly:      cfg.InviteOnly,
		requireEmail:    cfg.RequireEmail,
		logger:          cfg.Logger,
	}
}

// Register creates a new local account, enforcing the instance's
// registration policy, and returns a session token for it.
func (s *Service) Register(ctx context.Context, username, password, email string) (token string, userID string, err error) {
	if !s.regEnabled {
		return "", "", &AuthError{Code: "registration_disabled", Message: "registration is closed on this instance", Status: 403}
	}
	if s.requireEmail && email == "" {
		return "", "", &AuthError{Code: "email_required", Message: "an email address is required to register", Status: 400}
	}
	if err := validateUsername(username); err != nil {
		return "", "", err
	}
	if err := validatePassword(password); err != nil {
		return "", "", err
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", "", fmt.Errorf("hashing password: %w", err)
	}

	userID = models.NewULID().String()
	var emailArg interface{}
	if email != "" {
		emailArg = email
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, instance_id, username, password_hash, email, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		userID, s.instanceID, username, hash, emailArg)
	if err != nil {
		return "", "", fmt.Errorf("creating user: %w", err)
	}

	token, err = s.mintSession(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// Login verifies username/password and returns a fresh session token.
func (s *Service) Login(ctx context.Context, username, password string) (token string, userID string, err error) {
	var hash *string
	var flags int
	err = s.pool.QueryRow(ctx,
		`SELECT id, password_hash, flags FROM users WHERE username = $1 AND instance_id = $2`,
		username, s.instanceID).Scan(&userID, &hash, &flags)
	if err == pgx.ErrNoRows {
		return "", "", &AuthError{Code: "invalid_credentials", Message: "invalid username or password", Status: 401}
	}
	if err != nil {
		return "", "", fmt.Errorf("looking up user: %w", err)
	}
	if hash == nil {
		return "", "", &AuthError{Code: "invalid_credentials", Message: "invalid username or password", Status: 401}
	}
	if models.User{Flags: flags}.IsSuspended() {
		return "", "", &AuthError{Code: "account_suspended", Message: "this account has been suspended", Status: 403}
	}

	match, err := argon2id.ComparePasswordAndHash(password, *hash)
	if err != nil {
		return "", "", fmt.Errorf("comparing password: %w", err)
	}
	if !match {
		return "", "", &AuthError{Code: "invalid_credentials", Message: "invalid username or password", Status: 401}
	}

	token, err = s.mintSession(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// Logout revokes a session token immediately.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.cache.DeleteSession(ctx, token)
}

// ValidateSession resolves a bearer token to its owning user id. The
// gateway's Identify/Resume handshake reaches it through VerifyToken.
func (s *Service) ValidateSession(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", &AuthError{Code: "missing_token", Message: "no session token provided", Status: 401}
	}
	data, ok, err := s.cache.GetSession(ctx, token)
	if err != nil {
		return "", fmt.Errorf("validating session: %w", err)
	}
	if !ok {
		return "", &AuthError{Code: "invalid_session", Message: "session is invalid or has expired", Status: 401}
	}
	return data.UserID, nil
}

// VerifyToken is an alias for ValidateSession with the signature the
// gateway package expects of a TokenVerifier.
func (s *Service) VerifyToken(ctx context.Context, token string) (string, error) {
	return s.ValidateSession(ctx, token)
}

func (s *Service) mintSession(ctx context.Context, userID string) (string, error) {
	token := models.NewULID().String()
	data := presence.SessionData{
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.sessionDuration),
	}
	if err := s.cache.PutSession(ctx, token, data); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}
