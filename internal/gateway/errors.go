package gateway

import (
	"fmt"

	"github.com/coder/websocket"
)

// ErrorKind classifies why a handshake or session operation failed.
type ErrorKind int

const (
	ErrHandshakeFailed ErrorKind = iota
	ErrTimeout
	ErrClosed
	ErrInvalidToken
	ErrUnexpectedMessage
	ErrCannotResume
	ErrTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrHandshakeFailed:
		return "handshake_failed"
	case ErrTimeout:
		return "timeout"
	case ErrClosed:
		return "closed"
	case ErrInvalidToken:
		return "invalid_token"
	case ErrUnexpectedMessage:
		return "unexpected_message"
	case ErrCannotResume:
		return "cannot_resume"
	case ErrTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// CloseCode returns the WebSocket close status to send for this error kind.
// Kinds that never reach a client-visible close frame (the socket is
// already gone, or the error is purely internal bookkeeping) return 0.
func (k ErrorKind) CloseCode() websocket.StatusCode {
	switch k {
	case ErrTimeout:
		return 4009
	case ErrInvalidToken:
		return 4004
	case ErrUnexpectedMessage:
		return 4002
	case ErrCannotResume:
		return 4007
	default:
		return 0
	}
}

// Error is returned by gateway handshake and session operations.
type Error struct {
	Kind ErrorKind
	Err  error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s", e.Kind)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
