package mcpmgr

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures surfaced by transports, sessions and the
// Manager.
type ErrorKind string

const (
	KindFraming              ErrorKind = "framing"
	KindUnmatchedResponse    ErrorKind = "unmatched_response"
	KindTransportClosed      ErrorKind = "transport_closed"
	KindTimeout              ErrorKind = "timeout"
	KindRateLimited          ErrorKind = "rate_limited"
	KindHandshakeFailed      ErrorKind = "handshake_failed"
	KindToolInvocationFailed ErrorKind = "tool_invocation_failed"
	KindUnknownServer        ErrorKind = "unknown_server"
)

// Sentinels for errors.Is. Matching is by kind, so any *Error of the same
// kind satisfies errors.Is(err, ErrTransportClosed) and friends.
var (
	ErrTransportClosed      = &Error{Kind: KindTransportClosed, Message: "transport closed"}
	ErrTimeout              = &Error{Kind: KindTimeout, Message: "request timed out"}
	ErrRateLimited          = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrHandshakeFailed      = &Error{Kind: KindHandshakeFailed, Message: "handshake failed"}
	ErrToolInvocationFailed = &Error{Kind: KindToolInvocationFailed, Message: "tool invocation failed"}
	ErrUnknownServer        = &Error{Kind: KindUnknownServer, Message: "unknown server"}
)

// Error is the typed failure returned by the client layer.
type Error struct {
	Kind    ErrorKind
	Server  string
	Method  string
	Message string
	// Code is the JSON-RPC error code reported by the server, or the HTTP
	// status for HTTP transports. Zero when not applicable.
	Code int
	// RetryAfter is set on rate-limited errors.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Kind == KindRateLimited && e.Server != "" && e.RetryAfter > 0 {
		return RateLimitMessage(e.Server, waitSeconds(e.RetryAfter))
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Server != "" {
		msg = fmt.Sprintf("mcpmgr: %s: %s", e.Server, msg)
	} else {
		msg = "mcpmgr: " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transport-level failure that a fresh
// connection may cure. Tool errors, rate limiting and caller cancellation are
// never retryable. A failed handshake is retryable only when the transport
// underneath it failed.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransportClosed, KindTimeout:
		return true
	case KindHandshakeFailed:
		return IsRetryable(e.Cause)
	default:
		return false
	}
}

func transportClosed(server, format string, args ...any) *Error {
	return &Error{Kind: KindTransportClosed, Server: server, Message: fmt.Sprintf(format, args...)}
}

func toolFailure(server, method, message string, code int) *Error {
	return &Error{Kind: KindToolInvocationFailed, Server: server, Method: method, Message: message, Code: code}
}
