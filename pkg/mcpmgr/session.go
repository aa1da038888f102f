package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SessionState is the handshake progress of one connection.
type SessionState int

const (
	SessionUninitialized SessionState = iota
	SessionInitializing
	SessionReady
)

func (s SessionState) String() string {
	switch s {
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type handshakeAttempt struct {
	done chan struct{}
	err  error
}

// session runs the initialize handshake at most once at a time. Callers that
// arrive while a handshake is in flight wait for it and share its outcome.
type session struct {
	server    string
	transport Transport
	params    initializeParams

	mu       sync.Mutex
	state    SessionState
	attempt  *handshakeAttempt
	info     *mcp.InitializeResult
	attempts int
}

func newSession(server string, transport Transport, params initializeParams) *session {
	return &session{server: server, transport: transport, params: params}
}

func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerInfo returns the server's initialize result once Ready.
func (s *session) ServerInfo() *mcp.InitializeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *session) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case SessionReady:
		s.mu.Unlock()
		return nil
	case SessionInitializing:
		attempt := s.attempt
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-attempt.done:
			// The initiator gave up; start over on our own context.
			if errors.Is(attempt.err, context.Canceled) || errors.Is(attempt.err, context.DeadlineExceeded) {
				return s.ensureInitialized(ctx)
			}
			return attempt.err
		}
	}
	if isStateless(s.transport) {
		s.state = SessionReady
		s.mu.Unlock()
		return nil
	}
	attempt := &handshakeAttempt{done: make(chan struct{})}
	s.attempt = attempt
	s.state = SessionInitializing
	s.attempts++
	s.mu.Unlock()

	info, err := s.handshake(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = SessionUninitialized
	} else {
		s.state = SessionReady
		s.info = info
	}
	attempt.err = err
	s.attempt = nil
	close(attempt.done)
	s.mu.Unlock()
	return err
}

func (s *session) handshake(ctx context.Context) (*mcp.InitializeResult, error) {
	raw, err := s.transport.Call(ctx, methodInitialize, s.params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &Error{Kind: KindHandshakeFailed, Server: s.server, Method: methodInitialize, Message: "initialize failed", Cause: err}
	}
	info := &mcp.InitializeResult{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, info); err != nil {
			// Unusual initialize payloads are tolerated; the server answered.
			info = &mcp.InitializeResult{}
		}
	}
	if err := s.transport.Notify(ctx, methodInitialized, map[string]any{}); err != nil {
		return nil, &Error{Kind: KindHandshakeFailed, Server: s.server, Method: methodInitialized, Message: "initialized notification failed", Cause: err}
	}
	return info, nil
}
