package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Transport carries requests to a single tool server. Implementations must be
// safe for concurrent use.
type Transport interface {
	// Call sends one request and waits for its result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a message that expects no reply.
	Notify(ctx context.Context, method string, params any) error
	Close() error
}

// statelessTransport is implemented by transports without a session; the
// handshake is skipped for them.
type statelessTransport interface {
	Stateless() bool
}

// liveTransport is implemented by transports that can die on their own.
type liveTransport interface {
	Done() <-chan struct{}
}

// TransportEnv carries the per-connection settings handed to a Dialer.
type TransportEnv struct {
	Server string
	// ConnID distinguishes successive connections to the same server.
	ConnID  string
	Timeout time.Duration
	Logger  *slog.Logger
	Trace   RPCLogger
}

func (e TransportEnv) trace(direction RPCDirection, payload []byte) {
	if e.Trace == nil {
		return
	}
	emitRPC(e.Trace, RPCLogEvent{Direction: direction, ServerName: e.Server, Message: payload})
}

func (e TransportEnv) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// DialTransport opens the built-in transport matching cfg.
func DialTransport(ctx context.Context, cfg ServerConfig, env TransportEnv) (Transport, error) {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return StartStdioTransport(ctx, c, env)
	case *HTTPServerConfig:
		return NewHTTPTransport(c, env)
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config for %q", NameOf(cfg))
	}
}

func isStateless(t Transport) bool {
	s, ok := t.(statelessTransport)
	return ok && s.Stateless()
}
