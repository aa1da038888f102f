package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// connection is one transport instance together with its session. A
// reconnect replaces the whole value.
type connection struct {
	id        string
	transport Transport
	session   *session
}

func (c *connection) alive() bool {
	lt, ok := c.transport.(liveTransport)
	if !ok {
		return true
	}
	select {
	case <-lt.Done():
		return false
	default:
		return true
	}
}

// Client is the handle for one configured server. It owns the current
// connection and replaces it when the transport fails.
type Client struct {
	cfg    ServerConfig
	name   string
	params initializeParams
	dial   Dialer
	env    TransportEnv
	logger *slog.Logger

	mu         sync.Mutex
	conn       *connection
	connecting bool
	connectCh  chan struct{}
	closed     bool
	reconnects int
}

func newClient(cfg ServerConfig, opts ManagerOptions, trace RPCLogger) *Client {
	base := cfg.base()
	version := base.Version
	if version == "" {
		version = opts.DefaultClientVersion
	}
	timeout := base.Timeout
	if timeout <= 0 {
		timeout = opts.DefaultTimeout
	}
	dial := opts.Dialer
	if dial == nil {
		dial = DialTransport
	}
	return &Client{
		cfg:  cfg,
		name: base.Name,
		params: initializeParams{
			ProtocolVersion: opts.ProtocolVersion,
			ClientInfo:      &mcp.Implementation{Name: opts.DefaultClientName, Version: version},
		},
		dial: dial,
		env: TransportEnv{
			Server:  base.Name,
			Timeout: timeout,
			Logger:  opts.Logger,
			Trace:   trace,
		},
		logger: opts.Logger,
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Config returns the server configuration.
func (c *Client) Config() ServerConfig { return c.cfg }

// Start opens the first connection. The handshake runs lazily on the first
// request.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.replaceConnection(ctx, nil)
	return err
}

// State reports the session state of the current connection.
func (c *Client) State() SessionState {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return SessionUninitialized
	}
	return conn.session.State()
}

// Status summarizes connectivity for display.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	conn, connecting := c.conn, c.connecting
	c.mu.Unlock()
	if connecting {
		return StatusConnecting
	}
	if conn == nil || !conn.alive() {
		return StatusDisconnected
	}
	switch conn.session.State() {
	case SessionReady:
		return StatusConnected
	case SessionInitializing:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// ServerInfo returns what the server reported during the handshake, or nil.
func (c *Client) ServerInfo() *mcp.InitializeResult {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.session.ServerInfo()
}

// Reconnects reports how many times the connection has been replaced.
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// ListTools returns the server's tool catalog. HTTP servers that cannot list
// their tools, or answer without a tools array, report the configured
// fallback catalog instead of an error.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	tools, err := c.listTools(ctx)
	if err == nil {
		return tools, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if httpCfg, ok := AsHTTP(c.cfg); ok {
		c.logger.Warn("mcp tools/list failed, using fallback catalog", "server", c.name, "err", err)
		return fallbackTools(httpCfg), nil
	}
	if isMethodUnavailableError(err) {
		return []ToolDescriptor{}, nil
	}
	return nil, err
}

func (c *Client) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := conn.session.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	raw, err := conn.transport.Call(ctx, methodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	if _, typ, _, err := jsonparser.Get(raw, "tools"); err != nil || typ != jsonparser.Array {
		return nil, toolFailure(c.name, methodToolsList, "tools/list result has no tools array", 0)
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("mcpmgr: decode tools/list from %q: %w", c.name, err)
	}
	tools := make([]ToolDescriptor, 0, len(res.Tools))
	for _, tool := range res.Tools {
		tools = append(tools, ToolDescriptor{
			Name:         tool.Name,
			Title:        tool.Title,
			Description:  tool.Description,
			InputSchema:  tool.InputSchema,
			OutputSchema: tool.OutputSchema,
			Annotations:  tool.Annotations,
		})
	}
	return tools, nil
}

// CallTool invokes a tool. A transport-level failure triggers one reconnect
// followed by one retry; any other failure is returned as is.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required for %q", c.name)
	}
	if args == nil {
		args = map[string]any{}
	}
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	res, err := c.callOn(ctx, conn, name, args)
	if err == nil || ctx.Err() != nil || !IsRetryable(err) {
		return res, err
	}
	c.logger.Warn("mcp call failed, reconnecting", "server", c.name, "tool", name, "conn", conn.id, "err", err)
	fresh, rerr := c.replaceConnection(ctx, conn)
	if rerr != nil {
		return nil, rerr
	}
	return c.callOn(ctx, fresh, name, args)
}

func (c *Client) callOn(ctx context.Context, conn *connection, name string, args map[string]any) (json.RawMessage, error) {
	if err := conn.session.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return conn.transport.Call(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args})
}

// Close shuts the current connection down. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.transport.Close()
}

func (c *Client) current() (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, transportClosed(c.name, "client not connected")
	}
	return c.conn, nil
}

// replaceConnection swaps stale for a freshly dialed connection. When another
// caller already replaced stale, its connection is reused, so concurrent
// failures on one connection cause a single reconnect.
func (c *Client) replaceConnection(ctx context.Context, stale *connection) (*connection, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, transportClosed(c.name, "client closed")
		}
		if c.conn != nil && c.conn != stale {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		if c.connecting {
			ch := c.connectCh
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		c.connecting = true
		c.connectCh = make(chan struct{})
		c.mu.Unlock()

		fresh, err := c.dialConnection(ctx)

		c.mu.Lock()
		c.connecting = false
		close(c.connectCh)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if c.closed {
			c.mu.Unlock()
			_ = fresh.transport.Close()
			return nil, transportClosed(c.name, "client closed")
		}
		old := c.conn
		c.conn = fresh
		if old != nil {
			c.reconnects++
		}
		c.mu.Unlock()
		if old != nil {
			go func() { _ = old.transport.Close() }()
		}
		return fresh, nil
	}
}

func (c *Client) dialConnection(ctx context.Context) (*connection, error) {
	env := c.env
	env.ConnID = uuid.NewString()
	transport, err := c.dial(ctx, c.cfg, env)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("mcp connection opened", "server", c.name, "conn", env.ConnID)
	return &connection{
		id:        env.ConnID,
		transport: transport,
		session:   newSession(c.name, transport, c.params),
	}, nil
}

func fallbackTools(cfg *HTTPServerConfig) []ToolDescriptor {
	src := cfg.FallbackTools
	if len(src) == 0 {
		src = defaultFallbackTools
	}
	return append([]ToolDescriptor(nil), src...)
}

// isMethodUnavailableError reports "method not found" style failures, which
// servers without tool support return for tools/list.
func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Code == -32601 {
		return true
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	return e == nil || e.Kind == KindToolInvocationFailed
}
