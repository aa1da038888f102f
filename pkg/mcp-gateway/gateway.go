package mcpgateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every server managed by
// mcpmgr under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex
	events   *EventStream

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway over mgr and registers its current catalog.
// mgr should already be started; Sync picks up later changes.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
		events:   options.Events,
	}
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountRoutes()
	g.httpHandler = cors.New(*options.CORS).Handler(g.mux)

	if err := g.Sync(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler exposes the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the router behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Events returns the traffic stream. It only carries traffic when its Logger
// is wired into the manager's RPCLogger.
func (g *Gateway) Events() *EventStream {
	return g.events
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Sync refreshes the manager's catalog and re-registers the downstream tools.
// Tools of servers that no longer list them are removed.
func (g *Gateway) Sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	catalog := g.manager.RefreshTools(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mcpgateway: sync: %w", err)
	}
	removed, added := g.features.Replace(catalog)

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	g.opts.Logger.Debug("gateway catalog synced", "tools", len(added), "removed", len(removed))
	return nil
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req != nil && req.Params != nil {
			var err error
			if args, err = decodeArguments(req.Params.Arguments); err != nil {
				return errorResult(fmt.Errorf("invalid arguments for %s: %w", target.GatewayName, err)), nil
			}
		}
		value, err := g.manager.Dispatch(ctx, target.ServerID, target.NativeName, args)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			g.opts.Logger.Warn("gateway tool call failed", "tool", target.GatewayName, "err", err)
			return errorResult(err), nil
		}
		return toolResult(value), nil
	}
}

// decodeArguments accepts raw JSON or an already decoded value.
func decodeArguments(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if trimmed := strings.TrimSpace(string(data)); trimmed == "" || trimmed == "null" {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func toolResult(v mcpmgr.Value) *mcp.CallToolResult {
	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: v.Text()}},
		IsError: v.IsToolError(),
	}
	if v.Kind() == mcpmgr.ValueObject {
		res.StructuredContent = v
	}
	return res
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

type serverStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Status    string `json:"status"`
	Live      bool   `json:"live"`
	Tools     int    `json:"tools"`
}

func (g *Gateway) handleServers(w http.ResponseWriter, _ *http.Request) {
	summaries := g.manager.GetServerSummaries()
	out := make([]serverStatus, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, serverStatus{
			Name:      s.ID,
			Transport: string(mcpmgr.TransportOf(s.Config)),
			Status:    string(s.Status),
			Live:      s.Live,
			Tools:     len(g.features.ServerTools(s.ID)),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (g *Gateway) mountRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	stream := g.protect(g.streamHandler)
	path := normalizePath(g.opts.Path)
	mux.Handle(path, stream)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", stream)
	}
	mux.Handle(normalizePath(g.opts.EventsPath), g.protect(g.events))
	mux.HandleFunc(normalizePath(g.opts.ServersPath), g.handleServers)
	return mux
}

func (g *Gateway) protect(h http.Handler) http.Handler {
	if g.opts.TokenVerifier == nil {
		return h
	}
	return auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(h)
}

// StaticTokenVerifier accepts exactly the given bearer tokens.
func StaticTokenVerifier(tokens ...string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		for _, want := range tokens {
			if want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
				return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
			}
		}
		return nil, auth.ErrInvalidToken
	}
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
