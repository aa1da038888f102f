package mcpgateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler. Defaults to "/mcp".
	Path string
	// EventsPath mounts the traffic event stream. Defaults to "/events".
	EventsPath string
	// ServersPath mounts a JSON status listing. Defaults to "/servers".
	ServersPath string
	// Namespace customizes how upstream tool names are exposed to downstream
	// clients. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// CORS overrides the cross-origin policy applied to every route.
	CORS *cors.Options
	// Streamable tweaks the handler built by mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// TokenVerifier, when set, requires a bearer token on the MCP and events
	// routes.
	TokenVerifier auth.TokenVerifier
	// TokenOptions tunes bearer token enforcement. It requires TokenVerifier.
	TokenOptions *auth.RequireBearerTokenOptions
	// Events is the traffic stream served on EventsPath. Supply one when the
	// manager must be built first so its RPCLogger can feed the stream.
	Events *EventStream
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// SyncTimeout bounds catalog synchronization and HTTP shutdown.
	SyncTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcp-toolhost",
			Title:   "MCP Tool Host",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.EventsPath == "" {
		opts.EventsPath = "/events"
	}
	if opts.ServersPath == "" {
		opts.ServersPath = "/servers"
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.CORS == nil {
		opts.CORS = &cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id"},
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = NewEventStream(opts.Logger)
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return opts
}
