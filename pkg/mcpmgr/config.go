package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates protocol traffic for custom logging.
type RPCLogEvent struct {
	Direction  RPCDirection
	ServerName string
	Message    []byte
}

// RPCLogger is invoked for each protocol message when tracing is enabled. It
// runs on transport goroutines and must not block for long.
type RPCLogger func(RPCLogEvent)

// CallStyle selects the request envelope used by HTTP servers.
type CallStyle string

const (
	// CallStyleJSONRPC posts canonical JSON-RPC 2.0 requests.
	CallStyleJSONRPC CallStyle = "jsonrpc"
	// CallStyleDirect posts {"method": <tool>, "params": <arguments>} for tool
	// calls, for servers that route on the tool name.
	CallStyleDirect CallStyle = "direct"
)

const (
	DefaultClientName    = "chatbot-mcp"
	DefaultClientVersion = "0.1.0"
	DefaultHTTPTimeout   = 15 * time.Second
	DefaultMinInterval   = 500 * time.Millisecond
)

// ToolDescriptor is an entry of a server's tool catalog. Schemas are passed
// through untouched.
type ToolDescriptor struct {
	Name         string
	Title        string
	Description  string
	InputSchema  []byte
	OutputSchema []byte
	Annotations  []byte
	// Server is the name of the owning server. It is set for entries of the
	// aggregate catalog.
	Server string
}

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Name identifies the server. Lookups are case-insensitive.
	Name string
	// Timeout bounds each request on the transport. Zero keeps the transport
	// default (none for stdio, DefaultHTTPTimeout for HTTP).
	Timeout time.Duration
	// Version overrides the client version advertised to this server.
	Version    string
	OnError    func(error)
	LogJSONRPC bool
	RPCLogger  RPCLogger
	// Tools holds glob patterns selecting which tools enter the aggregate
	// catalog. Empty means all.
	Tools []string
}

// StdioServerConfig describes a server launched as a subprocess.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	// Dir is the working directory of the subprocess.
	Dir string
	Env map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes a server reachable with one POST per request.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	HTTPClient *http.Client
	Headers    http.Header
	CallStyle  CallStyle
	// FallbackTools replaces the built-in catalog reported when tools/list
	// fails.
	FallbackTools []ToolDescriptor
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// NameOf returns the configured server name, or "" for nil.
func NameOf(cfg ServerConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.base().Name
}

// Dialer opens a transport for cfg. It replaces the built-in stdio and HTTP
// transports, which is how alternative transports and tests plug in.
type Dialer func(ctx context.Context, cfg ServerConfig, env TransportEnv) (Transport, error)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName is advertised during initialization.
	DefaultClientName string
	// DefaultClientVersion controls the version reported to servers.
	DefaultClientVersion string
	// ProtocolVersion is sent in the initialize request.
	ProtocolVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultLogJSONRPC toggles console logging of protocol traffic for all
	// servers unless overridden per server.
	DefaultLogJSONRPC bool
	// RPCLogger provides a custom sink for protocol traffic; it takes
	// precedence over DefaultLogJSONRPC.
	RPCLogger RPCLogger
	// MinInterval is the minimum spacing between admitted calls to the same
	// server. Negative disables rate limiting.
	MinInterval time.Duration
	Logger      *slog.Logger
	Dialer      Dialer
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.DefaultClientName == "" {
		opts.DefaultClientName = DefaultClientName
	}
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = DefaultClientVersion
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = DefaultProtocolVersion
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
