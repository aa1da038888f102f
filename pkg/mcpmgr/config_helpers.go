package mcpmgr

import (
	"fmt"
	"strings"
)

// Helpers for narrowing ServerConfig values without a type switch at every
// call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// ParseConfigTransport maps a config "type" string to a ConfigTransport. An
// empty string selects stdio.
func ParseConfigTransport(s string) (ConfigTransport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stdio":
		return TransportStdio, nil
	case "http", "https":
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("mcpmgr: unknown transport type %q", s)
	}
}

// TransportOf returns the transport kind for a ServerConfig, or "" for nil
// and unknown implementations.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}
