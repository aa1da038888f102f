package mcpgateway

import (
	"strings"
)

// NamespaceStrategy generates the downstream names of upstream tools.
// Implementations must be deterministic and collision-free for a given
// serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	NativeToolName(serverID, gatewayName string) (string, bool)
}

// ServerPrefixNamespace prefixes every tool with the originating server name,
// joined by a configurable separator (defaults to "__"). Characters outside
// the MCP tool-name alphabet in the server name become "_".
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return sanitizeName(serverID) + s.separator() + toolName
}

func (s ServerPrefixNamespace) NativeToolName(serverID, gatewayName string) (string, bool) {
	prefix := sanitizeName(serverID) + s.separator()
	if !strings.HasPrefix(gatewayName, prefix) {
		return "", false
	}
	return strings.TrimPrefix(gatewayName, prefix), true
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, strings.TrimSpace(name))
}
