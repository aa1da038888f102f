package mcpgateway

import (
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcptoolhost.server_id"
	metaKeyNativeName = "mcptoolhost.native_name"
)

// featureIndex maps downstream tool names to the upstream server and tool
// that serve them.
type featureIndex struct {
	ns NamespaceStrategy

	mu          sync.RWMutex
	tools       map[string]toolTarget
	serverTools map[string][]string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:          ns,
		tools:       make(map[string]toolTarget),
		serverTools: make(map[string][]string),
	}
}

// Replace swaps the whole index for catalog, grouped by each entry's Server.
// It returns the gateway names to unregister and the tools to register.
func (f *featureIndex) Replace(catalog []mcpmgr.ToolDescriptor) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for serverID := range f.serverTools {
		removed = append(removed, f.removeToolsLocked(serverID)...)
	}
	added = make([]toolRegistration, 0, len(catalog))
	for _, desc := range catalog {
		gatewayName := f.ns.ToolName(desc.Server, desc.Name)
		if _, dup := f.tools[gatewayName]; dup {
			continue
		}
		target := toolTarget{GatewayName: gatewayName, ServerID: desc.Server, NativeName: desc.Name}
		f.tools[gatewayName] = target
		f.serverTools[desc.Server] = append(f.serverTools[desc.Server], gatewayName)
		added = append(added, toolRegistration{Tool: buildTool(desc, gatewayName), Target: target})
	}
	return removed, added
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

// ServerTools returns the gateway names registered for serverID.
func (f *featureIndex) ServerTools(serverID string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.serverTools[serverID]...)
}

func (f *featureIndex) removeToolsLocked(serverID string) []string {
	names := f.serverTools[serverID]
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, serverID)
	return names
}

func buildTool(desc mcpmgr.ToolDescriptor, gatewayName string) *mcp.Tool {
	tool := &mcp.Tool{
		Name:        gatewayName,
		Title:       desc.Title,
		Description: desc.Description,
		InputSchema: objectSchema(desc.InputSchema),
		Meta: mcp.Meta{
			metaKeyServerID:   desc.Server,
			metaKeyNativeName: desc.Name,
		},
	}
	// Output schemas are optional; only well-formed object schemas are kept.
	var output map[string]any
	if err := json.Unmarshal(desc.OutputSchema, &output); err == nil && output["type"] == "object" {
		tool.OutputSchema = output
	}
	if len(desc.Annotations) > 0 {
		var ann mcp.ToolAnnotations
		if err := json.Unmarshal(desc.Annotations, &ann); err == nil {
			tool.Annotations = &ann
		}
	}
	return tool
}

// objectSchema decodes raw into a schema whose type is "object", which the
// MCP server requires of tool input schemas. Missing or unusable schemas
// become an empty object schema.
func objectSchema(raw []byte) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
			schema = map[string]any{}
		}
	}
	schema["type"] = "object"
	return schema
}
