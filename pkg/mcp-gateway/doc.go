// Package mcpgateway republishes the aggregate tool catalog of an
// mcpmgr.Manager as a single Streamable HTTP MCP server. Every upstream tool
// is exposed under a namespaced name and calls are routed back through
// Manager.Dispatch, so downstream clients get the same rate limiting and
// reconnect behavior as in-process callers. Protocol traffic can be watched
// live on a server-sent events endpoint.
package mcpgateway
