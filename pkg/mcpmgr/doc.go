// Package mcpmgr connects one Go process to many Model Context Protocol (MCP)
// tool servers, reached either as local subprocesses speaking
// newline-delimited JSON-RPC over stdio or as remote HTTP endpoints taking one
// POST per request.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, call Start to launch every configured server (servers that
//     fail to start are dropped), RefreshTools to build the aggregate tool
//     catalog, and Dispatch to invoke a tool by server and tool name.
//   - ServerConfig (and the HTTPServerConfig / StdioServerConfig variants)
//     declare how each server is launched or contacted. LoadConfigFile reads
//     them from a YAML or JSON document.
//   - Client is the per-server handle. It runs the initialize handshake once
//     per connection, reconnects once when the transport fails mid-call and
//     retries the call on the fresh connection.
//
// Dispatch applies a per-server minimum call interval (ManagerOptions.
// MinInterval). Rejected calls fail with an *Error of kind KindRateLimited
// whose message tells the user how many seconds to wait.
//
// Protocol traffic can be observed through an RPCLogger. ConsoleRPCLogger,
// SlogRPCLogger and MultiRPCLogger cover the common sinks; a failing sink
// never fails a call.
//
// Use the helper guards and narrowers (IsStdio/IsHTTP and AsStdio/AsHTTP) or
// TransportOf to branch on the concrete transport type of a ServerConfig.
// Avoid marshaling BaseServerConfig directly because it contains function
// fields.
package mcpmgr
