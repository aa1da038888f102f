package mcpmgr

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ConsoleRPCLogger prints each message as "[MCP:<server>] SEND <json>".
// A nil writer means stdout.
func ConsoleRPCLogger(w io.Writer) RPCLogger {
	if w == nil {
		w = os.Stdout
	}
	return func(event RPCLogEvent) {
		fmt.Fprintf(w, "[MCP:%s] %s %s\n", event.ServerName, strings.ToUpper(string(event.Direction)), string(event.Message))
	}
}

// SlogRPCLogger records protocol traffic at debug level on logger.
func SlogRPCLogger(logger *slog.Logger) RPCLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event RPCLogEvent) {
		logger.Debug("mcp rpc",
			"server", event.ServerName,
			"direction", string(event.Direction),
			"payload", string(event.Message))
	}
}

// MultiRPCLogger fans every event out to each non-nil sink in order.
func MultiRPCLogger(sinks ...RPCLogger) RPCLogger {
	var live []RPCLogger
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(event RPCLogEvent) {
		for _, s := range live {
			emitRPC(s, event)
		}
	}
}

// emitRPC delivers event to sink. A panicking sink is contained so tracing
// can never fail a call.
func emitRPC(sink RPCLogger, event RPCLogEvent) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink(event)
}

func (m *Manager) resolveRPCLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	if base.LogJSONRPC || m.options.DefaultLogJSONRPC {
		return ConsoleRPCLogger(nil)
	}
	return nil
}
