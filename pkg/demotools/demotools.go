// Package demotools is a small MCP tool server used as a local stdio
// reference server and as the subprocess in integration tests.
package demotools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported in the initialize response.
const Version = "0.1.0"

var funFacts = []string{
	"Octopuses have three hearts.",
	"Honey never spoils.",
	"A day on Venus is longer than a year on Venus.",
	"Bananas are berries, strawberries are not.",
}

// NewServer returns an MCP server exposing get_time, lucky_number, fun_fact
// and echo.
func NewServer(name string) *server.MCPServer {
	if name == "" {
		name = "demo-tools"
	}
	s := server.NewMCPServer(name, Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.AddTool(getTimeTool(), handleGetTime)
	s.AddTool(luckyNumberTool(), handleLuckyNumber)
	s.AddTool(funFactTool(), handleFunFact)
	s.AddTool(echoTool(), handleEcho)
	return s
}

// ServeStdio serves the demo tools on the process's stdin and stdout.
func ServeStdio(name string) error {
	return server.ServeStdio(NewServer(name))
}

func getTimeTool() mcp.Tool {
	return mcp.NewTool("get_time",
		mcp.WithDescription("Returns the current time, optionally in an IANA time zone."),
		mcp.WithString("tz",
			mcp.Description("IANA time zone such as Europe/Madrid. Defaults to UTC."),
		),
	)
}

func handleGetTime(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tz := req.GetString("tz", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown time zone %q", tz)), nil
	}
	return mcp.NewToolResultText(time.Now().In(loc).Format(time.RFC3339)), nil
}

func luckyNumberTool() mcp.Tool {
	return mcp.NewTool("lucky_number",
		mcp.WithDescription("Returns a lucky number between 1 and 100."),
	)
}

func handleLuckyNumber(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("%d", rand.IntN(100)+1)), nil
}

func funFactTool() mcp.Tool {
	return mcp.NewTool("fun_fact",
		mcp.WithDescription("Returns a random fun fact."),
	)
}

func handleFunFact(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(funFacts[rand.IntN(len(funFacts))]), nil
}

func echoTool() mcp.Tool {
	return mcp.NewTool("echo",
		mcp.WithDescription("Returns the given text unchanged."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to echo back"),
		),
	)
}

func handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	return mcp.NewToolResultText(text), nil
}
