package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpgateway "github.com/vikashloomba/mcp-toolhost-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhost-go/pkg/tracestore"
)

const defaultConfig = "servers.yaml"

// host is a loaded configuration and the Manager built from it.
type host struct {
	file    *mcpmgr.FileConfig
	logger  *slog.Logger
	manager *mcpmgr.Manager
}

// loadHost reads path and builds a Manager. Extra RPC sinks are fanned out
// alongside any console logging the file enables.
func loadHost(path string, sinks ...mcpmgr.RPCLogger) (*host, error) {
	file, err := mcpmgr.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: mcpmgr.ParseLogLevel(file.LogLevel),
	}))
	cfgs, err := file.ServerConfigs()
	if err != nil {
		return nil, err
	}
	opts := file.ManagerOptions(logger)
	if len(sinks) > 0 {
		if file.LogJSONRPC {
			sinks = append(sinks, mcpmgr.ConsoleRPCLogger(os.Stderr))
		}
		opts.RPCLogger = mcpmgr.MultiRPCLogger(sinks...)
	}
	manager, err := mcpmgr.NewManager(cfgs, opts)
	if err != nil {
		return nil, err
	}
	return &host{file: file, logger: logger, manager: manager}, nil
}

// start launches every server. Servers that fail are logged and skipped.
func (h *host) start(ctx context.Context) {
	if err := h.manager.Start(ctx); err != nil {
		h.logger.Warn("some servers failed to start", "err", err)
	}
}

func (h *host) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.manager.Shutdown(ctx); err != nil {
		h.logger.Warn("shutdown incomplete", "err", err)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "server configuration file")
	addr := fs.String("addr", ":8700", "gateway listen address")
	token := fs.String("token", os.Getenv("TOOLHOST_TOKEN"), "bearer token required by the gateway")
	traceDB := fs.String("trace-db", "", "record protocol traffic in this SQLite file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := mcpgateway.NewEventStream(nil)
	sinks := []mcpmgr.RPCLogger{events.Logger()}
	var store *tracestore.Store
	if *traceDB != "" {
		var err error
		if store, err = tracestore.Open(*traceDB); err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store.Logger(func(err error) {
			slog.Warn("trace store write failed", "err", err)
		}))
	}

	h, err := loadHost(*configPath, sinks...)
	if err != nil {
		return err
	}
	defer h.shutdown()
	h.start(ctx)

	opts := &mcpgateway.Options{Addr: *addr, Events: events, Logger: h.logger}
	if *token != "" {
		opts.TokenVerifier = mcpgateway.StaticTokenVerifier(*token)
	}
	gateway, err := mcpgateway.NewGateway(h.manager, opts)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	return nil
}

func runCatalog(args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "server configuration file")
	out := fs.String("o", "", "write the catalog to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, err := loadHost(*configPath)
	if err != nil {
		return err
	}
	defer h.shutdown()
	ctx := context.Background()
	h.start(ctx)
	h.manager.RefreshTools(ctx)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return h.manager.WriteCatalog(w)
}

func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "server configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	server, tool, toolArgs, err := parseCallArgs(fs.Args())
	if err != nil {
		return err
	}

	h, err := loadHost(*configPath)
	if err != nil {
		return err
	}
	defer h.shutdown()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	h.start(ctx)

	value, err := h.manager.Dispatch(ctx, server, tool, toolArgs)
	if err != nil {
		return err
	}
	fmt.Println(value.Text())
	if value.IsToolError() {
		return fmt.Errorf("%s/%s reported an error", server, tool)
	}
	return nil
}

// parseCallArgs splits "<server> <tool> [json-args]".
func parseCallArgs(rest []string) (string, string, map[string]any, error) {
	if len(rest) < 2 || len(rest) > 3 {
		return "", "", nil, fmt.Errorf("usage: toolhost call <server> <tool> [json-args]")
	}
	args := map[string]any{}
	if len(rest) == 3 && strings.TrimSpace(rest[2]) != "" {
		if err := json.Unmarshal([]byte(rest[2]), &args); err != nil {
			return "", "", nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	return rest[0], rest[1], args, nil
}

func runTraces(args []string) error {
	fs := flag.NewFlagSet("traces", flag.ContinueOnError)
	dbPath := fs.String("db", "traces.db", "trace database written by serve -trace-db")
	server := fs.String("server", "", "only show this server")
	limit := fs.Int("limit", 20, "number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := tracestore.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.Recent(context.Background(), *server, *limit)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s [%s] %s %s\n", e.RecordedAt.Format(time.RFC3339Nano), e.Server, strings.ToUpper(string(e.Direction)), e.Payload)
	}
	return nil
}
