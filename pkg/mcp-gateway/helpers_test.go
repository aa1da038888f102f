package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
)

// stubTransport is a stateless upstream serving a fixed catalog. Tool calls
// echo their arguments back as text.
type stubTransport struct {
	server string
	tools  string
}

func (s *stubTransport) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	switch method {
	case "tools/list":
		return json.RawMessage(s.tools), nil
	case "tools/call":
		data, _ := json.Marshal(params)
		var call struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(data, &call)
		if call.Name == "fail" {
			return json.RawMessage(`{"isError":true,"content":[{"type":"text","text":"upstream refused"}]}`), nil
		}
		args, _ := json.Marshal(call.Arguments)
		text, _ := json.Marshal(fmt.Sprintf("%s/%s %s", s.server, call.Name, args))
		return json.RawMessage(fmt.Sprintf(`{"content":[{"type":"text","text":%s}]}`, text)), nil
	}
	return json.RawMessage(`{}`), nil
}

func (s *stubTransport) Notify(context.Context, string, any) error { return nil }
func (s *stubTransport) Close() error { return nil }
func (s *stubTransport) Stateless() bool { return true }

// startedManager runs a Manager over stub upstreams keyed by server name.
// A negative minInterval disables rate limiting.
func startedManager(t *testing.T, minInterval time.Duration, catalogs map[string]string, order ...string) *mcpmgr.Manager {
	t.Helper()
	cfgs := make([]mcpmgr.ServerConfig, 0, len(order))
	for _, name := range order {
		cfgs = append(cfgs, &mcpmgr.HTTPServerConfig{
			BaseServerConfig: mcpmgr.BaseServerConfig{Name: name},
			Endpoint:         "http://stub.invalid/" + name,
		})
	}
	m, err := mcpmgr.NewManager(cfgs, &mcpmgr.ManagerOptions{
		MinInterval: minInterval,
		Logger:      slog.New(slog.DiscardHandler),
		Dialer: func(_ context.Context, cfg mcpmgr.ServerConfig, _ mcpmgr.TransportEnv) (mcpmgr.Transport, error) {
			name := mcpmgr.NameOf(cfg)
			return &stubTransport{server: name, tools: catalogs[name]}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func newQuietGateway(t *testing.T, m *mcpmgr.Manager, opts *Options) *Gateway {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	g, err := NewGateway(m, opts)
	if err != nil {
		t.Fatalf("NewGateway() error: %v", err)
	}
	return g
}

func emptyManager(t *testing.T) *mcpmgr.Manager {
	t.Helper()
	m, err := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m
}
