package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// ServerSummary aggregates status information for a configured server.
type ServerSummary struct {
	ID     string
	Status ConnectionStatus
	Config ServerConfig
	// Live is false for servers that failed to start.
	Live bool
}

// Manager orchestrates the clients of every configured server. It starts
// them, aggregates their tool catalogs and routes calls to them.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	configs []ServerConfig
	filters map[string][]glob.Glob

	started bool
	clients map[string]*Client
	order   []string
	catalog []ToolDescriptor

	limiter *RateLimiter
}

// NewManager validates cfgs and returns a Manager for them. Server names must
// be non-empty and unique ignoring case. Callers can pass nil options to fall
// back to defaults.
func NewManager(cfgs []ServerConfig, opts *ManagerOptions) (*Manager, error) {
	options := opts.normalized()
	m := &Manager{
		options: options,
		filters: make(map[string][]glob.Glob),
		clients: make(map[string]*Client),
		limiter: NewRateLimiter(),
	}
	seen := make(map[string]bool, len(cfgs))
	for i, cfg := range cfgs {
		if cfg == nil {
			return nil, fmt.Errorf("mcpmgr: server config %d is nil", i)
		}
		name := strings.TrimSpace(cfg.base().Name)
		if name == "" {
			return nil, fmt.Errorf("mcpmgr: server config %d has no name", i)
		}
		key := serverKey(name)
		if seen[key] {
			return nil, fmt.Errorf("mcpmgr: duplicate server %q", name)
		}
		seen[key] = true
		for _, pattern := range cfg.base().Tools {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("mcpmgr: tool pattern %q for %q: %w", pattern, name, err)
			}
			m.filters[key] = append(m.filters[key], g)
		}
		m.configs = append(m.configs, cfg)
	}
	return m, nil
}

// Start launches every configured client concurrently and keeps the ones that
// came up. Individual failures never abort startup; they are logged and
// joined into the returned error for reporting.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: manager already started")
	}
	m.started = true
	m.mu.Unlock()

	clients := make([]*Client, len(m.configs))
	errs := make([]error, len(m.configs))
	var wg sync.WaitGroup
	for i, cfg := range m.configs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			base := cfg.base()
			client := newClient(cfg, m.options, m.resolveRPCLogger(base))
			if err := client.Start(ctx); err != nil {
				errs[i] = fmt.Errorf("mcpmgr: start %q: %w", base.Name, err)
				m.options.Logger.Warn("mcp server failed to start", "server", base.Name, "err", err)
				if base.OnError != nil {
					base.OnError(err)
				}
				return
			}
			clients[i] = client
		}()
	}
	wg.Wait()

	m.mu.Lock()
	for _, client := range clients {
		if client == nil {
			continue
		}
		key := serverKey(client.Name())
		m.clients[key] = client
		m.order = append(m.order, key)
	}
	live := len(m.order)
	m.mu.Unlock()
	m.options.Logger.Info("mcp servers started", "live", live, "configured", len(m.configs))
	return errors.Join(errs...)
}

// RefreshTools lists tools on every live client concurrently and rebuilds the
// aggregate catalog, in configuration order, with each entry tagged with its
// server. Servers whose listing fails contribute nothing.
func (m *Manager) RefreshTools(ctx context.Context) []ToolDescriptor {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.order))
	for _, key := range m.order {
		clients = append(clients, m.clients[key])
	}
	m.mu.RUnlock()

	lists := make([][]ToolDescriptor, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tools, err := client.ListTools(ctx)
			if err != nil {
				m.options.Logger.Warn("mcp tool discovery failed", "server", client.Name(), "err", err)
				if onErr := client.Config().base().OnError; onErr != nil {
					onErr(err)
				}
				return
			}
			lists[i] = m.filterTools(client.Name(), tools)
		}()
	}
	wg.Wait()

	var catalog []ToolDescriptor
	for _, tools := range lists {
		catalog = append(catalog, tools...)
	}
	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()
	return append([]ToolDescriptor(nil), catalog...)
}

// ListAggregateTools returns the catalog built by the last RefreshTools.
func (m *Manager) ListAggregateTools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolDescriptor(nil), m.catalog...)
}

// Dispatch calls tool on the named server. The rate limiter is consulted once
// per Dispatch; the reconnect retry inside the client is not re-checked.
func (m *Manager) Dispatch(ctx context.Context, server, tool string, args map[string]any) (Value, error) {
	client := m.Client(server)
	if client == nil {
		return Value{}, &Error{Kind: KindUnknownServer, Server: server, Message: fmt.Sprintf("server %q is not available", server)}
	}
	name := client.Name()
	if m.options.MinInterval > 0 {
		if adm := m.limiter.CheckAndRecord(name, m.options.MinInterval); !adm.Admitted {
			m.options.Logger.Info("mcp call rate limited", "server", name, "tool", tool, "wait", adm.Wait)
			return Value{}, &Error{Kind: KindRateLimited, Server: name, Message: "rate limited", RetryAfter: adm.Wait}
		}
	}
	raw, err := client.CallTool(ctx, tool, args)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindRateLimited {
			limited := *e
			limited.Server = name
			if limited.RetryAfter <= 0 {
				limited.RetryAfter = m.limiter.Remaining(name, m.options.MinInterval)
			}
			if limited.RetryAfter < time.Second {
				limited.RetryAfter = time.Second
			}
			return Value{}, &limited
		}
		return Value{}, err
	}
	return DecodeValue(raw)
}

// Shutdown closes every client. It returns early with ctx's error when ctx
// ends first; the clients keep closing in the background.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, key := range m.order {
		clients = append(clients, m.clients[key])
	}
	m.mu.Unlock()

	errs := make([]error, len(clients))
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i, client := range clients {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = client.Close()
			}()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return errors.Join(errs...)
	}
}

// ListServers returns the names of live servers in configuration order.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.order))
	for _, key := range m.order {
		names = append(names, m.clients[key].Name())
	}
	return names
}

// HasServer reports whether a live server answers to name.
func (m *Manager) HasServer(name string) bool {
	return m.Client(name) != nil
}

// Client returns the live client for name, matched ignoring case, or nil.
func (m *Manager) Client(name string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[serverKey(name)]
}

// GetServerConfig returns the configuration registered for name, whether or
// not the server started.
func (m *Manager) GetServerConfig(name string) ServerConfig {
	key := serverKey(name)
	for _, cfg := range m.configs {
		if serverKey(cfg.base().Name) == key {
			return cfg
		}
	}
	return nil
}

// GetServerSummaries returns status snapshots for all configured servers.
func (m *Manager) GetServerSummaries() []ServerSummary {
	summaries := make([]ServerSummary, 0, len(m.configs))
	for _, cfg := range m.configs {
		summary := ServerSummary{ID: cfg.base().Name, Config: cfg, Status: StatusDisconnected}
		if client := m.Client(summary.ID); client != nil {
			summary.Live = true
			summary.Status = client.Status()
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

type catalogEntry struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
	Annotations  json.RawMessage `json:"annotations"`
	MCP          string          `json:"mcp"`
}

// WriteCatalog writes the aggregate catalog as an indented JSON array.
func (m *Manager) WriteCatalog(w io.Writer) error {
	tools := m.ListAggregateTools()
	entries := make([]catalogEntry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, catalogEntry{
			Name:         t.Name,
			Title:        t.Title,
			Description:  t.Description,
			InputSchema:  rawOrEmptyObject(t.InputSchema),
			OutputSchema: rawOrEmptyObject(t.OutputSchema),
			Annotations:  rawOrEmptyObject(t.Annotations),
			MCP:          t.Server,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func (m *Manager) filterTools(server string, tools []ToolDescriptor) []ToolDescriptor {
	m.mu.RLock()
	patterns := m.filters[serverKey(server)]
	m.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if len(patterns) > 0 && !matchesAny(patterns, tool.Name) {
			continue
		}
		tool.Server = server
		out = append(out, tool)
	}
	return out
}

func matchesAny(patterns []glob.Glob, name string) bool {
	for _, g := range patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func rawOrEmptyObject(raw []byte) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func serverKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
