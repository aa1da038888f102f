package mcpmgr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk description of a deployment. Both YAML and JSON
// documents are accepted; a document that is a bare list is read as Servers.
type FileConfig struct {
	ClientName      string             `yaml:"client_name"`
	ClientVersion   string             `yaml:"client_version"`
	ProtocolVersion string             `yaml:"protocol_version"`
	MinIntervalMS   *int               `yaml:"min_interval_ms"`
	TimeoutMS       int                `yaml:"timeout_ms"`
	LogLevel        string             `yaml:"log_level"`
	LogJSONRPC      bool               `yaml:"log_jsonrpc"`
	Servers         []FileServerConfig `yaml:"servers"`
}

// FileServerConfig is one server entry.
type FileServerConfig struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Cwd           string            `yaml:"cwd"`
	Env           map[string]string `yaml:"env"`
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers"`
	CallStyle     string            `yaml:"call_style"`
	TimeoutMS     int               `yaml:"timeout_ms"`
	Version       string            `yaml:"version"`
	Tools         []string          `yaml:"tools"`
	FallbackTools []FileToolConfig  `yaml:"fallback_tools"`
	Disabled      bool              `yaml:"disabled"`
	LogJSONRPC    bool              `yaml:"log_jsonrpc"`
}

// FileToolConfig declares a fallback catalog entry.
type FileToolConfig struct {
	Name        string         `yaml:"name"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// LoadConfigFile reads and parses path.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML or JSON configuration document.
func ParseConfig(data []byte) (*FileConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := &FileConfig{}
	if len(doc.Content) == 0 {
		return cfg, nil
	}
	root := doc.Content[0]
	var err error
	if root.Kind == yaml.SequenceNode {
		err = root.Decode(&cfg.Servers)
	} else {
		err = root.Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ServerConfigs converts the enabled entries into ServerConfig values,
// keeping their order.
func (f *FileConfig) ServerConfigs() ([]ServerConfig, error) {
	out := make([]ServerConfig, 0, len(f.Servers))
	seen := make(map[string]bool, len(f.Servers))
	for i, s := range f.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("MCP%d", i+1)
		}
		if s.Disabled {
			continue
		}
		key := serverKey(name)
		if seen[key] {
			return nil, fmt.Errorf("mcpmgr: duplicate server %q", name)
		}
		seen[key] = true
		cfg, err := s.toServerConfig(name, f.TimeoutMS)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s FileServerConfig) toServerConfig(name string, defaultTimeoutMS int) (ServerConfig, error) {
	kind, err := ParseConfigTransport(s.Type)
	if err != nil {
		return nil, fmt.Errorf("%w (server %q)", err, name)
	}
	timeoutMS := s.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = defaultTimeoutMS
	}
	base := BaseServerConfig{
		Name:       name,
		Timeout:    time.Duration(timeoutMS) * time.Millisecond,
		Version:    s.Version,
		LogJSONRPC: s.LogJSONRPC,
		Tools:      append([]string(nil), s.Tools...),
	}
	// An http entry without a URL is started as a subprocess.
	if kind == TransportHTTP && strings.TrimSpace(s.URL) != "" {
		style := CallStyle(strings.ToLower(s.CallStyle))
		switch style {
		case "", CallStyleJSONRPC, CallStyleDirect:
		default:
			return nil, fmt.Errorf("mcpmgr: unknown call_style %q (server %q)", s.CallStyle, name)
		}
		cfg := &HTTPServerConfig{BaseServerConfig: base, Endpoint: s.URL, CallStyle: style}
		if len(s.Headers) > 0 {
			cfg.Headers = make(http.Header, len(s.Headers))
			for k, v := range s.Headers {
				cfg.Headers.Set(k, os.ExpandEnv(v))
			}
		}
		for _, t := range s.FallbackTools {
			desc := ToolDescriptor{Name: t.Name, Title: t.Title, Description: t.Description}
			if t.InputSchema != nil {
				schema, err := json.Marshal(t.InputSchema)
				if err != nil {
					return nil, fmt.Errorf("mcpmgr: fallback tool %q schema: %w", t.Name, err)
				}
				desc.InputSchema = schema
			}
			cfg.FallbackTools = append(cfg.FallbackTools, desc)
		}
		return cfg, nil
	}
	if strings.TrimSpace(s.Command) == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", name)
	}
	return &StdioServerConfig{
		BaseServerConfig: base,
		Command:          s.Command,
		Args:             append([]string(nil), s.Args...),
		Dir:              s.Cwd,
		Env:              s.Env,
	}, nil
}

// ManagerOptions derives Manager options from the document. Fields the file
// leaves unset keep the package defaults.
func (f *FileConfig) ManagerOptions(logger *slog.Logger) *ManagerOptions {
	opts := &ManagerOptions{
		DefaultClientName:    f.ClientName,
		DefaultClientVersion: f.ClientVersion,
		ProtocolVersion:      f.ProtocolVersion,
		DefaultLogJSONRPC:    f.LogJSONRPC,
		Logger:               logger,
	}
	if f.MinIntervalMS != nil {
		opts.MinInterval = time.Duration(*f.MinIntervalMS) * time.Millisecond
		if *f.MinIntervalMS == 0 {
			opts.MinInterval = -1
		}
	}
	return opts
}

// ParseLogLevel maps a config log level to slog. Unknown values yield info.
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
