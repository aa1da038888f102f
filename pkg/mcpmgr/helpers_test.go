package mcpmgr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vikashloomba/mcp-toolhost-go/pkg/demotools"
)

const helperEnv = "MCPMGR_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
	case "demotools":
		if err := demotools.ServeStdio("helper-demotools"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "crash":
		runScriptedServer(true)
		os.Exit(3)
	case "crash-once":
		marker := os.Getenv("MCPMGR_HELPER_MARKER")
		_, err := os.Stat(marker)
		first := errors.Is(err, os.ErrNotExist)
		if first {
			_ = os.WriteFile(marker, []byte("crashed"), 0o600)
		}
		runScriptedServer(first)
		os.Exit(3)
	default:
		os.Exit(2)
	}
	os.Exit(m.Run())
}

// runScriptedServer answers initialize and tools/list; tools/call either
// kills the process or echoes the arguments back.
func runScriptedServer(crashOnCall bool) {
	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || len(req.ID) == 0 {
			continue
		}
		var result string
		switch req.Method {
		case "initialize":
			result = `{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"scripted","version":"1.0.0"}}`
		case "tools/list":
			result = `{"tools":[{"name":"boom","inputSchema":{"type":"object"}}]}`
		case "tools/call":
			if crashOnCall {
				os.Exit(3)
			}
			result = fmt.Sprintf(`{"content":[{"type":"text","text":"survived"}],"echo":%s}`, req.Params)
		default:
			fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"Method not found"}}`+"\n", req.ID)
			out.Flush()
			continue
		}
		fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%s,"result":%s}`+"\n", req.ID, result)
		out.Flush()
	}
}

func helperServer(name, mode string) *StdioServerConfig {
	return &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Name: name, Timeout: 20 * time.Second},
		Command:          os.Args[0],
		Args:             []string{"-test.run=^$"},
		Env:              map[string]string{helperEnv: mode},
	}
}

// fakeTransport is an in-memory Transport driven by a handler function.
type fakeTransport struct {
	mu        sync.Mutex
	calls     []string
	notifies  []string
	closed    bool
	stateless bool
	handler   func(ctx context.Context, method string, params any) (json.RawMessage, error)
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return json.RawMessage(`{}`), nil
	}
	return handler(ctx, method, params)
}

func (f *fakeTransport) Notify(_ context.Context, method string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, method)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Stateless() bool { return f.stateless }

func (f *fakeTransport) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out transports from build, counting dials.
type fakeDialer struct {
	dials atomic.Int32
	mu    sync.Mutex
	made  []*fakeTransport
	build func(n int, cfg ServerConfig) (*fakeTransport, error)
}

func (d *fakeDialer) dial(_ context.Context, cfg ServerConfig, _ TransportEnv) (Transport, error) {
	n := int(d.dials.Add(1))
	t, err := d.build(n, cfg)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.made = append(d.made, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) transports() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTransport(nil), d.made...)
}

// lineSink collects what a StdioTransport writes to its server.
type lineSink struct {
	lines  chan []byte
	closed atomic.Bool
}

func newLineSink() *lineSink { return &lineSink{lines: make(chan []byte, 64)} }

func (s *lineSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	s.lines <- bytes.Clone(p)
	return len(p), nil
}

func (s *lineSink) Close() error {
	s.closed.Store(true)
	return nil
}

// pipeServer plays the server side of a StdioTransport without a process.
type pipeServer struct {
	t         *testing.T
	transport *StdioTransport
	sink      *lineSink
	stdout    *io.PipeWriter
	exit      chan error
	exitOnce  sync.Once
}

func newPipeServer(t *testing.T, env TransportEnv) *pipeServer {
	t.Helper()
	if env.Server == "" {
		env.Server = "pipe"
	}
	stdoutR, stdoutW := io.Pipe()
	s := &pipeServer{t: t, sink: newLineSink(), stdout: stdoutW, exit: make(chan error, 1)}
	wait := func() error { return <-s.exit }
	kill := func() error {
		s.exitWith(errors.New("signal: killed"))
		return nil
	}
	s.transport = newStdioTransport(env, s.sink, stdoutR, wait, kill)
	t.Cleanup(func() { _ = s.transport.Close() })
	return s
}

type sentRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *pipeServer) next() sentRequest {
	s.t.Helper()
	select {
	case line := <-s.sink.lines:
		var req sentRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.t.Fatalf("server received invalid JSON %q: %v", line, err)
		}
		return req
	case <-time.After(5 * time.Second):
		s.t.Fatalf("timed out waiting for a request")
	}
	return sentRequest{}
}

func (s *pipeServer) send(line string) {
	s.t.Helper()
	if _, err := io.WriteString(s.stdout, line); err != nil {
		s.t.Fatalf("write to client: %v", err)
	}
}

// closeStdout ends the client's input while the fake process keeps running.
func (s *pipeServer) closeStdout() {
	_ = s.stdout.Close()
}

func (s *pipeServer) exitWith(err error) {
	s.exitOnce.Do(func() {
		_ = s.stdout.Close()
		s.exit <- err
	})
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}
