package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	stdioReadChunk  = 32 * 1024
	stdioFrameQueue = 64
	// stdioCloseGrace bounds how long Close waits for the reader to drain.
	stdioCloseGrace = 3 * time.Second
)

// StdioTransport speaks newline-delimited JSON-RPC with a subprocess.
//
// A reader goroutine performs blocking reads on the server's stdout, frames
// and decodes lines and queues them; a dispatcher goroutine matches them to
// pending requests. When stdout ends the dispatcher rejects everything still
// pending, waits briefly for the process to record its exit status and marks
// the transport dead.
type StdioTransport struct {
	env  TransportEnv
	corr *Correlator

	writeMu sync.Mutex
	stdin   io.WriteCloser

	wait func() error
	kill func() error

	frames chan *frame
	done   chan struct{}

	mu      sync.Mutex
	closing bool
	readErr error
	exitErr error

	closeOnce sync.Once
}

var _ Transport = (*StdioTransport)(nil)

// StartStdioTransport spawns cfg.Command and returns a transport bound to its
// stdio. ctx only bounds startup; the process lives until Close or exit.
func StartStdioTransport(ctx context.Context, cfg *StdioServerConfig, env TransportEnv) (*StdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", cfg.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		environ := os.Environ()
		for k, v := range cfg.Env {
			environ = append(environ, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = environ
	}
	cmd.WaitDelay = stdioCloseGrace
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: stdin pipe for %q: %w", cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: stdout pipe for %q: %w", cfg.Name, err)
	}
	cmd.Stderr = newStderrLogWriter(env)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpmgr: start %q: %w", cfg.Name, err)
	}
	env.logger().Info("mcp server started", "server", env.Server, "conn", env.ConnID, "pid", cmd.Process.Pid)
	kill := func() error { return cmd.Process.Kill() }
	return newStdioTransport(env, stdin, stdout, cmd.Wait, kill), nil
}

func newStdioTransport(env TransportEnv, stdin io.WriteCloser, stdout io.Reader, wait, kill func() error) *StdioTransport {
	t := &StdioTransport{
		env:    env,
		corr:   NewCorrelator(),
		stdin:  stdin,
		wait:   wait,
		kill:   kill,
		frames: make(chan *frame, stdioFrameQueue),
		done:   make(chan struct{}),
	}
	go t.readLoop(stdout)
	go t.dispatchLoop()
	return t
}

// Done is closed once the transport is dead.
func (t *StdioTransport) Done() <-chan struct{} { return t.done }

// Err reports why the transport died, or nil while it is alive.
func (t *StdioTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// Pending reports the number of requests awaiting a response.
func (t *StdioTransport) Pending() int { return t.corr.Pending() }

// Send writes a request and returns its pending handle without waiting.
func (t *StdioTransport) Send(method string, params any) (*PendingRequest, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := t.corr.NextID()
	pending, err := t.corr.Register(id)
	if err != nil {
		return nil, err
	}
	line, err := encodeRequest(id, method, raw)
	if err != nil {
		t.corr.Reject(id, err)
		return nil, err
	}
	if err := t.writeLine(line); err != nil {
		werr := transportClosed(t.env.Server, "write %s: %v", method, err)
		t.corr.Reject(id, werr)
		return nil, werr
	}
	return pending, nil
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	pending, err := t.Send(method, params)
	if err != nil {
		return nil, err
	}
	waitCtx := ctx
	if t.env.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.env.Timeout)
		defer cancel()
	}
	select {
	case <-pending.Done():
		return pending.Result()
	case <-waitCtx.Done():
		t.corr.Reject(pending.ID, waitCtx.Err())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &Error{
			Kind:    KindTimeout,
			Server:  t.env.Server,
			Method:  method,
			Message: fmt.Sprintf("%s: no response within %s", method, t.env.Timeout),
		}
	}
}

func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return t.Err()
	default:
	}
	line, err := encodeRequest(0, method, raw)
	if err != nil {
		return err
	}
	if err := t.writeLine(line); err != nil {
		return transportClosed(t.env.Server, "write %s: %v", method, err)
	}
	return nil
}

// Close terminates the subprocess. Requests still pending are rejected with
// a transport-closed error.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closing = true
		t.mu.Unlock()
		t.corr.AbortAll(transportClosed(t.env.Server, "transport closed"))
		_ = t.stdin.Close()
		if t.kill != nil {
			_ = t.kill()
		}
	})
	select {
	case <-t.done:
	case <-time.After(stdioCloseGrace):
		t.env.logger().Warn("mcp server did not exit in time", "server", t.env.Server, "conn", t.env.ConnID)
	}
	return nil
}

func (t *StdioTransport) writeLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(buf); err != nil {
		return err
	}
	t.env.trace(RPCDirectionSend, line)
	return nil
}

func (t *StdioTransport) readLoop(r io.Reader) {
	defer close(t.frames)
	log := t.env.logger()
	framer := LineFramer{OnOverflow: func(n int) {
		log.Warn("mcp: discarding oversized line", "server", t.env.Server, "kind", KindFraming, "bytes", n)
	}}
	buf := make([]byte, stdioReadChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				f, derr := decodeFrame(line)
				if derr != nil {
					log.Debug("mcp: dropping unparseable line", "server", t.env.Server, "kind", KindFraming, "err", derr)
					continue
				}
				t.env.trace(RPCDirectionReceive, line)
				t.frames <- f
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.mu.Lock()
				t.readErr = err
				t.mu.Unlock()
			}
			return
		}
	}
}

func (t *StdioTransport) dispatchLoop() {
	for f := range t.frames {
		t.handleFrame(f)
	}
	// Nothing more can arrive, so pending requests fail now even if the
	// process keeps running.
	aborted := t.corr.AbortAll(t.streamClosedReason())

	exited := make(chan error, 1)
	go func() {
		var err error
		if t.wait != nil {
			err = t.wait()
		}
		exited <- err
	}()
	var waitErr error
	hasExited := true
	select {
	case waitErr = <-exited:
	case <-time.After(stdioCloseGrace):
		hasExited = false
	}
	reason := t.exitReason(waitErr, hasExited)
	t.mu.Lock()
	t.exitErr = reason
	closing := t.closing
	t.mu.Unlock()
	if !closing {
		t.env.logger().Warn("mcp server exited", "server", t.env.Server, "conn", t.env.ConnID, "aborted", aborted, "err", reason)
	}
	close(t.done)
}

func (t *StdioTransport) handleFrame(f *frame) {
	log := t.env.logger()
	if f.request {
		log.Debug("mcp: ignoring server-initiated message", "server", t.env.Server, "method", f.method)
		return
	}
	if !f.hasID {
		log.Debug("mcp: response without usable id", "server", t.env.Server, "kind", KindUnmatchedResponse)
		return
	}
	var matched bool
	if f.hasError {
		matched = t.corr.Reject(f.id, toolFailure(t.env.Server, "", f.errMsg, f.errCode))
	} else {
		matched = t.corr.Resolve(f.id, f.result)
	}
	if !matched {
		log.Debug("mcp: response for unknown id", "server", t.env.Server, "id", f.id, "kind", KindUnmatchedResponse)
	}
}

// streamClosedReason explains why stdout ended, before the exit status is
// known.
func (t *StdioTransport) streamClosedReason() error {
	t.mu.Lock()
	closing, readErr := t.closing, t.readErr
	t.mu.Unlock()
	switch {
	case closing:
		return transportClosed(t.env.Server, "transport closed")
	case readErr != nil:
		return &Error{Kind: KindTransportClosed, Server: t.env.Server, Message: "read failed", Cause: readErr}
	default:
		return transportClosed(t.env.Server, "server output closed")
	}
}

func (t *StdioTransport) exitReason(waitErr error, exited bool) error {
	t.mu.Lock()
	closing, readErr := t.closing, t.readErr
	t.mu.Unlock()
	switch {
	case closing:
		return transportClosed(t.env.Server, "transport closed")
	case readErr != nil:
		return &Error{Kind: KindTransportClosed, Server: t.env.Server, Message: "read failed", Cause: readErr}
	case !exited:
		return transportClosed(t.env.Server, "server closed its output but is still running")
	case waitErr != nil:
		return &Error{Kind: KindTransportClosed, Server: t.env.Server, Message: "server process exited", Cause: waitErr}
	default:
		return transportClosed(t.env.Server, "server process exited")
	}
}

// stderrLogWriter forwards a server's stderr to the debug log line by line.
type stderrLogWriter struct {
	env    TransportEnv
	mu     sync.Mutex
	framer LineFramer
}

func newStderrLogWriter(env TransportEnv) *stderrLogWriter {
	return &stderrLogWriter{env: env, framer: LineFramer{MaxLineBytes: 64 * 1024}}
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	lines := w.framer.Feed(p)
	w.mu.Unlock()
	for _, line := range lines {
		w.env.logger().Debug("mcp server stderr", "server", w.env.Server, "line", string(line))
	}
	return len(p), nil
}
