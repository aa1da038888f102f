package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type capturedRequest struct {
	header http.Header
	body   map[string]any
}

func newHTTPTestTransport(t *testing.T, style CallStyle, handler func(w http.ResponseWriter, body map[string]any)) (*HTTPTransport, <-chan capturedRequest) {
	t.Helper()
	seen := make(chan capturedRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		seen <- capturedRequest{header: r.Header.Clone(), body: body}
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	cfg := &HTTPServerConfig{
		BaseServerConfig: BaseServerConfig{Name: "RemoteMCP"},
		Endpoint:         srv.URL,
		Headers:          http.Header{"Authorization": []string{"Bearer token"}},
		CallStyle:        style,
	}
	tr, err := NewHTTPTransport(cfg, TransportEnv{Server: "RemoteMCP", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPTransport() error: %v", err)
	}
	return tr, seen
}

func TestHTTPTransportJSONRPCEnvelope(t *testing.T) {
	t.Parallel()

	tr, seen := newHTTPTestTransport(t, "", func(w http.ResponseWriter, body map[string]any) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"7"}]}}`)
	})
	raw, err := tr.Call(context.Background(), methodToolsCall, callToolParams{Name: "lucky_number", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if v, _ := DecodeValue(raw); v.Text() != "7" {
		t.Fatalf("Call() = %s, expected text 7", raw)
	}
	req := <-seen
	if req.body["jsonrpc"] != "2.0" || req.body["method"] != methodToolsCall {
		t.Fatalf("request body = %v, expected a JSON-RPC tools/call", req.body)
	}
	params, _ := req.body["params"].(map[string]any)
	if params["name"] != "lucky_number" {
		t.Fatalf("params = %v, expected name lucky_number", params)
	}
	if req.header.Get("Authorization") != "Bearer token" || req.header.Get("Content-Type") != "application/json" {
		t.Fatalf("headers = %v", req.header)
	}
}

func TestHTTPTransportDirectEnvelope(t *testing.T) {
	t.Parallel()

	tr, seen := newHTTPTestTransport(t, CallStyleDirect, func(w http.ResponseWriter, body map[string]any) {
		_, _ = io.WriteString(w, `{"time":"12:00"}`)
	})
	raw, err := tr.Call(context.Background(), methodToolsCall, callToolParams{Name: "get_time", Arguments: map[string]any{"tz": "UTC"}})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if string(raw) != `{"time":"12:00"}` {
		t.Fatalf("Call() = %s, expected the bare body", raw)
	}
	req := <-seen
	if req.body["method"] != "get_time" {
		t.Fatalf("method = %v, expected get_time", req.body["method"])
	}
	if params, _ := req.body["params"].(map[string]any); params["tz"] != "UTC" {
		t.Fatalf("params = %v, expected tz UTC", req.body["params"])
	}
	if _, ok := req.body["jsonrpc"]; ok {
		t.Fatalf("direct envelope must not carry jsonrpc")
	}
}

func TestHTTPTransportStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		header    map[string]string
		body      string
		kind      ErrorKind
		retryable bool
		after     time.Duration
	}{
		{name: "rate limited", status: 429, header: map[string]string{"Retry-After": "3"}, kind: KindRateLimited, after: 3 * time.Second},
		{name: "server error", status: 502, body: "bad gateway", kind: KindTransportClosed, retryable: true},
		{name: "client error", status: 400, body: `{"error":{"message":"missing tz"}}`, kind: KindToolInvocationFailed},
		{name: "error body", status: 200, body: `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`, kind: KindToolInvocationFailed},
		{name: "string error", status: 200, body: `{"error":"nope"}`, kind: KindToolInvocationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, _ := newHTTPTestTransport(t, "", func(w http.ResponseWriter, _ map[string]any) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := tr.Call(context.Background(), methodToolsCall, callToolParams{Name: "x"})
			var e *Error
			if !errors.As(err, &e) || e.Kind != tc.kind {
				t.Fatalf("Call() error = %v, expected kind %s", err, tc.kind)
			}
			if IsRetryable(err) != tc.retryable {
				t.Fatalf("IsRetryable() = %v, expected %v", IsRetryable(err), tc.retryable)
			}
			if e.RetryAfter != tc.after {
				t.Fatalf("RetryAfter = %v, expected %v", e.RetryAfter, tc.after)
			}
		})
	}
}

func TestHTTPTransportErrorMessages(t *testing.T) {
	t.Parallel()

	tr, _ := newHTTPTestTransport(t, "", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
	})
	_, err := tr.Call(context.Background(), methodToolsCall, callToolParams{Name: "x"})
	var e *Error
	if !errors.As(err, &e) || e.Message != "invalid params" || e.Code != -32602 {
		t.Fatalf("Call() error = %#v, expected invalid params / -32602", err)
	}
}

func TestHTTPTransportUnreachableIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	tr, err := NewHTTPTransport(&HTTPServerConfig{BaseServerConfig: BaseServerConfig{Name: "gone"}, Endpoint: url}, TransportEnv{Server: "gone", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPTransport() error: %v", err)
	}
	if _, err := tr.Call(context.Background(), methodToolsList, nil); !errors.Is(err, ErrTransportClosed) || !IsRetryable(err) {
		t.Fatalf("Call() error = %v, expected retryable transport closed", err)
	}
}

func TestHTTPTransportIsStateless(t *testing.T) {
	t.Parallel()

	tr, seen := newHTTPTestTransport(t, "", func(w http.ResponseWriter, _ map[string]any) {
		_, _ = io.WriteString(w, `{"result":{}}`)
	})
	if !isStateless(tr) {
		t.Fatalf("HTTP transport should be stateless")
	}
	s := newSession("RemoteMCP", tr, initializeParams{})
	if err := s.ensureInitialized(context.Background()); err != nil {
		t.Fatalf("ensureInitialized() error: %v", err)
	}
	if err := tr.Notify(context.Background(), methodInitialized, nil); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	select {
	case req := <-seen:
		t.Fatalf("stateless session sent %v", req.body)
	default:
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestNewHTTPTransportRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPTransport(&HTTPServerConfig{BaseServerConfig: BaseServerConfig{Name: "x"}}, TransportEnv{}); err == nil {
		t.Fatalf("NewHTTPTransport() without endpoint should fail")
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("parseRetryAfter(5) = %v, expected 5s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("parseRetryAfter(\"\") = %v, expected 0", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("parseRetryAfter(soon) = %v, expected 0", got)
	}
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > 10*time.Second {
		t.Fatalf("parseRetryAfter(date) = %v, expected within 10s", got)
	}
}
