package mcpmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
)

const maxHTTPBody = 16 << 20

// HTTPTransport issues one POST per request. It holds no session state.
type HTTPTransport struct {
	env      TransportEnv
	endpoint string
	client   *http.Client
	headers  http.Header
	style    CallStyle
	nextID   atomic.Int64
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport validates cfg and returns a transport for its endpoint.
func NewHTTPTransport(cfg *HTTPServerConfig, env TransportEnv) (*HTTPTransport, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", cfg.Name)
	}
	if env.Timeout <= 0 {
		env.Timeout = DefaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	style := cfg.CallStyle
	if style == "" {
		style = CallStyleJSONRPC
	}
	return &HTTPTransport{
		env:      env,
		endpoint: endpoint,
		client:   client,
		headers:  cloneHeader(cfg.Headers),
		style:    style,
	}, nil
}

func (t *HTTPTransport) Stateless() bool { return true }

func (t *HTTPTransport) Close() error { return nil }

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	// Stateless servers have nothing to be notified about.
	return nil
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := t.envelope(method, params)
	if err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.env.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: build request for %q: %w", t.env.Server, err)
	}
	for k, values := range t.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	t.env.trace(RPCDirectionSend, body)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Server: t.env.Server, Method: method,
				Message: fmt.Sprintf("%s: no response within %s", method, t.env.Timeout)}
		}
		return nil, &Error{Kind: KindTransportClosed, Server: t.env.Server, Method: method, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, &Error{Kind: KindTransportClosed, Server: t.env.Server, Method: method, Message: "read response", Cause: err}
	}
	t.env.trace(RPCDirectionReceive, payload)
	return t.interpret(method, resp, payload)
}

func (t *HTTPTransport) envelope(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	if t.style == CallStyleDirect {
		if method == methodToolsCall {
			var call callToolParams
			if err := json.Unmarshal(raw, &call); err != nil {
				return nil, fmt.Errorf("mcpmgr: decode tool call: %w", err)
			}
			if call.Arguments == nil {
				call.Arguments = map[string]any{}
			}
			return json.Marshal(map[string]any{"method": call.Name, "params": call.Arguments})
		}
		return json.Marshal(map[string]any{"method": method, "params": raw})
	}
	return encodeRequest(t.nextID.Add(1), method, raw)
}

func (t *HTTPTransport) interpret(method string, resp *http.Response, payload []byte) (json.RawMessage, error) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Server:     t.env.Server,
			Method:     method,
			Message:    "rate limited by server",
			Code:       resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindTransportClosed, Server: t.env.Server, Method: method,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode), Code: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if detail := bodyErrorMessage(payload); detail != "" {
			msg += ": " + detail
		}
		return nil, toolFailure(t.env.Server, method, msg, resp.StatusCode)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	if errVal, typ, _, err := jsonparser.Get(payload, "error"); err == nil && typ != jsonparser.Null {
		msg := string(errVal)
		code := 0
		if typ == jsonparser.Object {
			if m, err := jsonparser.GetString(errVal, "message"); err == nil {
				msg = m
			}
			if c, err := jsonparser.GetInt(errVal, "code"); err == nil {
				code = int(c)
			}
		}
		return nil, toolFailure(t.env.Server, method, msg, code)
	}
	if result, _, _, err := jsonparser.Get(payload, "result"); err == nil {
		return json.RawMessage(bytes.Clone(result)), nil
	}
	if !json.Valid(payload) {
		return nil, toolFailure(t.env.Server, method, "response is not valid JSON", resp.StatusCode)
	}
	return json.RawMessage(bytes.Clone(payload)), nil
}

func bodyErrorMessage(payload []byte) string {
	if msg, err := jsonparser.GetString(payload, "error", "message"); err == nil {
		return msg
	}
	if msg, err := jsonparser.GetString(payload, "error"); err == nil {
		return msg
	}
	if msg, err := jsonparser.GetString(payload, "message"); err == nil {
		return msg
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

// defaultFallbackTools is reported by HTTP servers whose tools/list fails.
var defaultFallbackTools = []ToolDescriptor{
	{Name: "get_time", Description: "Returns the current server time.", InputSchema: []byte(`{"type":"object","properties":{"tz":{"type":"string","description":"IANA time zone"}}}`)},
	{Name: "lucky_number", Description: "Returns a random lucky number.", InputSchema: []byte(`{"type":"object","properties":{}}`)},
	{Name: "fun_fact", Description: "Returns a fun fact.", InputSchema: []byte(`{"type":"object","properties":{}}`)},
	{Name: "taylor_lyric", Description: "Returns a Taylor Swift lyric.", InputSchema: []byte(`{"type":"object","properties":{}}`)},
}
