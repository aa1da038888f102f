package mcpmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultProtocolVersion is advertised during the handshake.
	DefaultProtocolVersion = "2024-11-05"

	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)

// frame is one decoded inbound line.
type frame struct {
	id       int64
	hasID    bool
	request  bool // server-initiated request or notification
	method   string
	result   json.RawMessage
	errMsg   string
	errCode  int
	hasError bool
	raw      []byte
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: encode params: %w", err)
	}
	return raw, nil
}

// encodeRequest produces one JSON-RPC line (without the newline). A zero id
// produces a notification.
func encodeRequest(id int64, method string, params json.RawMessage) ([]byte, error) {
	req := &jsonrpc.Request{Method: method, Params: params}
	if id != 0 {
		rid, err := jsonrpc.MakeID(float64(id))
		if err != nil {
			return nil, err
		}
		req.ID = rid
	}
	return jsonrpc.EncodeMessage(req)
}

// inboundMessage is the loose shape of a line from a server. Only the id is
// required to match a response; the "jsonrpc" tag is not checked.
type inboundMessage struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func decodeFrame(line []byte) (*frame, error) {
	var msg inboundMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	f := &frame{raw: line, method: msg.Method, request: msg.Method != ""}
	f.id, f.hasID = idValue(msg.ID)
	if f.request {
		return f, nil
	}
	if len(msg.Error) > 0 && !isJSONNull(msg.Error) {
		f.hasError = true
		f.errMsg = errorText(msg.Error)
		if code, err := jsonparser.GetInt(msg.Error, "code"); err == nil {
			f.errCode = int(code)
		}
		return f, nil
	}
	f.result = msg.Result
	if len(f.result) == 0 {
		f.result = json.RawMessage("null")
	}
	return f, nil
}

// errorText pulls a message out of an error member, which is normally an
// object but may be a bare string.
func errorText(raw json.RawMessage) string {
	if msg, err := jsonparser.GetString(raw, "message"); err == nil {
		return msg
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

func idValue(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || isJSONNull(raw) {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

type initializeParams struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    clientCapabilities  `json:"capabilities"`
	ClientInfo      *mcp.Implementation `json:"clientInfo"`
}

type clientCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
	Prompts   struct{} `json:"prompts"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type listToolsResult struct {
	Tools []wireTool `json:"tools"`
}

type wireTool struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Annotations  json.RawMessage `json:"annotations,omitempty"`
}
