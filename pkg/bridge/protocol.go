package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// ProtocolVersion is the MCP revision sent in the initialize handshake
	ProtocolVersion = "2024-11-05"

	// MaxFrameSize bounds one newline-delimited frame read from the provider
	MaxFrameSize = 16 << 20

	jsonRPCVersion = "2.0"
)

// request is an outgoing JSON-RPC frame. A nil ID makes it a notification.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      *uint64     `json:"id,omitempty"`
}

// response is an incoming frame: a response when ID is set, otherwise a
// server notification.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the provider
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

func encodeRequest(method string, params interface{}, id *uint64) ([]byte, error) {
	data, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	return append(data, '\n'), nil
}

// hasID reports whether the frame carries a non-null id
func (r *response) hasID() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// numericID parses the id as issued by this client
func (r *response) numericID() (uint64, bool) {
	id, err := strconv.ParseUint(string(bytes.TrimSpace(r.ID)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Tool is a tool advertised by tools/list
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type listToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type contentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
