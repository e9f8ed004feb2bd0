package relay

import "encoding/json"

// Message type constants
const (
	// Inbound
	MessageTypeRegisterClient = "register_client"
	MessageTypeUserClientMap  = "user_client_map"
	MessageTypeToolRequest    = "tool_request"

	// Outbound
	MessageTypeToolResponse = "tool_response"
)

// Envelope is the minimal shape decoded first to select the concrete message
// type. Frames whose type is not one of the constants above are logged as
// unknown and produce no reply.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterClient asserts the identity a client wants to be addressed by.
// The last registration for a given identity wins.
type RegisterClient struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// UserClientMap binds an external correlation key (an upstream user id) to a
// client identity. The identity does not have to be registered yet; the
// mapping is resolved lazily at lookup time.
type UserClientMap struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
}

// ToolRequest asks the server to invoke a tool on the client's behalf.
type ToolRequest struct {
	Type   string          `json:"type"`
	ToolID string          `json:"tool_id"`
	Args   json.RawMessage `json:"args"`
}

// ToolResponse carries the outcome of a tool invocation. Exactly one of
// Result and Error is set; use NewToolResult / NewToolError.
type ToolResponse struct {
	Type   string          `json:"type"`
	ToolID string          `json:"tool_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRegisterClient creates a registration message
func NewRegisterClient(clientID string) *RegisterClient {
	return &RegisterClient{Type: MessageTypeRegisterClient, ClientID: clientID}
}

// NewUserClientMap creates a correlation message
func NewUserClientMap(userID, clientID string) *UserClientMap {
	return &UserClientMap{Type: MessageTypeUserClientMap, UserID: userID, ClientID: clientID}
}

// NewToolRequest creates a tool invocation request
func NewToolRequest(toolID string, args json.RawMessage) *ToolRequest {
	return &ToolRequest{Type: MessageTypeToolRequest, ToolID: toolID, Args: args}
}

// NewToolResult creates a successful tool response. The result is marshalled
// here so a marshal failure surfaces at the call site instead of in the
// write pump.
func NewToolResult(toolID string, result interface{}) (*ToolResponse, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ToolResponse{Type: MessageTypeToolResponse, ToolID: toolID, Result: raw}, nil
}

// NewToolError creates a failed tool response
func NewToolError(toolID string, errMsg string) *ToolResponse {
	return &ToolResponse{Type: MessageTypeToolResponse, ToolID: toolID, Error: errMsg}
}
