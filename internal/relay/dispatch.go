package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/codefionn/relayd/internal/logger"
)

// ToolInvoker is the external tool-invocation engine. Given a tool identifier
// and an opaque argument payload it returns a result or fails. Invocations
// may block; the dispatcher calls them on their own goroutine.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error)
}

// ToolInvokerFunc adapts a function to the ToolInvoker interface
type ToolInvokerFunc func(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error)

// Invoke implements ToolInvoker
func (f ToolInvokerFunc) Invoke(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error) {
	return f(ctx, toolID, args)
}

// httpProbeReply is the minimal well-formed answer for infrastructure
// health-check probes that speak HTTP against the relay port.
var httpProbeReply = []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")

// httpProbeVerbs are the request-line prefixes recognized as foreign-protocol
// probes. The verb must be followed by a path.
var httpProbeVerbs = [][]byte{[]byte("GET "), []byte("HEAD "), []byte("POST ")}

// Dispatcher interprets inbound frames: registrations and correlations go to
// the registry, tool requests to the invocation engine, everything else is
// logged as unknown. Malformed input never terminates a session.
type Dispatcher struct {
	registry *Registry
	invoker  ToolInvoker

	// ctx bounds every tool invocation; cancelled on server stop
	ctx context.Context

	// onRegistered fires after each successful registration so the server
	// can flush the delivery queue against the changed population
	onRegistered func(identity string)
}

func newDispatcher(ctx context.Context, registry *Registry, onRegistered func(identity string)) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		ctx:          ctx,
		onRegistered: onRegistered,
	}
}

// setInvoker wires the external tool engine. Tool requests arriving before
// this is called are answered with an error response.
func (d *Dispatcher) setInvoker(invoker ToolInvoker) {
	d.invoker = invoker
}

// dispatch routes one parsed frame. Handler errors are logged, never fatal
// to the connection.
func (d *Dispatcher) dispatch(c *Conn, raw json.RawMessage) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Valid JSON that is not an object (an array or a bare scalar)
		logger.Warn("Connection %s sent non-object frame: %v", c.ID, err)
		return
	}

	switch env.Type {
	case MessageTypeRegisterClient:
		d.handleRegister(c, raw)

	case MessageTypeUserClientMap:
		d.handleUserClientMap(c, raw)

	case MessageTypeToolRequest:
		d.handleToolRequest(c, raw)

	default:
		logger.Warn("Connection %s sent unknown message type %q", c.ID, env.Type)
	}
}

func (d *Dispatcher) handleRegister(c *Conn, raw json.RawMessage) {
	var msg RegisterClient
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("Connection %s sent malformed %s: %v", c.ID, MessageTypeRegisterClient, err)
		return
	}
	if msg.ClientID == "" {
		logger.Warn("Connection %s sent %s without clientId", c.ID, MessageTypeRegisterClient)
		return
	}

	d.registry.Register(c, msg.ClientID)
	c.markRegistered()
	logger.Info("Connection %s registered as %q", c.ID, msg.ClientID)

	if d.onRegistered != nil {
		d.onRegistered(msg.ClientID)
	}
}

func (d *Dispatcher) handleUserClientMap(c *Conn, raw json.RawMessage) {
	var msg UserClientMap
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("Connection %s sent malformed %s: %v", c.ID, MessageTypeUserClientMap, err)
		return
	}
	if msg.UserID == "" || msg.ClientID == "" {
		logger.Warn("Connection %s sent %s with empty userId or clientId", c.ID, MessageTypeUserClientMap)
		return
	}

	d.registry.Correlate(msg.UserID, msg.ClientID)
	logger.Debug("Correlated user %q -> client %q", msg.UserID, msg.ClientID)
}

// handleToolRequest invokes the tool engine asynchronously. The connection
// keeps receiving frames while the invocation is in flight; concurrent
// invocations on one connection write their responses in completion order.
func (d *Dispatcher) handleToolRequest(c *Conn, raw json.RawMessage) {
	var msg ToolRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn("Connection %s sent malformed %s: %v", c.ID, MessageTypeToolRequest, err)
		return
	}
	if msg.ToolID == "" {
		logger.Warn("Connection %s sent %s without tool_id", c.ID, MessageTypeToolRequest)
		return
	}

	go func() {
		resp := d.invoke(msg.ToolID, msg.Args)
		if err := c.SendMessage(resp); err != nil {
			logger.Error("Failed to encode tool response for connection %s: %v", c.ID, err)
		}
	}()
}

// invoke calls the engine and converts every failure mode, including a
// panicking engine, into an error-bearing response frame.
func (d *Dispatcher) invoke(toolID string, args json.RawMessage) (resp *ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Tool %q invocation panicked: %v", toolID, r)
			resp = NewToolError(toolID, fmt.Sprintf("tool invocation panicked: %v", r))
		}
	}()

	if d.invoker == nil {
		return NewToolError(toolID, "no tool engine configured")
	}

	result, err := d.invoker.Invoke(d.ctx, toolID, args)
	if err != nil {
		logger.Warn("Tool %q invocation failed: %v", toolID, err)
		return NewToolError(toolID, err.Error())
	}

	resp, err = NewToolResult(toolID, result)
	if err != nil {
		logger.Error("Tool %q produced unmarshallable result: %v", toolID, err)
		return NewToolError(toolID, fmt.Sprintf("result not serializable: %v", err))
	}
	return resp
}

// handleDecodeFailure classifies a frame that did not parse as JSON. A
// recognizable HTTP request line is an infrastructure health check and gets a
// minimal success reply; anything else is logged. Neither closes the
// connection.
func (d *Dispatcher) handleDecodeFailure(c *Conn, frame Frame) {
	if isForeignProbe(frame.Raw) {
		logger.Debug("Connection %s looks like a health-check probe, answering 200", c.ID)
		c.Send(httpProbeReply)
		return
	}

	logger.Warn("Connection %s frame decode error: %v", c.ID, frame.Err)
}

func isForeignProbe(line []byte) bool {
	for _, verb := range httpProbeVerbs {
		if bytes.HasPrefix(line, verb) && len(line) > len(verb) && line[len(verb)] == '/' {
			return true
		}
	}
	return false
}
