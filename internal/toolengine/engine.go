// Package toolengine provides an in-process tool-invocation engine: a named
// registry of callables behind the relay dispatcher's ToolInvoker interface.
package toolengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/relayd/internal/consts"
	"github.com/codefionn/relayd/internal/logger"
)

// Func is one registered tool. Args arrive as the raw JSON payload from the
// wire; the function decodes what it needs.
type Func func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Engine is a thread-safe registry of named tools. It implements
// relay.ToolInvoker.
type Engine struct {
	mu      sync.RWMutex
	tools   map[string]Func
	timeout time.Duration
}

// New creates an empty engine with the default per-invocation timeout
func New() *Engine {
	return &Engine{
		tools:   make(map[string]Func),
		timeout: consts.ToolInvokeTimeout,
	}
}

// SetTimeout overrides the per-invocation deadline; zero disables it
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// Register adds or replaces a tool under a name
func (e *Engine) Register(name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[name] = fn
}

// Names returns the registered tool names
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Invoke runs a registered tool under the configured deadline. An unknown
// tool identifier is an invocation failure, not a panic.
func (e *Engine) Invoke(ctx context.Context, toolID string, args json.RawMessage) (interface{}, error) {
	e.mu.RLock()
	fn, ok := e.tools[toolID]
	timeout := e.timeout
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", toolID)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := fn(ctx, args)
	if err != nil {
		logger.Debug("Tool %q failed after %s: %v", toolID, time.Since(start), err)
		return nil, err
	}

	logger.Debug("Tool %q completed in %s", toolID, time.Since(start))
	return result, nil
}
