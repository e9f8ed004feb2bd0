package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/relayd/internal/consts"
	"github.com/codefionn/relayd/internal/logger"
	"github.com/codefionn/relayd/internal/relay"
)

// ConnectionState represents the current state of the relay connection
type ConnectionState int32

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the client is attempting to connect
	StateConnecting
	// StateConnected indicates the client is connected and registered
	StateConnected
	// StateReconnecting indicates the client lost its connection and is
	// attempting to reconnect
	StateReconnecting
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned for operations on a closed client
var ErrClosed = errors.New("relay client closed")

// ErrNotConnected is returned when a send is attempted without a connection
var ErrNotConnected = errors.New("relay client not connected")

// Config holds client configuration
type Config struct {
	// Addr is the relay server address (host:port)
	Addr string
	// Identity is the client identity asserted at registration; a random
	// worker identity is generated when empty
	Identity string
	// UserID optionally binds an upstream user id to this client's identity
	UserID string
	// ConnectTimeout is the timeout for dialing
	ConnectTimeout time.Duration
	// WriteTimeout is the deadline for writing one frame
	WriteTimeout time.Duration
	// ReconnectEnabled enables automatic reconnection
	ReconnectEnabled bool
	// MaxReconnectAttempts caps reconnection attempts; 0 means unlimited
	MaxReconnectAttempts int
	// ReconnectDelay is the initial delay between reconnection attempts
	ReconnectDelay time.Duration
	// ReconnectMaxDelay caps the exponential reconnect backoff
	ReconnectMaxDelay time.Duration
}

// DefaultConfig returns a default configuration for the given address
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:              addr,
		Identity:          "worker-" + uuid.NewString(),
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      consts.WriteTimeout,
		ReconnectEnabled:  true,
		ReconnectDelay:    consts.ReconnectDelay,
		ReconnectMaxDelay: consts.ReconnectMaxDelay,
	}
}

// Client is a relay protocol client: it registers an identity, issues tool
// requests and receives pushed payloads. On a lost connection it redials and
// re-registers, because the server forgets closed connections.
type Client struct {
	cfg *Config

	connMu sync.Mutex
	conn   net.Conn

	state atomic.Int32

	// Tool responses carry no request id, only the tool id; waiters for the
	// same tool are answered in FIFO order.
	pendingMu sync.Mutex
	pending   map[string][]chan *relay.ToolResponse

	// onPush receives every inbound frame that is not a tool response
	pushMu sync.RWMutex
	onPush func(payload json.RawMessage)

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a client; call Connect to establish the connection
func New(cfg *Config) *Client {
	if cfg.Identity == "" {
		cfg.Identity = "worker-" + uuid.NewString()
	}
	return &Client{
		cfg:      cfg,
		pending:  make(map[string][]chan *relay.ToolResponse),
		stopChan: make(chan struct{}),
	}
}

// Identity returns the identity this client registers under
func (c *Client) Identity() string {
	return c.cfg.Identity
}

// State returns the connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// OnPush registers the handler for pushed payloads (anything that is not a
// tool response). Must be set before Connect to avoid missing early pushes.
func (c *Client) OnPush(fn func(payload json.RawMessage)) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	c.onPush = fn
}

// Connect dials the server, registers the client identity and starts the
// read loop. The optional user mapping is sent right after registration.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	c.state.Store(int32(StateConnecting))

	if err := c.dialAndRegister(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	go c.readLoop()
	return nil
}

func (c *Client) dialAndRegister(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to dial relay server %s: %w", c.cfg.Addr, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.Send(relay.NewRegisterClient(c.cfg.Identity)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to register: %w", err)
	}
	if c.cfg.UserID != "" {
		if err := c.Send(relay.NewUserClientMap(c.cfg.UserID, c.cfg.Identity)); err != nil {
			conn.Close()
			return fmt.Errorf("failed to send user mapping: %w", err)
		}
	}

	c.state.Store(int32(StateConnected))
	logger.Info("Connected to relay %s as %q", c.cfg.Addr, c.cfg.Identity)
	return nil
}

// Send encodes a message and writes it as one frame
func (c *Client) Send(v interface{}) error {
	frame, err := relay.EncodeFrame(v)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// InvokeTool sends a tool request and waits for the matching response. The
// args value is marshalled as the opaque argument payload.
func (c *Client) InvokeTool(ctx context.Context, toolID string, args interface{}) (*relay.ToolResponse, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool args: %w", err)
	}

	ch := make(chan *relay.ToolResponse, 1)
	c.pendingMu.Lock()
	c.pending[toolID] = append(c.pending[toolID], ch)
	c.pendingMu.Unlock()

	if err := c.Send(relay.NewToolRequest(toolID, rawArgs)); err != nil {
		c.discardWaiter(toolID, ch)
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.discardWaiter(toolID, ch)
		return nil, ctx.Err()
	case <-c.stopChan:
		return nil, ErrClosed
	}
}

func (c *Client) discardWaiter(toolID string, ch chan *relay.ToolResponse) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	waiters := c.pending[toolID]
	for i, w := range waiters {
		if w == ch {
			c.pending[toolID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.pending[toolID]) == 0 {
		delete(c.pending, toolID)
	}
}

// readLoop reassembles frames from the connection and routes them. A read
// error hands off to the reconnect loop when reconnection is enabled.
func (c *Client) readLoop() {
	dec := relay.NewDecoder(consts.MaxFrameSize)
	buf := make([]byte, consts.ReadChunkSize)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if frame.Err != nil {
					logger.Warn("Dropping malformed frame from server: %v", frame.Err)
					continue
				}
				c.handleFrame(frame.Msg)
			}
		}
		if err != nil {
			if c.State() == StateClosed {
				return
			}
			logger.Warn("Connection to relay lost: %v", err)
			dec.Reset()
			if !c.cfg.ReconnectEnabled || !c.reconnect() {
				c.state.Store(int32(StateDisconnected))
				return
			}
		}
	}
}

func (c *Client) handleFrame(raw json.RawMessage) {
	var env relay.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("Dropping non-object frame from server: %v", err)
		return
	}

	if env.Type == relay.MessageTypeToolResponse {
		var resp relay.ToolResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			logger.Warn("Dropping malformed tool response: %v", err)
			return
		}
		c.resolvePending(&resp)
		return
	}

	c.pushMu.RLock()
	fn := c.onPush
	c.pushMu.RUnlock()
	if fn != nil {
		fn(raw)
	} else {
		logger.Debug("Dropping pushed payload (no handler): type %q", env.Type)
	}
}

func (c *Client) resolvePending(resp *relay.ToolResponse) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	waiters := c.pending[resp.ToolID]
	if len(waiters) == 0 {
		logger.Warn("Tool response for %q with no waiter", resp.ToolID)
		return
	}

	ch := waiters[0]
	if len(waiters) == 1 {
		delete(c.pending, resp.ToolID)
	} else {
		c.pending[resp.ToolID] = waiters[1:]
	}
	ch <- resp
}

// reconnect redials with exponential backoff and re-registers, because a
// fresh connection starts unregistered on the server side. Returns false
// when the attempt budget is exhausted or the client is closed.
func (c *Client) reconnect() bool {
	c.state.Store(int32(StateReconnecting))

	delay := c.cfg.ReconnectDelay
	if delay <= 0 {
		delay = consts.ReconnectDelay
	}

	for attempt := 1; c.cfg.MaxReconnectAttempts == 0 || attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.stopChan:
			return false
		case <-time.After(delay):
		}

		logger.Info("Reconnecting to relay %s (attempt %d)", c.cfg.Addr, attempt)
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.dialAndRegister(ctx)
		cancel()
		if err == nil {
			return true
		}
		logger.Warn("Reconnect attempt %d failed: %v", attempt, err)

		delay *= 2
		if maxDelay := c.cfg.ReconnectMaxDelay; maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}

	logger.Error("Giving up reconnecting to relay %s", c.cfg.Addr)
	return false
}

// Close tears the client down. Pending invocations fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.stopChan)

		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
	return err
}
