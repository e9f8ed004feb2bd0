package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codefionn/relayd/internal/config"
	"github.com/codefionn/relayd/internal/consts"
	"github.com/codefionn/relayd/internal/logger"
)

// ServerState is the transport façade lifecycle state
type ServerState int32

const (
	// ServerStopped is both the initial and the terminal state; a stopped
	// server is reusable only via a fresh instance
	ServerStopped ServerState = iota
	// ServerStarting means the listener is being bound
	ServerStarting
	// ServerReady means the listener accepts connections
	ServerReady
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerStarting:
		return "starting"
	case ServerReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Start is called twice
var ErrAlreadyStarted = errors.New("server already started")

// ErrUnknownUser is returned by SendToUser when the correlation key has
// never been mapped to a client identity
var ErrUnknownUser = errors.New("no client identity for user")

// Server is the transport façade: it owns the listener, the connection
// table, the registry and the delivery queue, and exposes the public send
// operations consumed by the upstream message source.
type Server struct {
	cfg *config.Config

	registry   *Registry
	queue      *DeliveryQueue
	dispatcher *Dispatcher
	listener   net.Listener

	// readyFn is notified with the bound address once the listener accepts
	readyFn func(addr net.Addr)

	// Connection tracking: every live connection, registered or not
	connMu   sync.RWMutex
	conns    map[string]*Conn
	maxConns int

	state    atomic.Int32
	stopChan chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a relay server from configuration. The tool engine is
// wired separately via SetInvoker.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		conns:    make(map[string]*Conn),
		maxConns: consts.DefaultMaxConnections,
		stopChan: make(chan struct{}),
	}

	if cfg.Listen.MaxConnections > 0 {
		s.maxConns = cfg.Listen.MaxConnections
	}

	capacity := cfg.Queue.Capacity
	if capacity == 0 {
		capacity = consts.DefaultQueueCapacity
	}
	s.queue = NewDeliveryQueue(capacity)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.dispatcher = newDispatcher(s.ctx, s.registry, func(identity string) {
		// A new registration may make queued targeted deliveries reachable
		s.queue.Flush(s)
	})

	return s
}

// SetInvoker wires the external tool-invocation engine
func (s *Server) SetInvoker(invoker ToolInvoker) {
	s.dispatcher.setInvoker(invoker)
}

// SetReadyObserver registers a callback invoked with the bound address when
// the server transitions to READY. Must be called before Start.
func (s *Server) SetReadyObserver(fn func(addr net.Addr)) {
	s.readyFn = fn
}

// State returns the façade state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Addr returns the bound listener address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listening endpoint. On success the server transitions to
// READY, notifies the readiness observer and performs one queue flush; the
// accept loop then runs until Stop. A bind failure is the only condition
// that aborts startup.
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(int32(ServerStopped), int32(ServerStarting)) {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port))
	if err != nil {
		s.state.Store(int32(ServerStopped))
		return fmt.Errorf("failed to bind relay listener: %w", err)
	}
	s.listener = listener
	s.state.Store(int32(ServerReady))

	logger.Info("Relay server listening on %s (max connections: %d)", listener.Addr(), s.maxConns)

	if s.readyFn != nil {
		s.readyFn(listener.Addr())
	}

	// Messages enqueued before startup may now be deliverable
	s.queue.Flush(s)

	go s.acceptLoop()

	return nil
}

// Stop closes the listener, forcibly closes every live connection and clears
// registry and queue. The server ends in STOPPED on every exit path.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		logger.Info("Stopping relay server...")

		close(s.stopChan)
		s.cancel()
		s.state.Store(int32(ServerStopped))

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Error("Error closing relay listener: %v", err)
			}
		}

		s.connMu.RLock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.connMu.RUnlock()

		for _, c := range conns {
			c.Stop()
		}

		s.registry.Clear()
		s.queue.Clear()

		logger.Info("Relay server stopped")
	})
}

// acceptLoop accepts incoming connections until shutdown
func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("Listener closed, exiting accept loop")
				return
			}
			logger.Error("Error accepting connection: %v", err)
			continue
		}

		if s.ConnCount() >= s.maxConns {
			logger.Warn("Connection limit reached (%d), rejecting %s", s.maxConns, conn.RemoteAddr())
			conn.Close()
			continue
		}

		c := newConn(uuid.NewString(), conn, s)
		s.trackConn(c)
		c.start()

		logger.Info("Connection accepted: %s from %s (total: %d)", c.ID, c.RemoteAddr(), s.ConnCount())
	}
}

// Broadcast delivers a payload to every live connection. Broadcasting is
// fire-and-forget: with the transport READY it is never queued and never
// retried, even when nobody is connected. Before the transport is ready the
// payload is enqueued and replayed once at startup flush.
func (s *Server) Broadcast(payload interface{}) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	if s.State() != ServerReady {
		s.queue.EnqueueBroadcast(frame)
		return nil
	}

	for _, c := range s.LiveConns() {
		c.Send(frame)
	}
	return nil
}

// SendTo delivers a payload to the connection registered under an identity.
// An unreachable identity is not an error: the payload is queued and retried
// at the next flush.
func (s *Server) SendTo(identity string, payload interface{}) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	if s.State() == ServerReady {
		if c, ok := s.registry.Resolve(identity); ok {
			c.Send(frame)
			return nil
		}
	}

	s.queue.EnqueueTargeted(identity, frame)
	return nil
}

// SendToUser resolves an external correlation key to a client identity and
// delivers to it. Unlike an unreachable identity, a key that was never
// mapped is an error: there is no identity to queue against.
func (s *Server) SendToUser(userID string, payload interface{}) error {
	identity, ok := s.registry.IdentityForKey(userID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	return s.SendTo(identity, payload)
}

// Registry exposes the client registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Queue exposes the delivery queue
func (s *Server) Queue() *DeliveryQueue {
	return s.queue
}

// ConnCount returns the number of live connections
func (s *Server) ConnCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// LiveConns snapshots every live connection, registered or not. Implements
// the queue's recipientSet.
func (s *Server) LiveConns() []*Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// ResolveIdentity implements the queue's recipientSet
func (s *Server) ResolveIdentity(identity string) (*Conn, bool) {
	return s.registry.Resolve(identity)
}

func (s *Server) trackConn(c *Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[c.ID] = c
}

// removeConn drops a closed connection from the connection table and from
// every registry structure. Called exactly once, from Conn.Stop.
func (s *Server) removeConn(c *Conn) {
	s.connMu.Lock()
	delete(s.conns, c.ID)
	s.connMu.Unlock()

	s.registry.Remove(c)
}
