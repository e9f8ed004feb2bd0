package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/relayd/internal/consts"
	"github.com/codefionn/relayd/internal/logger"
)

// ConnState is the lifecycle state of a client connection
type ConnState int32

const (
	// StateConnected is the state after accept, before registration
	StateConnected ConnState = iota
	// StateRegistered is the state after a valid registration frame
	StateRegistered
	// StateClosed is terminal; the connection is gone from all registry
	// structures and its buffer is discarded
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn owns one client socket, its parsing buffer and its optional assigned
// identity. It runs one read pump and one write pump; inbound frames on a
// single connection are therefore processed in arrival order.
type Conn struct {
	// ID is the server-assigned connection identifier
	ID string

	conn   net.Conn
	server *Server
	dec    *Decoder

	// Outbound frames, already encoded and delimited
	send chan []byte

	mu       sync.Mutex
	identity string
	closed   bool

	state    atomic.Int32
	stopOnce sync.Once
	stopChan chan struct{}
}

func newConn(id string, nc net.Conn, server *Server) *Conn {
	return &Conn{
		ID:       id,
		conn:     nc,
		server:   server,
		dec:      NewDecoder(consts.MaxFrameSize),
		send:     make(chan []byte, consts.SendBufferFrames),
		stopChan: make(chan struct{}),
	}
}

// start launches the read and write pumps
func (c *Conn) start() {
	go c.readPump()
	go c.writePump()
	logger.Debug("Connection %s started pumps (remote: %s)", c.ID, c.RemoteAddr())
}

// Stop tears the connection down: it is removed from the registry and the
// server's connection table, the socket is closed and the send channel
// drained. Safe to call more than once.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.state.Store(int32(StateClosed))

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.server.removeConn(c)

		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Connection %s close: %v", c.ID, err)
		}
		c.dec.Reset()

		logger.Info("Connection %s closed", c.ID)
	})
}

// readPump reads raw chunks, feeds the frame decoder and hands complete
// frames to the dispatcher. Any stream error ends the connection.
func (c *Conn) readPump() {
	defer c.Stop()

	buf := make([]byte, consts.ReadChunkSize)
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, frame := range c.dec.Feed(buf[:n]) {
				if frame.Err != nil {
					c.server.dispatcher.handleDecodeFailure(c, frame)
					continue
				}
				c.server.dispatcher.dispatch(c, frame.Msg)
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("Connection %s disconnected (EOF)", c.ID)
			case errors.Is(err, net.ErrClosed):
				logger.Debug("Connection %s read after close", c.ID)
			default:
				logger.Error("Error reading from connection %s: %v", c.ID, err)
			}
			return
		}
	}
}

// writePump writes queued outbound frames to the socket
func (c *Conn) writePump() {
	defer c.Stop()

	for {
		select {
		case <-c.stopChan:
			return

		case frame, ok := <-c.send:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(consts.WriteTimeout)); err != nil {
				logger.Error("Failed to set write deadline for connection %s: %v", c.ID, err)
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				logger.Error("Failed to write to connection %s: %v", c.ID, err)
				return
			}
		}
	}
}

// Send queues an encoded frame for delivery. Frames for a closed connection
// or a full send buffer are dropped with a warning; a slow client must not
// stall the rest of the population.
func (c *Conn) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		logger.Debug("Dropping frame for closed connection %s", c.ID)
		return
	}

	select {
	case c.send <- frame:
	default:
		logger.Warn("Send buffer full for connection %s, frame dropped", c.ID)
	}
}

// SendMessage encodes a message and queues it
func (c *Conn) SendMessage(v interface{}) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	c.Send(frame)
	return nil
}

// State returns the lifecycle state
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// markRegistered flips the connection to REGISTERED. Re-registration is not
// distinguished from first registration.
func (c *Conn) markRegistered() {
	c.state.CompareAndSwap(int32(StateConnected), int32(StateRegistered))
}

// Identity returns the assigned identity, empty until registered
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// RemoteAddr describes the remote endpoint
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
