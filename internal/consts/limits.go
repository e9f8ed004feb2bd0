package consts

import "time"

// Buffer sizes for socket I/O
const (
	// ReadChunkSize is the size of a single read from a client socket
	ReadChunkSize = 4 * 1024
	// MaxFrameSize is the maximum size of a single wire frame
	MaxFrameSize = 1024 * 1024
	// SendBufferFrames is the per-connection outbound channel depth
	SendBufferFrames = 256
)

// Timeouts for socket operations
const (
	// WriteTimeout is the deadline for writing a frame to a client
	WriteTimeout = 10 * time.Second
	// ToolInvokeTimeout is the default deadline for a single tool invocation
	ToolInvokeTimeout = 60 * time.Second
	// ReconnectDelay is the initial client reconnect backoff
	ReconnectDelay = 2 * time.Second
	// ReconnectMaxDelay caps the client reconnect backoff
	ReconnectMaxDelay = 30 * time.Second
)

// Defaults for the delivery queue
const (
	// DefaultQueueCapacity bounds the number of undelivered messages held in
	// memory; the oldest entry is evicted when the bound is reached
	DefaultQueueCapacity = 1024
)

// Connection limits
const (
	// DefaultMaxConnections is the default cap on simultaneous clients
	DefaultMaxConnections = 64
)
