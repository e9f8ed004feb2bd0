package relay

import (
	"sync"

	"github.com/codefionn/relayd/internal/logger"
)

// queueEntry is one buffered delivery. An empty identity marks a broadcast.
type queueEntry struct {
	identity string
	frame    []byte
}

// recipientSet is the view of the live population a flush replays against.
// The server implements it; queue state never references connections
// directly, so entries are always resolved against current registry state.
type recipientSet interface {
	ResolveIdentity(identity string) (*Conn, bool)
	LiveConns() []*Conn
}

// DeliveryQueue buffers outbound messages that cannot be delivered
// immediately and replays them when the reachable population may have
// changed. FIFO within each kind; broadcast and targeted entries stay
// interleaved in arrival order.
//
// The queue is bounded: when full, the oldest entry is evicted so a target
// that never reconnects cannot grow memory without limit.
type DeliveryQueue struct {
	mu       sync.Mutex
	entries  []queueEntry
	capacity int
	evicted  uint64
}

// NewDeliveryQueue creates a queue holding at most capacity entries. A
// capacity of zero or less means unbounded.
func NewDeliveryQueue(capacity int) *DeliveryQueue {
	return &DeliveryQueue{capacity: capacity}
}

// EnqueueBroadcast appends a broadcast frame to the tail
func (q *DeliveryQueue) EnqueueBroadcast(frame []byte) {
	q.enqueue(queueEntry{frame: frame})
}

// EnqueueTargeted appends a frame addressed to one identity to the tail
func (q *DeliveryQueue) EnqueueTargeted(identity string, frame []byte) {
	q.enqueue(queueEntry{identity: identity, frame: frame})
}

func (q *DeliveryQueue) enqueue(e queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.entries) >= q.capacity {
		dropped := q.entries[0]
		q.entries = q.entries[1:]
		q.evicted++
		logger.Warn("Delivery queue full (capacity %d), evicted oldest entry (target: %q)",
			q.capacity, dropped.identity)
	}
	q.entries = append(q.entries, e)
}

// Flush walks the queue once in order, replaying each entry against the
// current population. A broadcast entry is handed to every live connection
// and dropped regardless of how many there were: broadcasting is
// fire-and-forget. A targeted entry is dropped only when its identity
// resolves to a live connection; otherwise it is kept, preserving order.
func (q *DeliveryQueue) Flush(rec recipientSet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return
	}

	var pending []queueEntry
	delivered := 0
	for _, e := range q.entries {
		if e.identity == "" {
			for _, c := range rec.LiveConns() {
				c.Send(e.frame)
			}
			delivered++
			continue
		}

		c, ok := rec.ResolveIdentity(e.identity)
		if !ok {
			pending = append(pending, e)
			continue
		}
		c.Send(e.frame)
		delivered++
	}

	q.entries = pending
	if delivered > 0 {
		logger.Debug("Delivery queue flushed: %d delivered, %d still pending", delivered, len(pending))
	}
}

// Len returns the number of buffered entries
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Evicted returns how many entries were dropped to honor the capacity bound
func (q *DeliveryQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// SetCapacity adjusts the bound at runtime. Shrinking evicts oldest entries
// immediately.
func (q *DeliveryQueue) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.capacity = capacity
	if capacity > 0 && len(q.entries) > capacity {
		over := len(q.entries) - capacity
		q.entries = q.entries[over:]
		q.evicted += uint64(over)
		logger.Warn("Delivery queue capacity lowered to %d, evicted %d oldest entries", capacity, over)
	}
}

// Clear drops every buffered entry. Used during server teardown.
func (q *DeliveryQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
