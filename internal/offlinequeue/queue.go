// Package offlinequeue implements the bounded FIFO of spec §7: user
// operations that arrive while the node is offline are queued and
// replayed by a flush routine once connectivity returns; the oldest
// operation is dropped with a warning on overflow.
package offlinequeue

import (
	"sync"

	"go.uber.org/zap"

	"github.com/riftdb/riftdb/internal/doc"
	"github.com/riftdb/riftdb/internal/oplog"
)

// Operation is a user-initiated write captured while no peer was
// reachable, carrying the already-chained Oplog entry so the flush
// routine can push it verbatim rather than re-deriving it.
type Operation struct {
	Collection string
	Key        string
	IsDelete   bool
	Content    doc.Value
	Entry      oplog.Entry
}

// Queue is a circular-buffer FIFO, generalized from the teacher's
// RecentWriteLog (internal/reconcile/log.go) from a time-windowed replay
// log into a capacity-bounded drop-oldest queue.
type Queue struct {
	mu       sync.Mutex
	entries  []Operation
	capacity int
	head     int // index of oldest entry
	count    int
	logger   *zap.Logger
}

func NewQueue(capacity int, logger *zap.Logger) *Queue {
	return &Queue{
		entries:  make([]Operation, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Enqueue appends op, dropping the oldest entry with a logged warning if
// the queue is at capacity (spec §7).
func (q *Queue) Enqueue(op Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		dropped := q.entries[q.head]
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.logger.Warn("offline queue full, dropping oldest operation",
			zap.String("collection", dropped.Collection),
			zap.String("key", dropped.Key))
	}

	tail := (q.head + q.count) % q.capacity
	q.entries[tail] = op
	q.count++
}

// Len returns the number of queued operations, surfaced by the health
// endpoint (spec §7: "queued offline operations count").
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Drain removes and returns every queued operation in FIFO order, for the
// flush routine to replay once connectivity returns.
func (q *Queue) Drain() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.entries[(q.head+i)%q.capacity])
	}
	q.head = 0
	q.count = 0
	return out
}
