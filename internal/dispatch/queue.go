// Package dispatch assembles outbound responses, orders them by priority,
// and drains them to the radio transport through one paced consumer.
package dispatch

import (
	"sync"

	"github.com/meshgate/meshgate/internal/models"
)

// Queue is the single outbound queue: three priority tiers drained high
// first, FIFO within a tier, so a run of low-priority scheduled content can
// never delay an emergency response. Push never blocks; Pop blocks until a
// message is available or the queue is closed.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tiers  [3][]*models.OutboundMessage // indexed by priority, low first
	closed bool
}

// tierIndex maps a priority to its tier slot, clamping anything out of range
// to normal.
func tierIndex(p models.Priority) int {
	if p < models.PriorityLow || p > models.PriorityHigh {
		p = models.PriorityNormal
	}
	return int(p - models.PriorityLow)
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a message into its priority tier. Pushes after Close are
// dropped.
func (q *Queue) Push(msg *models.OutboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	i := tierIndex(msg.Priority)
	q.tiers[i] = append(q.tiers[i], msg)
	q.cond.Signal()
}

// Pop removes the highest-priority pending message, blocking while the
// queue is empty. Returns false once the queue is closed and drained.
func (q *Queue) Pop() (*models.OutboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for p := models.PriorityHigh; p >= models.PriorityLow; p-- {
			i := tierIndex(p)
			tier := q.tiers[i]
			if len(tier) > 0 {
				msg := tier[0]
				q.tiers[i] = tier[1:]
				return msg, true
			}
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Len returns the number of pending messages across all tiers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[0]) + len(q.tiers[1]) + len(q.tiers[2])
}

// Close stops accepting new messages and wakes blocked Pops once the
// backlog drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
