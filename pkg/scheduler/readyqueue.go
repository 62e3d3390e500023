package scheduler

import (
	"sync"

	"github.com/forgecore/forgecore/pkg/graph"
)

// ReadyQueue is the priority-aware deque of §4.4: High/Critical entries are
// pushed to the front, Low/Normal to the back, and Pop always drains from
// the front. It is the in-process default transport; for a multi-process
// deployment AMQPReadyQueue offers Push plus a Consume delivery channel
// (it has no Pop, and the two types share no interface).
type ReadyQueue struct {
	mu      sync.Mutex
	entries []readyEntry
}

type readyEntry struct {
	target   graph.TargetID
	priority Priority
}

// NewReadyQueue returns an empty queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{}
}

// Push enqueues target at priority, at the front for High/Critical and the
// back otherwise.
func (q *ReadyQueue) Push(target graph.TargetID, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := readyEntry{target: target, priority: priority}
	if priority.front() {
		q.entries = append([]readyEntry{entry}, q.entries...)
		return
	}
	q.entries = append(q.entries, entry)
}

// PushFront unconditionally enqueues at the very front, used by RetryPolicy
// to prefer re-dispatch of a failed High/Critical action over newly ready
// Low/Normal ones.
func (q *ReadyQueue) PushFront(target graph.TargetID, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]readyEntry{{target: target, priority: priority}}, q.entries...)
}

// Pop dequeues the front entry, reporting false if the queue is empty.
func (q *ReadyQueue) Pop() (graph.TargetID, Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return "", 0, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e.target, e.priority, true
}

// Len reports the number of pending entries.
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
