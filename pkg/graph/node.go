package graph

import "sync/atomic"

// Status is the lifecycle state of a BuildNode. Transitions form a DAG:
// Pending -> Building -> (Success | Failed | Cached); Failed may transition
// back to Pending while retries remain (§3).
type Status int32

const (
	StatusPending Status = iota
	StatusBuilding
	StatusSuccess
	StatusFailed
	StatusCached
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBuilding:
		return "building"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Node is the mutable wrapper around a Target. Status, retry count, and the
// pending-dependency counter are atomics so readers never need the graph
// lock on the hot path (§5 Concurrency & Resource Model); Dependencies and
// Dependents are structural and frozen once the owning Graph validates.
type Node struct {
	Target Target

	status       atomic.Int32
	retryCount   atomic.Int32
	pendingDeps  atomic.Int32
	cachedDepth  atomic.Int64 // -1 means "not computed"
	lastErr      atomic.Value // error

	Dependencies []TargetID // frozen after Graph.Validate
	Dependents   []TargetID // computed by Validate, frozen thereafter
}

func newNode(t Target) *Node {
	n := &Node{Target: t, Dependencies: append([]TargetID(nil), t.Dependencies...)}
	n.status.Store(int32(StatusPending))
	n.cachedDepth.Store(-1)
	return n
}

func (n *Node) Status() Status { return Status(n.status.Load()) }

func (n *Node) setStatus(s Status) { n.status.Store(int32(s)) }

// CompareAndSetStatus performs the atomic transition the scheduler relies on
// to avoid double-dispatch.
func (n *Node) CompareAndSetStatus(from, to Status) bool {
	return n.status.CompareAndSwap(int32(from), int32(to))
}

// ForceFail unconditionally transitions a node to Failed, used by the
// scheduler to propagate a permanent upstream failure to a dependent that
// never reached Building (§4.4: "Failed without retries marks all
// dependents as Failed (transitive propagation via the graph)").
func (n *Node) ForceFail(err error) {
	n.SetLastError(err)
	n.setStatus(StatusFailed)
}

func (n *Node) RetryCount() int { return int(n.retryCount.Load()) }

func (n *Node) IncRetry() int { return int(n.retryCount.Add(1)) }

// PendingDeps returns the current count of unmet dependencies.
func (n *Node) PendingDeps() int { return int(n.pendingDeps.Load()) }

// DecPendingDeps atomically decrements the pending-dependency counter and
// reports whether it reached zero on this call (the happens-before signal
// that makes the node Ready, §5).
func (n *Node) DecPendingDeps() bool {
	return n.pendingDeps.Add(-1) == 0
}

func (n *Node) resetPendingDeps(count int) { n.pendingDeps.Store(int32(count)) }

func (n *Node) LastError() error {
	if v := n.lastErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

func (n *Node) SetLastError(err error) {
	if err != nil {
		n.lastErr.Store(err)
	}
}

func (n *Node) depth() (int64, bool) {
	v := n.cachedDepth.Load()
	if v < 0 {
		return 0, false
	}
	return v, true
}

func (n *Node) setDepth(d int64) { n.cachedDepth.Store(d) }

func (n *Node) invalidateDepth() { n.cachedDepth.Store(-1) }
