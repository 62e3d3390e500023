// Package scheduler implements C4 of the design: the priority-aware,
// dependency-driven dispatcher sitting between pkg/graph and whatever
// executes an action (pkg/sandbox locally, pkg/reapi remotely). Scheduler
// ties together ReadyQueue, WorkerRegistry, RetryPolicy and the optional
// HistoryStore into the single state machine §4.4 describes: Pending ->
// Ready -> Scheduled -> Executing -> Completed|Failed, with Failed
// re-entering Ready while retries remain.
package scheduler

import (
	"context"
	"sync"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/forgelog"
	"github.com/forgecore/forgecore/pkg/graph"
)

// Scheduler is the actor-style coordinator of §4.4. All state transitions
// (schedule, dequeue_ready, assign, on_complete, on_failure,
// on_worker_failure) are serialized behind mu, matching "scheduler
// operations are serialized behind a single mutex"; the per-node atomics on
// graph.Node (status, retry count, pending-deps counter) mean readers never
// need mu on the hot path.
type Scheduler struct {
	mu sync.Mutex

	g       *graph.Graph
	ready   *ReadyQueue
	workers *WorkerRegistry
	retry   RetryPolicy
	history *HistoryStore // optional; nil disables cross-build EWMA priority bias
	log     *forgelog.Logger

	priorities map[graph.TargetID]Priority

	msgs chan *Message
	stop chan struct{}
}

// New builds a Scheduler over g. workers and history may be supplied by the
// caller (history nil disables EWMA-biased priority); a nil logger defaults
// to forgelog.Nop().
func New(g *graph.Graph, workers *WorkerRegistry, retry RetryPolicy, history *HistoryStore, log *forgelog.Logger) *Scheduler {
	if log == nil {
		log = forgelog.Nop()
	}
	return &Scheduler{
		g:          g,
		ready:      NewReadyQueue(),
		workers:    workers,
		retry:      retry,
		history:    history,
		log:        log,
		priorities: make(map[graph.TargetID]Priority),
		msgs:       make(chan *Message, 256),
		stop:       make(chan struct{}),
	}
}

// costFunc folds the target's EWMA execution-time estimate into
// graph.CriticalPath's per-node cost, falling back to 0 for targets with no
// recorded history (§4.4: a cold target contributes no bias until it has
// run once).
func (s *Scheduler) costFunc() graph.CostFunc {
	return func(id graph.TargetID) float64 {
		if s.history == nil {
			return 0
		}
		return s.history.Estimate(string(id))
	}
}

// Seed computes each node's priority from the graph's critical-path
// analysis (§4.4: "priority is derived by the critical-path analyzer using
// a weighted score over depth, transitive dependent count, and estimated
// critical-path duration") and pushes every node with zero pending
// dependencies onto the ready queue. It must run after graph.Graph.Validate
// has succeeded.
func (s *Scheduler) Seed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.g.CriticalPath(s.costFunc())
	if err != nil {
		return err
	}

	ids := make([]graph.TargetID, 0, len(cp))
	for id := range cp {
		ids = append(ids, id)
	}
	for _, id := range ids {
		n := s.g.Node(id)
		if n == nil {
			continue
		}
		depth, err := s.g.Depth(id)
		if err != nil {
			return err
		}
		p := PriorityFor(Score{
			Depth:             depth,
			DependentCount:    len(n.Dependents),
			CriticalPathValue: cp[id],
		})
		s.priorities[id] = p
		if n.PendingDeps() == 0 && n.Status() == graph.StatusPending {
			s.ready.Push(id, p)
		}
	}
	return nil
}

// priorityFor returns the precomputed priority for id, defaulting to Normal
// for a target Seed never saw (e.g. one added after Seed ran via dynamic
// discovery). No coarse or average score is computed for such a target; it
// is dispatched at Normal rather than dropped.
func (s *Scheduler) priorityFor(id graph.TargetID) Priority {
	if p, ok := s.priorities[id]; ok {
		return p
	}
	return Normal
}

// DequeueReady pops the highest-priority ready target, or false if the
// queue is empty. Reads ReadyQueue directly (its own mutex), matching
// §5's "ready-transition does not require the global lock on the common
// path".
func (s *Scheduler) DequeueReady() (graph.TargetID, Priority, bool) {
	return s.ready.Pop()
}

// Assign transitions target from Pending to Building and records it as
// in-progress on workerID. Returns false if the node was not in Pending
// (e.g. a duplicate dispatch raced this call).
func (s *Scheduler) Assign(workerID string, target graph.TargetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.g.Node(target)
	if n == nil {
		return false
	}
	if !n.CompareAndSetStatus(graph.StatusPending, graph.StatusBuilding) {
		return false
	}
	s.workers.Assign(workerID, target)
	s.log.Debug("assigned", map[string]interface{}{"target": string(target), "worker": workerID})
	return true
}

// OnCacheHit short-circuits dispatch for a target the action cache already
// has an entry for (§8 scenario 1: a rebuild with no input changes leaves
// every target Cached with zero executions). It is the caller's
// responsibility to have already consulted pkg/actioncache; Scheduler only
// owns the resulting state transition and readiness cascade.
func (s *Scheduler) OnCacheHit(target graph.TargetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.g.Node(target)
	if n == nil || !n.CompareAndSetStatus(graph.StatusPending, graph.StatusCached) {
		return false
	}
	s.propagateReadyLocked(n)
	return true
}

// OnComplete reports that workerID finished target successfully in
// durationMs. It releases the worker's in-progress slot, records the
// duration into history (if configured), marks the node Success, and
// cascades readiness to any dependent whose pending-dependency counter
// reaches zero.
func (s *Scheduler) OnComplete(workerID string, target graph.TargetID, durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers.Release(workerID, target)
	n := s.g.Node(target)
	if n == nil {
		return
	}
	n.CompareAndSetStatus(graph.StatusBuilding, graph.StatusSuccess)
	if s.history != nil {
		s.history.Record(string(target), durationMs)
	}
	s.log.Info("completed", map[string]interface{}{"target": string(target), "worker": workerID, "duration_ms": durationMs})
	s.propagateReadyLocked(n)
}

// propagateReadyLocked decrements the pending-deps counter of every
// dependent of n and pushes onto the ready queue any whose counter reaches
// zero (§5: "a node's dependencies are observed as Success|Cached before it
// becomes Ready via atomic decrement of pending_deps to zero"). Caller
// holds mu.
func (s *Scheduler) propagateReadyLocked(n *graph.Node) {
	for _, dep := range n.Dependents {
		dn := s.g.Node(dep)
		if dn == nil {
			continue
		}
		if dn.DecPendingDeps() && dn.Status() == graph.StatusPending {
			s.ready.Push(dep, s.priorityFor(dep))
		}
	}
}

// OnFailure reports that workerID finished target with err. Retryable
// errors (per ferr.IsRetryable) re-enter Ready while retries remain,
// preferring front-of-queue for High/Critical priority; exhausted retries
// or a non-retryable error mark the node Failed and propagate failure to
// every transitive dependent.
func (s *Scheduler) OnFailure(workerID string, target graph.TargetID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers.Release(workerID, target)
	n := s.g.Node(target)
	if n == nil {
		return
	}
	n.SetLastError(err)
	s.retryOrFailLocked(n, err)
}

// OnWorkerFailure reports that workerID disappeared mid-assignment. Every
// target it had in progress is treated as a retryable failure (worker loss
// always counts against the retry budget, §4.4) and re-prioritized for
// front-of-queue dispatch when High/Critical.
func (s *Scheduler) OnWorkerFailure(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lost := s.workers.Remove(workerID)
	err := ferr.New(ferr.KindNetwork, "scheduler.OnWorkerFailure", workerID, ferr.ErrUnreachable).WithRetry()
	for _, target := range lost {
		n := s.g.Node(target)
		if n == nil {
			continue
		}
		s.log.Warn("worker lost", map[string]interface{}{"target": string(target), "worker": workerID})
		s.retryOrFailLocked(n, err)
	}
}

// retryOrFailLocked applies the §4.4 retry policy to a node that just
// failed (whether from an execution error or a lost worker). Caller holds
// mu.
func (s *Scheduler) retryOrFailLocked(n *graph.Node, err error) {
	target := n.Target.ID
	if ferr.IsRetryable(err) && s.retry.ShouldRetry(n) {
		n.IncRetry()
		n.CompareAndSetStatus(graph.StatusBuilding, graph.StatusPending)
		p := s.priorityFor(target)
		s.log.Info("retrying", map[string]interface{}{"target": string(target), "attempt": n.RetryCount(), "priority": p.String()})
		if p.front() {
			s.ready.PushFront(target, p)
		} else {
			s.ready.Push(target, p)
		}
		return
	}

	n.CompareAndSetStatus(graph.StatusBuilding, graph.StatusFailed)
	s.log.Error("permanent failure", err, map[string]interface{}{"target": string(target)})
	s.propagateFailureLocked(n)
}

// propagateFailureLocked marks every transitive dependent of n Failed, the
// way a cycle of canceled futures would cascade in a language with
// exceptions, but expressed as an explicit BFS over the frozen Dependents
// index (§7: "GraphError::Cycle and InternalError abort the build" does
// not apply here — this is ordinary action failure propagation).
func (s *Scheduler) propagateFailureLocked(n *graph.Node) {
	visited := make(map[graph.TargetID]bool)
	queue := append([]graph.TargetID(nil), n.Dependents...)
	cause := ferr.New(ferr.KindExecution, "scheduler.propagateFailure", string(n.Target.ID), nil)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		dn := s.g.Node(id)
		if dn == nil {
			continue
		}
		dn.ForceFail(cause)
		queue = append(queue, dn.Dependents...)
	}
}

// Enqueue submits msg for asynchronous processing by Run. It is the
// channel-based counterpart to calling Assign/OnComplete/OnFailure/
// OnWorkerFailure directly; both paths serialize through the same mu.
func (s *Scheduler) Enqueue(msg *Message) {
	select {
	case s.msgs <- msg:
	case <-s.stop:
	}
}

// Run drains the message channel until ctx is canceled or Shutdown is
// called, dispatching each Message to the matching handler (§9 Design
// Note: "shared mutable scheduler state read concurrently -> actor-like
// component receiving messages over a channel"). Workers keep draining
// in-flight actions after Shutdown; Run simply stops accepting new
// transitions once the stop flag is set.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case msg := <-s.msgs:
			s.dispatch(msg)
		}
	}
}

func (s *Scheduler) dispatch(msg *Message) {
	switch msg.Type {
	case MessageSchedule:
		// Re-evaluate readiness is implicit: Schedule messages are only
		// informational for external observers (e.g. forgelog); the
		// pending-deps cascade already pushed the target when it became
		// ready.
		s.log.Debug("schedule", msg.logFields())
	case MessageComplete:
		s.OnComplete(msg.WorkerID, msg.Target, msg.DurationMs)
	case MessageFail:
		s.OnFailure(msg.WorkerID, msg.Target, msg.Err)
	case MessageWorkerLost:
		s.OnWorkerFailure(msg.WorkerID)
	}
}

// Shutdown sets the stop flag; Run returns and Enqueue stops blocking. It
// does not drain or cancel in-progress worker assignments — per §5, workers
// are responsible for finishing their current action before abstaining
// from further dequeues.
func (s *Scheduler) Shutdown() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Len reports the number of targets currently sitting in the ready queue.
func (s *Scheduler) Len() int { return s.ready.Len() }
