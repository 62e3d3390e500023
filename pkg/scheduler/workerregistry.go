package scheduler

import (
	"sync"

	"github.com/forgecore/forgecore/pkg/graph"
)

// WorkerStatus is a registered Worker's lifecycle state (§3: registered ->
// healthy <-> degraded -> removed).
type WorkerStatus int

const (
	WorkerHealthy WorkerStatus = iota
	WorkerDegraded
	WorkerRemoved
)

// Worker is {id, capabilities, current in-progress set} per §3. Generalized
// from worker/pool.go's anonymous *Worker (one queue name, no capability
// set, no in-progress tracking) into a named, capability-aware registry
// entry the Scheduler can match actions against and reassign on loss.
type Worker struct {
	ID           string
	Capabilities []string
	Status       WorkerStatus
	InProgress   map[graph.TargetID]bool
}

func newWorker(id string, capabilities []string) *Worker {
	return &Worker{ID: id, Capabilities: capabilities, Status: WorkerHealthy, InProgress: make(map[graph.TargetID]bool)}
}

// HasCapability reports whether the worker advertises cap.
func (w *Worker) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// WorkerRegistry tracks the fleet of workers a Scheduler dispatches to. All
// mutation is serialized behind a single mutex, matching §4.4's "worker
// registry updates" being one of the operations the scheduler serializes.
type WorkerRegistry struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewWorkerRegistry returns an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: make(map[string]*Worker)}
}

// Register adds a new worker in the Healthy state.
func (r *WorkerRegistry) Register(id string, capabilities []string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := newWorker(id, capabilities)
	r.workers[id] = w
	return w
}

// Get returns a worker by id, or nil.
func (r *WorkerRegistry) Get(id string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[id]
}

// MarkDegraded transitions a worker to Degraded (e.g. after a missed
// heartbeat) without discarding its in-progress set.
func (r *WorkerRegistry) MarkDegraded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Status = WorkerDegraded
	}
}

// Remove transitions a worker to Removed and returns its in-progress target
// set so the caller (Scheduler.OnWorkerFailure) can re-enqueue them.
func (r *WorkerRegistry) Remove(id string) []graph.TargetID {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil
	}
	w.Status = WorkerRemoved
	lost := make([]graph.TargetID, 0, len(w.InProgress))
	for t := range w.InProgress {
		lost = append(lost, t)
	}
	delete(r.workers, id)
	return lost
}

// Assign records target as in-progress on worker id.
func (r *WorkerRegistry) Assign(id string, target graph.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.InProgress[target] = true
	}
}

// Release clears target from worker id's in-progress set, on completion or
// failure.
func (r *WorkerRegistry) Release(id string, target graph.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		delete(w.InProgress, target)
	}
}

// HealthyWorkers returns the ids of workers currently able to accept work.
func (r *WorkerRegistry) HealthyWorkers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id, w := range r.workers {
		if w.Status == WorkerHealthy {
			ids = append(ids, id)
		}
	}
	return ids
}
