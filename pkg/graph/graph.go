// Package graph implements C2: the target DAG, its cycle detection,
// topological ordering, and critical-path analysis. Adapted from
// eve.evalgo.org/graph's dag.go (DFS cycle check, Kahn's-algorithm topo
// sort over *semantic.SemanticScheduledAction) generalized from a
// repository-backed single-pass validator into an in-memory, two-mode
// (Immediate/Deferred) graph over arena-indexed nodes, per Design Note
// "cycle of references between nodes -> arena-allocated nodes with
// indices; edges are frozen after validation".
package graph

import (
	"sync"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// ValidationMode controls when add_edge rejects a cycle (§4.2).
type ValidationMode int

const (
	// Immediate rejects an edge immediately if it would create a cycle
	// (DFS from the dependency back to the dependent).
	Immediate ValidationMode = iota
	// Deferred accepts edges eagerly; a single Validate() call performs
	// the full topological sort and reports a cycle witness if any.
	Deferred
)

// Graph is the DAG of targets. The graph exclusively owns its nodes;
// scheduler and executor hold them by reference (§3 Ownership).
type Graph struct {
	mode ValidationMode

	mu        sync.RWMutex
	nodes     map[TargetID]*Node
	validated bool
}

// New creates an empty graph in the given validation mode.
func New(mode ValidationMode) *Graph {
	return &Graph{mode: mode, nodes: make(map[TargetID]*Node)}
}

// AddNode inserts a target. Fails if the id duplicates an existing node.
func (g *Graph) AddNode(t Target) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[t.ID]; exists {
		return ferr.New(ferr.KindGraph, "graph.AddNode", string(t.ID), ferr.ErrDuplicate)
	}
	g.nodes[t.ID] = newNode(t)
	g.validated = false
	return nil
}

// AddEdge records that `from` depends on `to` (from -> to in the
// dependency direction used throughout §4.2: "from" is the dependent).
// In Immediate mode it rejects edges that would create a cycle via a DFS
// from `to` back to `from`. In Deferred mode the edge is accepted eagerly.
func (g *Graph) AddEdge(from, to TargetID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fn, ok := g.nodes[from]
	if !ok {
		return ferr.New(ferr.KindGraph, "graph.AddEdge", string(from), ferr.ErrNotFound)
	}
	if _, ok := g.nodes[to]; !ok {
		return ferr.New(ferr.KindGraph, "graph.AddEdge", string(to), ferr.ErrNotFound)
	}

	if g.mode == Immediate {
		if g.reachesLocked(to, from, make(map[TargetID]bool)) {
			return ferr.New(ferr.KindGraph, "graph.AddEdge", string(from)+"->"+string(to), ferr.ErrCycle)
		}
	}

	for _, existing := range fn.Dependencies {
		if existing == to {
			return nil
		}
	}
	fn.Dependencies = append(fn.Dependencies, to)
	g.invalidateDepthsLocked()
	g.validated = false
	return nil
}

// reachesLocked reports whether a path exists from `from` to `to` following
// dependency edges (caller holds g.mu).
func (g *Graph) reachesLocked(from, to TargetID, visited map[TargetID]bool) bool {
	if from == to {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true
	n, ok := g.nodes[from]
	if !ok {
		return false
	}
	for _, dep := range n.Dependencies {
		if g.reachesLocked(dep, to, visited) {
			return true
		}
	}
	return false
}

// invalidateDepthsLocked invalidates every node's memoized depth; a single
// new edge can change any transitive dependent's longest path (§4.2).
func (g *Graph) invalidateDepthsLocked() {
	for _, n := range g.nodes {
		n.invalidateDepth()
	}
}

// Node returns a node by id, or nil.
func (g *Graph) Node(id TargetID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// CycleError carries the witness node-id list along the discovered cycle.
type CycleError struct {
	Witness []TargetID
}

func (e *CycleError) Error() string { return "cycle detected" }

// Validate performs a full topological sort (Kahn's algorithm, as in
// eve.evalgo.org/graph.GetExecutionOrder) and freezes the structural edge
// set on success: once Validate succeeds, scheduling may rely on
// depth/topological order without re-validating (§4.2 invariant). It also
// computes each node's Dependents index.
func (g *Graph) Validate() ([]TargetID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDegree := make(map[TargetID]int, len(g.nodes))
	dependents := make(map[TargetID][]TargetID, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.Dependencies)
		for _, dep := range n.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return nil, ferr.New(ferr.KindGraph, "graph.Validate", string(dep), ferr.ErrNotFound)
			}
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []TargetID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]TargetID, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		witness := g.findCycleWitnessLocked(inDegree)
		return nil, &wrappedCycle{CycleError{Witness: witness}}
	}

	for id, n := range g.nodes {
		n.Dependents = dependents[id]
		n.resetPendingDeps(len(n.Dependencies))
	}
	g.validated = true
	return order, nil
}

type wrappedCycle struct{ CycleError }

func (w *wrappedCycle) Error() string { return w.CycleError.Error() }

// findCycleWitnessLocked walks the remaining nodes (those whose in-degree
// never reached zero) with DFS to produce a concrete cycle, e.g. [x,y,z,x].
func (g *Graph) findCycleWitnessLocked(remainingDeg map[TargetID]int) []TargetID {
	remaining := make(map[TargetID]bool)
	for id, deg := range remainingDeg {
		if deg > 0 {
			remaining[id] = true
		}
	}
	visited := make(map[TargetID]int) // 0 unvisited, 1 in-stack, 2 done
	var stack []TargetID

	var dfs func(id TargetID) []TargetID
	dfs = func(id TargetID) []TargetID {
		visited[id] = 1
		stack = append(stack, id)
		n := g.nodes[id]
		for _, dep := range n.Dependencies {
			if !remaining[dep] {
				continue
			}
			switch visited[dep] {
			case 1:
				// found the back-edge; build the witness from the stack
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				witness := append([]TargetID(nil), stack[start:]...)
				witness = append(witness, dep)
				return witness
			case 0:
				if w := dfs(dep); w != nil {
					return w
				}
			}
		}
		stack = stack[:len(stack)-1]
		visited[id] = 2
		return nil
	}

	for id := range remaining {
		if visited[id] == 0 {
			if w := dfs(id); w != nil {
				return w
			}
		}
	}
	return nil
}

// CycleWitness extracts the witness from an error returned by Validate or
// AddEdge, if any.
func CycleWitness(err error) ([]TargetID, bool) {
	if wc, ok := err.(*wrappedCycle); ok {
		return wc.Witness, true
	}
	return nil, false
}

// Depth returns the memoized longest distance from the leaves to id,
// computing and caching it on first access; invalidated along the
// dependent cascade whenever an edge is added (§4.2).
func (g *Graph) Depth(id TargetID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depthLocked(id, make(map[TargetID]bool))
}

func (g *Graph) depthLocked(id TargetID, inProgress map[TargetID]bool) (int, error) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, ferr.New(ferr.KindGraph, "graph.Depth", string(id), ferr.ErrNotFound)
	}
	if d, ok := n.depth(); ok {
		return int(d), nil
	}
	if inProgress[id] {
		return 0, ferr.New(ferr.KindGraph, "graph.Depth", string(id), ferr.ErrCycle)
	}
	inProgress[id] = true

	max := 0
	for _, dep := range n.Dependencies {
		d, err := g.depthLocked(dep, inProgress)
		if err != nil {
			return 0, err
		}
		if d+1 > max {
			max = d + 1
		}
	}
	delete(inProgress, id)
	n.setDepth(int64(max))
	return max, nil
}

// CostFunc computes the intrinsic cost of a single node (e.g. its historical
// EWMA execution time), used by CriticalPath.
type CostFunc func(id TargetID) float64

// CriticalPath assigns each node the max over (own cost + max cost of
// transitive dependents), per §4.2. Requires Validate to have succeeded so
// Dependents is populated.
func (g *Graph) CriticalPath(cost CostFunc) (map[TargetID]float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.validated {
		return nil, ferr.New(ferr.KindGraph, "graph.CriticalPath", "", nil).WithRemedy("call Validate first")
	}

	result := make(map[TargetID]float64, len(g.nodes))
	var visit func(id TargetID) float64
	visit = func(id TargetID) float64 {
		if v, ok := result[id]; ok {
			return v
		}
		n := g.nodes[id]
		best := 0.0
		for _, dependent := range n.Dependents {
			if v := visit(dependent); v > best {
				best = v
			}
		}
		v := cost(id) + best
		result[id] = v
		return v
	}
	for id := range g.nodes {
		visit(id)
	}
	return result, nil
}
