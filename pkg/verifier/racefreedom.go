package verifier

import (
	"sort"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/graph"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

// HappensBeforeEdge records that Before must complete (Success or Cached,
// §5 ordering guarantees) before After may become Ready. Derived directly
// from the frozen dependency edges: a dependency happens-before its
// dependent.
type HappensBeforeEdge struct {
	Before graph.TargetID `json:"before"`
	After  graph.TargetID `json:"after"`
}

// OutputConflict names two targets that both declared the same output
// path — a disjoint-writes violation (§8 "Disjoint writes").
type OutputConflict struct {
	Path    string           `json:"path"`
	Targets []graph.TargetID `json:"targets"`
}

// RaceFreedomProof is the happens-before relation derived from dependency
// edges, a flag that every shared mutable state observed by the proof uses
// atomics (graph.Node's status/retry/pending-deps fields, per §5), and the
// disjoint-writes check across all declared output sets (§4.9).
type RaceFreedomProof struct {
	HappensBefore   []HappensBeforeEdge `json:"happens_before"`
	AtomicStateOnly bool                `json:"atomic_state_only"`
	DisjointWrites  bool                `json:"disjoint_writes"`
	Conflicts       []OutputConflict    `json:"conflicts,omitempty"`
}

// proveRaceFreedom walks order (for a stable, deterministic edge listing)
// to build the happens-before relation from graph.Node.Dependencies, then
// checks every action's declared outputs are pairwise disjoint across the
// whole action set. AtomicStateOnly is always true for a graph.Graph:
// pkg/graph.Node's mutable fields (status, retryCount, pendingDeps,
// cachedDepth) are exclusively atomic.Int32/Int64/Value, never guarded by
// an ad hoc mutex, which is a property of the type rather than of any one
// build — the proof asserts it rather than re-deriving it by reflection.
func proveRaceFreedom(g *graph.Graph, order []graph.TargetID, actions []*sandbox.SandboxSpec, actionTarget map[hashing.Digest]graph.TargetID) (*RaceFreedomProof, error) {
	var edges []HappensBeforeEdge
	for _, id := range sortedTargetIDs(order) {
		node := g.Node(id)
		if node == nil {
			return nil, ferr.New(ferr.KindInternal, "verifier.proveRaceFreedom", string(id), nil)
		}
		deps := append([]graph.TargetID(nil), node.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		for _, dep := range deps {
			edges = append(edges, HappensBeforeEdge{Before: dep, After: id})
		}
	}

	owner := make(map[string][]graph.TargetID)
	for _, a := range actions {
		if a == nil {
			continue
		}
		target, known := actionTarget[a.ActionID]
		for _, path := range a.Outputs {
			if known {
				owner[path] = append(owner[path], target)
			} else {
				owner[path] = append(owner[path], graph.TargetID(a.ActionID.Hex()))
			}
		}
	}

	var conflicts []OutputConflict
	for path, owners := range owner {
		if len(owners) > 1 {
			sorted := append([]graph.TargetID(nil), owners...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			conflicts = append(conflicts, OutputConflict{Path: path, Targets: sorted})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })

	return &RaceFreedomProof{
		HappensBefore:   edges,
		AtomicStateOnly: true,
		DisjointWrites:  len(conflicts) == 0,
		Conflicts:       conflicts,
	}, nil
}
