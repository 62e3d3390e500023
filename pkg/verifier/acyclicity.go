package verifier

import (
	"github.com/forgecore/forgecore/pkg/graph"
)

// AcyclicityProof is a topological ordering that is a permutation of the
// node ids with every dependency edge forward: for a node b depending on a
// (a is one of b's Dependencies), pos(a) < pos(b) — a must be built before
// b (§8 "Graph acyclicity").
type AcyclicityProof struct {
	Order []graph.TargetID `json:"order"`
	Valid bool             `json:"valid"`
}

// proveAcyclicity takes the topological order graph.Graph.Validate already
// produced and certifies it is a genuine linearization: a permutation of
// every node id, with each node's declared dependencies positioned strictly
// before it. Re-deriving this from the frozen edge set (rather than
// trusting the scheduler's cached order) is what makes this a proof rather
// than a cache hit.
func proveAcyclicity(g *graph.Graph, order []graph.TargetID) (*AcyclicityProof, error) {
	pos := make(map[graph.TargetID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	valid := len(order) == g.Len()
	if valid {
		for _, id := range order {
			node := g.Node(id)
			for _, dep := range node.Dependencies {
				depPos, ok := pos[dep]
				if !ok || depPos >= pos[id] {
					valid = false
					break
				}
			}
			if !valid {
				break
			}
		}
	}

	return &AcyclicityProof{Order: order, Valid: valid}, nil
}
