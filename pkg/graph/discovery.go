package graph

import "github.com/forgecore/forgecore/pkg/hashing"

// DiscoveryEntry resolves the Open Question in spec §9 ("discovery cache
// on-disk schema encodes only a subset of discovery targets"): when an
// action discovers new targets mid-build (e.g. a code generator emitting
// further sources), an entry names the discovering action's fingerprint,
// the new targets and their edges, and ApplyDiscovery adds them to a graph.
// Its Version is independent of the action-cache entry schema. It is an
// in-memory type only: it has no on-disk encoding, and neither
// pkg/actioncache nor pkg/scheduler stores or reads DiscoveryEntry values.
type DiscoveryEntry struct {
	Version       int
	ParentAction  hashing.Digest // fingerprint of the action that discovered these targets
	Discovered    []TargetID
	DiscoveredDeps map[TargetID][]TargetID
}

// CurrentDiscoverySchemaVersion is bumped whenever DiscoveryEntry's shape
// changes; readers must reject or migrate entries from older versions.
const CurrentDiscoverySchemaVersion = 1

// ApplyDiscovery inserts newly discovered targets and their edges into the
// graph. Used when the scheduler re-enters the graph mid-build after an
// action with dynamic outputs completes; the graph must still be in
// Deferred mode for this to avoid a false cycle rejection on partially
// wired discovered nodes, so callers call Validate again afterward.
func (g *Graph) ApplyDiscovery(entry DiscoveryEntry, targets map[TargetID]Target) error {
	for _, id := range entry.Discovered {
		t, ok := targets[id]
		if !ok {
			continue
		}
		if g.Node(id) == nil {
			if err := g.AddNode(t); err != nil {
				return err
			}
		}
	}
	for from, deps := range entry.DiscoveredDeps {
		for _, to := range deps {
			if err := g.AddEdge(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}
