package verifier

import (
	"sort"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

// HermeticityProof is the union of declared inputs I and declared outputs O
// across every action in the build, the assertion I∩O=∅, and a
// network-isolation flag (§4.9).
type HermeticityProof struct {
	InputPaths      []string `json:"input_paths"`
	OutputPaths     []string `json:"output_paths"`
	Disjoint        bool     `json:"disjoint"`
	Overlap         []string `json:"overlap,omitempty"`
	NetworkIsolated bool     `json:"network_isolated"`
}

// proveHermeticity unions every action's declared inputs and outputs (each
// sandbox.SandboxSpec already enforces I∩O=∅ for itself at construction,
// pkg/sandbox.NewSpec) and re-checks the union-level disjointness, since an
// input declared by one action could collide with an output declared by
// another — a cross-action hermeticity breach the per-action check alone
// cannot see.
func proveHermeticity(actions []*sandbox.SandboxSpec) (*HermeticityProof, error) {
	inputs := make(map[string]bool)
	outputs := make(map[string]bool)
	allNetworkOff := true

	for _, a := range actions {
		if a == nil {
			return nil, ferr.New(ferr.KindInternal, "verifier.proveHermeticity", "", nil)
		}
		for path := range a.Inputs {
			inputs[path] = true
		}
		for _, path := range a.Outputs {
			outputs[path] = true
		}
		if !a.NetworkOff {
			allNetworkOff = false
		}
	}

	var overlap []string
	for path := range inputs {
		if outputs[path] {
			overlap = append(overlap, path)
		}
	}
	sort.Strings(overlap)

	return &HermeticityProof{
		InputPaths:      sortedKeys(inputs),
		OutputPaths:     sortedKeys(outputs),
		Disjoint:        len(overlap) == 0,
		Overlap:         overlap,
		NetworkIsolated: allNetworkOff,
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
