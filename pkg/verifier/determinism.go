package verifier

import (
	"github.com/forgecore/forgecore/pkg/graph"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// TargetFingerprint pairs a target with the action fingerprint computed
// over its (inputs, command, environment) — the per-target determinism
// record named in §4.9.
type TargetFingerprint struct {
	Target      graph.TargetID `json:"target"`
	Fingerprint hashing.Digest `json:"fingerprint"`
}

// DeterminismProof confirms every target in the build has a complete
// deterministic spec: a non-empty command and at least one input or output
// declared, hashed into a stable fingerprint via pkg/hashing.SumAction.
type DeterminismProof struct {
	Fingerprints []TargetFingerprint `json:"fingerprints"`
	Complete     bool                `json:"complete"`
	Incomplete   []graph.TargetID    `json:"incomplete,omitempty"`
}

// proveDeterminism requires a hashing.ActionFingerprintInput for every
// target named in order; a target missing from fingerprints, or one whose
// input has an empty command and no declared inputs/outputs, is reported
// incomplete rather than silently skipped.
func proveDeterminism(order []graph.TargetID, fingerprints map[graph.TargetID]hashing.ActionFingerprintInput) (*DeterminismProof, error) {
	out := make([]TargetFingerprint, 0, len(order))
	var incomplete []graph.TargetID

	for _, id := range sortedTargetIDs(order) {
		in, ok := fingerprints[id]
		if !ok || !isComplete(in) {
			incomplete = append(incomplete, id)
			continue
		}
		out = append(out, TargetFingerprint{Target: id, Fingerprint: hashing.SumAction(in)})
	}

	return &DeterminismProof{
		Fingerprints: out,
		Complete:     len(incomplete) == 0,
		Incomplete:   incomplete,
	}, nil
}

func isComplete(in hashing.ActionFingerprintInput) bool {
	if len(in.Command) == 0 {
		return false
	}
	return len(in.Inputs) > 0 || len(in.Outputs) > 0
}
