// Package verifier implements C9: proof-like checks over a stable graph
// state — acyclicity, hermeticity (I∩O=∅), disjoint writes, and
// happens-before race freedom — assembled into a single fingerprinted
// bundle. It is a pure reader: unlike pkg/scheduler and pkg/sandbox it
// never mutates a graph.Node or executes anything, so it may run
// concurrently with a build against any point where the caller considers
// the graph "stable" (§4.2 invariant: once Validate succeeds the
// structural edge set is frozen).
//
// Grounded on pkg/graph's own Validate/TopoSort (acyclicity), pkg/sandbox's
// SandboxSpec I∩O=∅ invariant (hermeticity), and pkg/hashing's canonical
// action fingerprint (determinism), composed the way
// theRebelliousNerd-codenerd/internal/verification/verifier.go composes a
// VerificationResult from several independent checks into one record.
package verifier

import (
	"encoding/json"
	"sort"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/graph"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

// ProofBundle is the serialized, fingerprinted output of Verify: the four
// proof kinds named in §4.9, plus the digest that makes tampering with any
// of them detectable.
type ProofBundle struct {
	Acyclicity  AcyclicityProof  `json:"acyclicity"`
	Hermeticity HermeticityProof `json:"hermeticity"`
	Determinism DeterminismProof `json:"determinism"`
	RaceFreedom RaceFreedomProof `json:"race_freedom"`

	// Fingerprint is zero until Fingerprint() is called; it is excluded
	// from the bytes it is computed over.
	Fingerprint hashing.Digest `json:"fingerprint"`
}

// Input bundles everything Verify needs about a stable graph state: the
// graph itself, the sandbox specs of every action considered part of this
// build (for hermeticity and race-freedom), and the action-fingerprint
// inputs of every target (for determinism).
type Input struct {
	Graph        *graph.Graph
	Actions      []*sandbox.SandboxSpec
	Fingerprints map[graph.TargetID]hashing.ActionFingerprintInput
	// ActionTarget maps a SandboxSpec's ActionID back to the owning
	// target, when known. It only labels OutputConflict.Targets: an action
	// missing from it is named by its ActionID hex. RaceFreedomProof's
	// happens-before edges come from the graph's dependencies alone.
	ActionTarget map[hashing.Digest]graph.TargetID
}

// Verify produces a ProofBundle for a stable graph state. The graph must
// already have been validated (graph.Graph.Validate) by the caller; Verify
// re-derives the topological order itself rather than trusting a cached
// one, since re-validating against the live structure is exactly what
// "proof" means here.
func Verify(in Input) (*ProofBundle, error) {
	order, err := in.Graph.Validate()
	if err != nil {
		return nil, ferr.New(ferr.KindInternal, "verifier.Verify", "", err).WithRemedy("graph must be acyclic before verification")
	}

	acy, err := proveAcyclicity(in.Graph, order)
	if err != nil {
		return nil, err
	}

	herm, err := proveHermeticity(in.Actions)
	if err != nil {
		return nil, err
	}

	det, err := proveDeterminism(order, in.Fingerprints)
	if err != nil {
		return nil, err
	}

	race, err := proveRaceFreedom(in.Graph, order, in.Actions, in.ActionTarget)
	if err != nil {
		return nil, err
	}

	bundle := &ProofBundle{
		Acyclicity:  *acy,
		Hermeticity: *herm,
		Determinism: *det,
		RaceFreedom: *race,
	}
	bundle.Fingerprint, err = bundle.computeFingerprint()
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// Verified reports whether every proof in the bundle holds. A bundle can
// be constructed describing a *failed* verification (e.g. Hermeticity.
// Disjoint == false); Verified is the single boolean a caller checks
// before treating the build as certified.
func (b *ProofBundle) Verified() bool {
	return b.Acyclicity.Valid &&
		b.Hermeticity.Disjoint &&
		b.Determinism.Complete &&
		b.RaceFreedom.DisjointWrites
}

// computeFingerprint serializes the bundle (with Fingerprint zeroed) to
// canonical JSON — encoding/json sorts map keys and struct fields encode in
// declaration order, so two bundles with equal content always produce equal
// bytes — and BLAKE3-digests the result, per §4.9 "the fingerprint is
// itself a BLAKE3 digest so that tampering is detectable".
func (b *ProofBundle) computeFingerprint() (hashing.Digest, error) {
	cp := *b
	cp.Fingerprint = hashing.Digest{}
	raw, err := json.Marshal(cp)
	if err != nil {
		return hashing.Digest{}, ferr.New(ferr.KindInternal, "verifier.computeFingerprint", "", err)
	}
	return hashing.Sum(raw), nil
}

// Serialize renders the bundle to canonical JSON bytes, e.g. for archival
// alongside a build's action-cache entries.
func (b *ProofBundle) Serialize() ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, ferr.New(ferr.KindInternal, "verifier.Serialize", "", err)
	}
	return raw, nil
}

// VerifyFingerprint recomputes the fingerprint over the bundle's current
// content and reports whether it still matches the stored one — the
// tamper-detection half of §4.9.
func (b *ProofBundle) VerifyFingerprint() (bool, error) {
	want := b.Fingerprint
	got, err := b.computeFingerprint()
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// sortedTargetIDs returns the graph's node ids sorted for deterministic
// iteration, used by every proof kind that must produce stable output.
func sortedTargetIDs(ids []graph.TargetID) []graph.TargetID {
	out := append([]graph.TargetID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
