package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/graph"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

func target(id string, deps ...string) graph.Target {
	depIDs := make([]graph.TargetID, len(deps))
	for i, d := range deps {
		depIDs[i] = graph.TargetID(d)
	}
	return graph.Target{ID: graph.TargetID(id), Dependencies: depIDs}
}

func buildCleanGraph(t *testing.T) (*graph.Graph, []graph.TargetID) {
	t.Helper()
	g := graph.New(graph.Immediate)
	require.NoError(t, g.AddNode(target("a")))
	require.NoError(t, g.AddNode(target("b", "a")))
	require.NoError(t, g.AddNode(target("c", "b")))
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))
	order, err := g.Validate()
	require.NoError(t, err)
	return g, order
}

func fingerprintFor(name string) hashing.ActionFingerprintInput {
	return hashing.ActionFingerprintInput{
		Command: []byte("build " + name),
		Outputs: []string{"out/" + name + ".o"},
	}
}

func specFor(t *testing.T, input, output string) *sandbox.SandboxSpec {
	t.Helper()
	spec, err := sandbox.NewSpec(hashing.Sum([]byte(output)), sandbox.PoolNative,
		map[string]hashing.Digest{input: hashing.Sum([]byte(input))},
		[]string{output}, "/work")
	require.NoError(t, err)
	spec.NetworkOff = true
	return spec
}

func TestVerifyCleanBuildAllProofsHold(t *testing.T) {
	g, order := buildCleanGraph(t)

	fingerprints := map[graph.TargetID]hashing.ActionFingerprintInput{
		"a": fingerprintFor("a"),
		"b": fingerprintFor("b"),
		"c": fingerprintFor("c"),
	}
	specA := specFor(t, "src/a.c", "out/a.o")
	specB := specFor(t, "src/b.c", "out/b.o")
	specC := specFor(t, "src/c.c", "out/c.o")

	bundle, err := Verify(Input{
		Graph:        g,
		Actions:      []*sandbox.SandboxSpec{specA, specB, specC},
		Fingerprints: fingerprints,
		ActionTarget: map[hashing.Digest]graph.TargetID{
			specA.ActionID: "a", specB.ActionID: "b", specC.ActionID: "c",
		},
	})
	require.NoError(t, err)

	assert.True(t, bundle.Acyclicity.Valid)
	assert.Equal(t, order, bundle.Acyclicity.Order)
	assert.True(t, bundle.Hermeticity.Disjoint)
	assert.True(t, bundle.Hermeticity.NetworkIsolated)
	assert.True(t, bundle.Determinism.Complete)
	assert.Len(t, bundle.Determinism.Fingerprints, 3)
	assert.True(t, bundle.RaceFreedom.DisjointWrites)
	assert.True(t, bundle.RaceFreedom.AtomicStateOnly)
	assert.True(t, bundle.Verified())
	assert.False(t, bundle.Fingerprint.IsZero())
}

func TestVerifyDetectsConflictingOutputs(t *testing.T) {
	g, _ := buildCleanGraph(t)

	specA := specFor(t, "src/a.c", "out/shared.o")
	specB := specFor(t, "src/b.c", "out/shared.o")

	bundle, err := Verify(Input{
		Graph:   g,
		Actions: []*sandbox.SandboxSpec{specA, specB},
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"), "b": fingerprintFor("b"), "c": fingerprintFor("c"),
		},
		ActionTarget: map[hashing.Digest]graph.TargetID{
			specA.ActionID: "a", specB.ActionID: "b",
		},
	})
	require.NoError(t, err)

	assert.False(t, bundle.RaceFreedom.DisjointWrites)
	require.Len(t, bundle.RaceFreedom.Conflicts, 1)
	assert.Equal(t, "out/shared.o", bundle.RaceFreedom.Conflicts[0].Path)
	assert.False(t, bundle.Verified())
}

func TestVerifyDetectsHermeticityOverlap(t *testing.T) {
	g, _ := buildCleanGraph(t)

	// An action whose declared input equals another action's declared
	// output — a cross-action breach the per-action I∩O=∅ check at
	// construction time cannot see.
	specA := specFor(t, "src/a.c", "shared/path")
	specB, err := sandbox.NewSpec(hashing.Sum([]byte("b")), sandbox.PoolNative,
		map[string]hashing.Digest{"shared/path": hashing.Sum([]byte("x"))},
		[]string{"out/b.o"}, "/work")
	require.NoError(t, err)

	bundle, err := Verify(Input{
		Graph:   g,
		Actions: []*sandbox.SandboxSpec{specA, specB},
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"), "b": fingerprintFor("b"), "c": fingerprintFor("c"),
		},
		ActionTarget: map[hashing.Digest]graph.TargetID{
			specA.ActionID: "a", specB.ActionID: "b",
		},
	})
	require.NoError(t, err)

	assert.False(t, bundle.Hermeticity.Disjoint)
	assert.Equal(t, []string{"shared/path"}, bundle.Hermeticity.Overlap)
	assert.False(t, bundle.Verified())
}

func TestVerifyDetectsIncompleteDeterminism(t *testing.T) {
	g, _ := buildCleanGraph(t)

	bundle, err := Verify(Input{
		Graph: g,
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"),
			"b": fingerprintFor("b"),
			// "c" intentionally missing.
		},
	})
	require.NoError(t, err)

	assert.False(t, bundle.Determinism.Complete)
	assert.Equal(t, []graph.TargetID{"c"}, bundle.Determinism.Incomplete)
	assert.False(t, bundle.Verified())
}

func TestHappensBeforeMatchesDependencyEdges(t *testing.T) {
	g, order := buildCleanGraph(t)

	bundle, err := Verify(Input{
		Graph: g,
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"), "b": fingerprintFor("b"), "c": fingerprintFor("c"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, order, bundle.Acyclicity.Order)

	assert.Contains(t, bundle.RaceFreedom.HappensBefore, HappensBeforeEdge{Before: "a", After: "b"})
	assert.Contains(t, bundle.RaceFreedom.HappensBefore, HappensBeforeEdge{Before: "b", After: "c"})
}

func TestFingerprintDetectsTampering(t *testing.T) {
	g, _ := buildCleanGraph(t)

	bundle, err := Verify(Input{
		Graph: g,
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"), "b": fingerprintFor("b"), "c": fingerprintFor("c"),
		},
	})
	require.NoError(t, err)

	ok, err := bundle.VerifyFingerprint()
	require.NoError(t, err)
	assert.True(t, ok)

	bundle.Acyclicity.Valid = false
	ok, err = bundle.VerifyFingerprint()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerializeRoundTripsThroughJSON(t *testing.T) {
	g, _ := buildCleanGraph(t)
	bundle, err := Verify(Input{
		Graph: g,
		Fingerprints: map[graph.TargetID]hashing.ActionFingerprintInput{
			"a": fingerprintFor("a"), "b": fingerprintFor("b"), "c": fingerprintFor("c"),
		},
	})
	require.NoError(t, err)

	raw, err := bundle.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(raw), bundle.Fingerprint.Hex())
}
