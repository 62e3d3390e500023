package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func target(id string, deps ...string) Target {
	depIDs := make([]TargetID, len(deps))
	for i, d := range deps {
		depIDs[i] = TargetID(d)
	}
	return Target{ID: TargetID(id), Dependencies: depIDs}
}

func TestCleanBuildThreeTargets(t *testing.T) {
	g := New(Immediate)
	require.NoError(t, g.AddNode(target("a")))
	require.NoError(t, g.AddNode(target("b", "a")))
	require.NoError(t, g.AddNode(target("c", "b")))
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))

	order, err := g.Validate()
	require.NoError(t, err)
	assert.Equal(t, []TargetID{"a", "b", "c"}, order)

	posOf := func(id TargetID) int {
		for i, o := range order {
			if o == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, posOf("a"), posOf("b"))
	assert.Less(t, posOf("b"), posOf("c"))
}

func TestAddNodeDuplicateRejected(t *testing.T) {
	g := New(Immediate)
	require.NoError(t, g.AddNode(target("a")))
	err := g.AddNode(target("a"))
	assert.Error(t, err)
}

func TestImmediateModeRejectsCycle(t *testing.T) {
	g := New(Immediate)
	require.NoError(t, g.AddNode(target("x")))
	require.NoError(t, g.AddNode(target("y")))
	require.NoError(t, g.AddNode(target("z")))

	require.NoError(t, g.AddEdge("x", "y"))
	require.NoError(t, g.AddEdge("y", "z"))
	err := g.AddEdge("z", "x")
	assert.Error(t, err)
}

func TestDeferredModeReportsCycleWitness(t *testing.T) {
	g := New(Deferred)
	require.NoError(t, g.AddNode(target("x")))
	require.NoError(t, g.AddNode(target("y")))
	require.NoError(t, g.AddNode(target("z")))

	require.NoError(t, g.AddEdge("x", "y"))
	require.NoError(t, g.AddEdge("y", "z"))
	require.NoError(t, g.AddEdge("z", "x"))

	_, err := g.Validate()
	require.Error(t, err)
	witness, ok := CycleWitness(err)
	require.True(t, ok)
	assert.NotEmpty(t, witness)
}

func TestCriticalPathPrefersLongerChain(t *testing.T) {
	g := New(Deferred)
	require.NoError(t, g.AddNode(target("a")))
	require.NoError(t, g.AddNode(target("b", "a")))
	require.NoError(t, g.AddNode(target("c", "b")))
	require.NoError(t, g.AddNode(target("d", "a")))
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))
	require.NoError(t, g.AddEdge("d", "a"))

	_, err := g.Validate()
	require.NoError(t, err)

	costs, err := g.CriticalPath(func(TargetID) float64 { return 1 })
	require.NoError(t, err)
	assert.Equal(t, 3.0, costs["a"]) // a -> b -> c is the longest chain through a
	assert.Equal(t, 1.0, costs["c"])
}

func TestDepthMemoizationInvalidatedOnNewEdge(t *testing.T) {
	g := New(Deferred)
	require.NoError(t, g.AddNode(target("a")))
	require.NoError(t, g.AddNode(target("b")))
	d, err := g.Depth("b")
	require.NoError(t, err)
	assert.Equal(t, 0, d)

	require.NoError(t, g.AddEdge("b", "a"))
	d, err = g.Depth("b")
	require.NoError(t, err)
	assert.Equal(t, 1, d)
}
