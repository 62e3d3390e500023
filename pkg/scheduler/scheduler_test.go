package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/graph"
)

func target(id string, deps ...string) graph.Target {
	depIDs := make([]graph.TargetID, len(deps))
	for i, d := range deps {
		depIDs[i] = graph.TargetID(d)
	}
	return graph.Target{ID: graph.TargetID(id), Dependencies: depIDs}
}

// buildChain constructs the §8 scenario 1 graph: a (leaf), b depends on a,
// c depends on b.
func buildChain(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(graph.Immediate)
	require.NoError(t, g.AddNode(target("a")))
	require.NoError(t, g.AddNode(target("b", "a")))
	require.NoError(t, g.AddNode(target("c", "b")))
	require.NoError(t, g.AddEdge("b", "a"))
	require.NoError(t, g.AddEdge("c", "b"))
	_, err := g.Validate()
	require.NoError(t, err)
	return g
}

func TestCleanBuildThreeTargetsDispatchOrder(t *testing.T) {
	g := buildChain(t)
	workers := NewWorkerRegistry()
	workers.Register("w1", nil)

	s := New(g, workers, DefaultRetryPolicy(), nil, nil)
	require.NoError(t, s.Seed())

	// Only "a" has zero pending deps initially.
	id, _, ok := s.DequeueReady()
	require.True(t, ok)
	assert.Equal(t, graph.TargetID("a"), id)
	_, _, ok = s.DequeueReady()
	assert.False(t, ok)

	require.True(t, s.Assign("w1", "a"))
	assert.Equal(t, graph.StatusBuilding, g.Node("a").Status())
	s.OnComplete("w1", "a", 10)
	assert.Equal(t, graph.StatusSuccess, g.Node("a").Status())

	id, _, ok = s.DequeueReady()
	require.True(t, ok)
	assert.Equal(t, graph.TargetID("b"), id)
	require.True(t, s.Assign("w1", "b"))
	s.OnComplete("w1", "b", 10)

	id, _, ok = s.DequeueReady()
	require.True(t, ok)
	assert.Equal(t, graph.TargetID("c"), id)
	require.True(t, s.Assign("w1", "c"))
	s.OnComplete("w1", "c", 10)

	assert.Equal(t, graph.StatusSuccess, g.Node("a").Status())
	assert.Equal(t, graph.StatusSuccess, g.Node("b").Status())
	assert.Equal(t, graph.StatusSuccess, g.Node("c").Status())
}

func TestSecondBuildAllCachedNoExecutions(t *testing.T) {
	g := buildChain(t)
	s := New(g, NewWorkerRegistry(), DefaultRetryPolicy(), nil, nil)
	require.NoError(t, s.Seed())

	// Drive the cache-hit cascade in dependency order, as a real rebuild
	// would (a target's cache lookup needs its dependencies' output
	// digests first).
	for _, id := range []graph.TargetID{"a", "b", "c"} {
		require.True(t, s.OnCacheHit(id))
	}
	assert.Equal(t, graph.StatusCached, g.Node("a").Status())
	assert.Equal(t, graph.StatusCached, g.Node("b").Status())
	assert.Equal(t, graph.StatusCached, g.Node("c").Status())
}

func TestRetryBudgetExhaustedPropagatesFailure(t *testing.T) {
	g := buildChain(t)
	workers := NewWorkerRegistry()
	workers.Register("w1", nil)
	s := New(g, workers, RetryPolicy{MaxRetries: 2}, nil, nil)
	require.NoError(t, s.Seed())

	id, _, ok := s.DequeueReady()
	require.True(t, ok)
	require.Equal(t, graph.TargetID("a"), id)

	netErr := ferr.New(ferr.KindNetwork, "test", "a", errors.New("boom")).WithRetry()
	for i := 0; i < 2; i++ {
		require.True(t, s.Assign("w1", "a"))
		s.OnFailure("w1", "a", netErr)
		assert.Equal(t, graph.StatusPending, g.Node("a").Status())
		rid, _, ok := s.DequeueReady()
		require.True(t, ok)
		require.Equal(t, graph.TargetID("a"), rid)
	}

	// Third failure exhausts the 2-retry budget: permanent failure,
	// cascading to b and c.
	require.True(t, s.Assign("w1", "a"))
	s.OnFailure("w1", "a", netErr)

	assert.Equal(t, graph.StatusFailed, g.Node("a").Status())
	assert.Equal(t, graph.StatusFailed, g.Node("b").Status())
	assert.Equal(t, graph.StatusFailed, g.Node("c").Status())
	_, _, ok = s.DequeueReady()
	assert.False(t, ok, "a failed target's dependents must never become ready")
}

func TestSandboxViolationNeverRetries(t *testing.T) {
	g := graph.New(graph.Immediate)
	require.NoError(t, g.AddNode(target("only")))
	_, err := g.Validate()
	require.NoError(t, err)

	workers := NewWorkerRegistry()
	workers.Register("w1", nil)
	s := New(g, workers, DefaultRetryPolicy(), nil, nil)
	require.NoError(t, s.Seed())

	_, _, ok := s.DequeueReady()
	require.True(t, ok)
	require.True(t, s.Assign("w1", "only"))

	sandboxErr := ferr.New(ferr.KindSandbox, "test", "only", errors.New("hermeticity breach"))
	s.OnFailure("w1", "only", sandboxErr)

	assert.Equal(t, graph.StatusFailed, g.Node("only").Status())
	assert.Equal(t, 0, g.Node("only").RetryCount())
}

func TestWorkerLossRequeuesInProgressTargets(t *testing.T) {
	g := buildChain(t)
	workers := NewWorkerRegistry()
	workers.Register("w1", nil)
	s := New(g, workers, DefaultRetryPolicy(), nil, nil)
	require.NoError(t, s.Seed())

	id, _, ok := s.DequeueReady()
	require.True(t, ok)
	require.Equal(t, graph.TargetID("a"), id)
	require.True(t, s.Assign("w1", "a"))
	assert.Equal(t, graph.StatusBuilding, g.Node("a").Status())

	s.OnWorkerFailure("w1")

	assert.Equal(t, graph.StatusPending, g.Node("a").Status())
	assert.Equal(t, 1, g.Node("a").RetryCount())
	rid, _, ok := s.DequeueReady()
	require.True(t, ok)
	assert.Equal(t, graph.TargetID("a"), rid)
}
