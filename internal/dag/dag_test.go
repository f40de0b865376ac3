package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

func issueWith(id string, state types.State, deps ...string) *types.Issue {
	return &types.Issue{ID: id, Title: id, State: state, Priority: types.PriorityNormal, Dependencies: deps}
}

func TestAddEdgeCyclePrevention(t *testing.T) {
	x := issueWith("xxxx", types.StateBacklog)
	y := issueWith("yyyy", types.StateBacklog)
	z := issueWith("zzzz", types.StateBacklog)
	g := FromIssues([]*types.Issue{x, y, z})

	require.NoError(t, g.AddEdge("xxxx", "yyyy"))
	require.NoError(t, g.AddEdge("yyyy", "zzzz"))

	err := g.AddEdge("zzzz", "xxxx")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindCycleDetected))

	// The failing edge must not mutate state.
	assert.Empty(t, g.Dependencies("zzzz"))
}

func TestAddEdgeSelfLoop(t *testing.T) {
	g := FromIssues([]*types.Issue{issueWith("aaaa", types.StateBacklog)})
	err := g.AddEdge("aaaa", "aaaa")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindCycleDetected))
}

func TestAddEdgeUnknownEndpoints(t *testing.T) {
	g := FromIssues([]*types.Issue{issueWith("aaaa", types.StateBacklog)})

	err := g.AddEdge("aaaa", "missing")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindUnknownDependency))

	err = g.AddEdge("missing", "aaaa")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindUnknownDependency))
}

func TestAddEdgeIdempotent(t *testing.T) {
	a := issueWith("aaaa", types.StateBacklog)
	b := issueWith("bbbb", types.StateBacklog)
	g := FromIssues([]*types.Issue{a, b})

	require.NoError(t, g.AddEdge("aaaa", "bbbb"))
	require.NoError(t, g.AddEdge("aaaa", "bbbb"))
	assert.Equal(t, []string{"bbbb"}, g.Dependencies("aaaa"))
}

func TestIsReady(t *testing.T) {
	cases := []struct {
		name   string
		states []types.State
		want   bool
	}{
		{"all done", []types.State{types.StateDone, types.StateDone}, true},
		{"done and rejected", []types.State{types.StateDone, types.StateRejected}, true},
		{"one in progress", []types.State{types.StateDone, types.StateInProgress}, false},
		{"one backlog", []types.State{types.StateBacklog}, false},
		{"no dependencies", nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := []*types.Issue{}
			var depIDs []string
			for i, st := range tc.states {
				id := string(rune('b'+i)) + "dep0000"
				issues = append(issues, issueWith(id, st))
				depIDs = append(depIDs, id)
			}
			issues = append(issues, issueWith("root0000", types.StateBacklog, depIDs...))
			g := FromIssues(issues)
			assert.Equal(t, tc.want, g.IsReady("root0000"))
		})
	}
}

func TestBlockingReasonsSorted(t *testing.T) {
	issues := []*types.Issue{
		issueWith("cccc", types.StateBacklog),
		issueWith("aaaa", types.StateInProgress),
		issueWith("dddd", types.StateDone),
		issueWith("root", types.StateBacklog, "cccc", "aaaa", "dddd"),
	}
	g := FromIssues(issues)

	assert.Equal(t, []string{"aaaa", "cccc"}, g.BlockingReasons("root"))
}

func TestDownstream(t *testing.T) {
	// d -> c -> b -> a, plus e -> b.
	issues := []*types.Issue{
		issueWith("aaaa", types.StateBacklog),
		issueWith("bbbb", types.StateBacklog, "aaaa"),
		issueWith("cccc", types.StateBacklog, "bbbb"),
		issueWith("dddd", types.StateBacklog, "cccc"),
		issueWith("eeee", types.StateBacklog, "bbbb"),
	}
	g := FromIssues(issues)

	assert.Equal(t, []string{"bbbb", "cccc", "dddd", "eeee"}, g.Downstream("aaaa"))
	assert.Equal(t, []string{"dddd"}, g.Downstream("cccc"))
	assert.Empty(t, g.Downstream("dddd"))
}

func TestTransitiveReduction(t *testing.T) {
	// a depends on b and c; b depends on c. Edge a->c is implied.
	issues := []*types.Issue{
		issueWith("aaaa", types.StateBacklog, "bbbb", "cccc"),
		issueWith("bbbb", types.StateBacklog, "cccc"),
		issueWith("cccc", types.StateBacklog),
	}
	g := FromIssues(issues)

	sub := []string{"aaaa", "bbbb", "cccc"}
	reduced := g.TransitiveReduction(sub)
	assert.Equal(t, []string{"bbbb"}, reduced["aaaa"])
	assert.Equal(t, []string{"cccc"}, reduced["bbbb"])
	assert.Empty(t, reduced["cccc"])

	// Deterministic: reducing the same graph again yields the same result.
	again := g.TransitiveReduction(sub)
	assert.Equal(t, reduced, again)
}

func TestTransitiveReductionIgnoresOutsideSubgraph(t *testing.T) {
	issues := []*types.Issue{
		issueWith("aaaa", types.StateBacklog, "bbbb", "zzzz"),
		issueWith("bbbb", types.StateBacklog),
		issueWith("zzzz", types.StateBacklog),
	}
	g := FromIssues(issues)

	reduced := g.TransitiveReduction([]string{"aaaa", "bbbb"})
	// zzzz is outside the subgraph: dropped from display, not an error.
	assert.Equal(t, []string{"bbbb"}, reduced["aaaa"])
}

func TestRemoveEdge(t *testing.T) {
	issues := []*types.Issue{
		issueWith("aaaa", types.StateBacklog, "bbbb"),
		issueWith("bbbb", types.StateBacklog),
	}
	g := FromIssues(issues)

	g.RemoveEdge("aaaa", "bbbb")
	assert.Empty(t, g.Dependencies("aaaa"))

	// Removing an absent edge is a no-op.
	g.RemoveEdge("aaaa", "bbbb")
}

func TestDiamondNotACycle(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d is a diamond, not a cycle.
	issues := []*types.Issue{
		issueWith("aaaa", types.StateBacklog),
		issueWith("bbbb", types.StateBacklog),
		issueWith("cccc", types.StateBacklog),
		issueWith("dddd", types.StateBacklog),
	}
	g := FromIssues(issues)

	require.NoError(t, g.AddEdge("aaaa", "bbbb"))
	require.NoError(t, g.AddEdge("aaaa", "cccc"))
	require.NoError(t, g.AddEdge("bbbb", "dddd"))
	require.NoError(t, g.AddEdge("cccc", "dddd"))

	// But closing the loop is rejected.
	err := g.AddEdge("dddd", "aaaa")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindCycleDetected))
}
