// Package dag maintains an in-memory view of the issue dependency graph:
// cycle prevention before edge insertion, readiness and blocking queries,
// downstream reachability, and transitive reduction for display. The view
// is transient, borrowed from the issue set; it owns nothing.
package dag

import (
	"sort"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

// Graph is a dependency view over issues. Edges run issue -> dependency.
type Graph struct {
	issues map[string]*types.Issue
	deps   map[string][]string
}

// FromIssues builds a view over the given issues.
func FromIssues(issues []*types.Issue) *Graph {
	g := &Graph{
		issues: make(map[string]*types.Issue, len(issues)),
		deps:   make(map[string][]string, len(issues)),
	}
	for _, issue := range issues {
		g.issues[issue.ID] = issue
		g.deps[issue.ID] = append([]string(nil), issue.Dependencies...)
	}
	return g
}

// Has reports whether the view contains an issue.
func (g *Graph) Has(id string) bool {
	_, ok := g.issues[id]
	return ok
}

// Dependencies returns the direct dependencies of an issue.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// AddEdge inserts from -> to after verifying both endpoints exist and the
// edge closes no cycle. The caller must hold the exclusive locks for both
// endpoint issues, acquired in ascending-ID order.
func (g *Graph) AddEdge(from, to string) error {
	if !g.Has(from) {
		return jiterr.UnknownDependency(from)
	}
	if !g.Has(to) {
		return jiterr.UnknownDependency(to)
	}
	if from == to {
		return jiterr.CycleDetected(from, to)
	}
	for _, d := range g.deps[from] {
		if d == to {
			return nil // edge already present
		}
	}
	// from -> to closes a cycle iff from is already reachable from to.
	if g.reachable(to, from) {
		return jiterr.CycleDetected(from, to)
	}
	g.deps[from] = append(g.deps[from], to)
	return nil
}

// RemoveEdge deletes from -> to if present.
func (g *Graph) RemoveEdge(from, to string) {
	edges := g.deps[from]
	for i, d := range edges {
		if d == to {
			g.deps[from] = append(edges[:i], edges[i+1:]...)
			return
		}
	}
}

// reachable walks depth-first from start looking for target. The traversal
// is bounded by the visited set; no cache is kept.
func (g *Graph) reachable(start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool, len(g.deps))
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, next := range g.deps[cur] {
			if next == target {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// IsReady reports whether every dependency of the issue is terminal.
func (g *Graph) IsReady(id string) bool {
	for _, dep := range g.deps[id] {
		issue, ok := g.issues[dep]
		if !ok || !issue.State.IsTerminal() {
			return false
		}
	}
	return true
}

// BlockingReasons enumerates the non-terminal dependencies of an issue in
// ascending-ID order.
func (g *Graph) BlockingReasons(id string) []string {
	var blocking []string
	for _, dep := range g.deps[id] {
		issue, ok := g.issues[dep]
		if !ok || !issue.State.IsTerminal() {
			blocking = append(blocking, dep)
		}
	}
	sort.Strings(blocking)
	return blocking
}

// Downstream returns the set of issues that can reach id through dependency
// edges, in ascending-ID order. These are the issues whose readiness may
// change when id changes.
func (g *Graph) Downstream(id string) []string {
	// Invert the edges once and walk.
	rev := make(map[string][]string, len(g.deps))
	for from, tos := range g.deps {
		for _, to := range tos {
			rev[to] = append(rev[to], from)
		}
	}

	visited := map[string]bool{}
	stack := append([]string(nil), rev[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, rev[cur]...)
	}

	out := make([]string, 0, len(visited))
	for v := range visited {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// TransitiveReduction returns, for each issue in subgraph, the direct
// dependencies that are not implied by a longer path. Pure and idempotent;
// intended for display.
func (g *Graph) TransitiveReduction(subgraph []string) map[string][]string {
	inSub := make(map[string]bool, len(subgraph))
	for _, id := range subgraph {
		inSub[id] = true
	}

	out := make(map[string][]string, len(subgraph))
	for _, id := range subgraph {
		var kept []string
		for _, dep := range g.deps[id] {
			if !inSub[dep] {
				continue
			}
			if !g.impliedByLongerPath(id, dep, inSub) {
				kept = append(kept, dep)
			}
		}
		sort.Strings(kept)
		out[id] = kept
	}
	return out
}

// impliedByLongerPath reports whether dep is reachable from id through some
// other in-subgraph dependency.
func (g *Graph) impliedByLongerPath(id, dep string, inSub map[string]bool) bool {
	for _, other := range g.deps[id] {
		if other == dep || !inSub[other] {
			continue
		}
		if g.reachableWithin(other, dep, inSub) {
			return true
		}
	}
	return false
}

func (g *Graph) reachableWithin(start, target string, inSub map[string]bool) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] || !inSub[cur] {
			continue
		}
		visited[cur] = true
		for _, next := range g.deps[cur] {
			if next == target {
				return true
			}
			if !visited[next] && inSub[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}
