package executor

import (
	"strings"

	"github.com/erankavija/jit/internal/dag"
	"github.com/erankavija/jit/internal/types"
)

// Get loads one issue by reference (full ID or unique prefix).
func (e *Executor) Get(ref string) (*types.Issue, error) {
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	return e.store.LoadIssue(id)
}

// List returns every issue in canonical order.
func (e *Executor) List() ([]*types.Issue, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, err
	}
	types.SortIssues(issues)
	return issues, nil
}

// Available returns ready, unassigned issues: the work a fresh agent may
// pick up.
func (e *Executor) Available() ([]*types.Issue, error) {
	return e.filter(func(i *types.Issue) bool {
		return i.State == types.StateReady && i.Assignee == ""
	})
}

// ByState returns issues in the given state.
func (e *Executor) ByState(state types.State) ([]*types.Issue, error) {
	return e.filter(func(i *types.Issue) bool { return i.State == state })
}

// ByAssignee returns issues assigned to the given identity.
func (e *Executor) ByAssignee(assignee string) ([]*types.Issue, error) {
	return e.filter(func(i *types.Issue) bool { return i.Assignee == assignee })
}

// ByLabel returns issues carrying the label. A bare "namespace:" matches
// every label in that namespace.
func (e *Executor) ByLabel(label string) ([]*types.Issue, error) {
	namespaceOnly := strings.HasSuffix(label, ":")
	return e.filter(func(i *types.Issue) bool {
		for _, l := range i.Labels {
			if l == label || (namespaceOnly && strings.HasPrefix(l, label)) {
				return true
			}
		}
		return false
	})
}

func (e *Executor) filter(keep func(*types.Issue) bool) ([]*types.Issue, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, err
	}
	var out []*types.Issue
	for _, issue := range issues {
		if keep(issue) {
			out = append(out, issue)
		}
	}
	types.SortIssues(out)
	return out, nil
}

// BlockedIssue pairs a non-ready issue with its blocking dependencies.
type BlockedIssue struct {
	Issue     *types.Issue `json:"issue"`
	BlockedBy []string     `json:"blocked_by"`
}

// Blocked returns backlog issues with their non-terminal dependencies, in
// canonical issue order with blockers in ascending-ID order.
func (e *Executor) Blocked() ([]BlockedIssue, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, err
	}
	graph := dag.FromIssues(issues)

	var blocked []*types.Issue
	for _, issue := range issues {
		if issue.State == types.StateBacklog && !graph.IsReady(issue.ID) {
			blocked = append(blocked, issue)
		}
	}
	types.SortIssues(blocked)

	out := make([]BlockedIssue, 0, len(blocked))
	for _, issue := range blocked {
		out = append(out, BlockedIssue{Issue: issue, BlockedBy: graph.BlockingReasons(issue.ID)})
	}
	return out, nil
}

// DependencyGraph returns the transitive reduction of the dependency graph
// over every issue, for display.
func (e *Executor) DependencyGraph() (map[string][]string, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
	}
	graph := dag.FromIssues(issues)
	return graph.TransitiveReduction(ids), nil
}
