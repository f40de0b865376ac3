package executor

import (
	"time"

	"github.com/erankavija/jit/internal/dag"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// CreateParams describes a new issue.
type CreateParams struct {
	Title        string
	Description  string
	Priority     types.Priority
	Labels       []string
	Dependencies []string
	Gates        []string
	Agent        string
}

// CreateIssue creates an issue in backlog, auto-advancing it to ready when
// it has no unfinished dependencies.
func (e *Executor) CreateIssue(p CreateParams) (*types.Issue, error) {
	actor, err := e.ResolveActor(p.Agent)
	if err != nil {
		return nil, err
	}

	issue := types.NewIssue(p.Title)
	issue.Description = p.Description
	if p.Priority != "" {
		issue.Priority = p.Priority
	}

	labelsDoc, err := e.store.LoadLabels()
	if err != nil {
		return nil, err
	}
	for _, raw := range p.Labels {
		if err := e.applyLabel(issue, raw, labelsDoc); err != nil {
			return nil, err
		}
	}

	if len(p.Gates) > 0 {
		if err := e.registry.ValidateKeys(p.Gates); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		issue.GatesStatus = map[string]types.GateState{}
		for _, key := range p.Gates {
			issue.GatesRequired = append(issue.GatesRequired, key)
			issue.GatesStatus[key] = types.GateState{Status: types.GateRequired, UpdatedAt: now}
		}
	}

	// Dependencies must resolve before the issue exists in the graph.
	for _, dep := range p.Dependencies {
		resolved, err := e.store.ResolveID(dep)
		if err != nil {
			if jiterr.IsKind(err, jiterr.KindNotFound) {
				return nil, jiterr.UnknownDependency(dep)
			}
			return nil, err
		}
		issue.Dependencies = append(issue.Dependencies, resolved)
	}

	if err := issue.Validate(); err != nil {
		return nil, jiterr.Wrap(jiterr.KindInvalidArgument, err, "invalid issue")
	}

	// A brand-new issue has no dependents: the only issue its recompute
	// can write is itself, so its own lock suffices.
	guards, err := e.lockIssues(issue.ID)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}

	machine, _, err := e.machine()
	if err != nil {
		return nil, err
	}
	_, byID, err := e.graphSnapshot()
	if err != nil {
		return nil, err
	}
	changes, err := e.recompute(machine, byID, []string{issue.ID})
	if err != nil {
		return nil, err
	}
	if updated, ok := byID[issue.ID]; ok {
		issue = updated
	}

	pending := []eventlog.Pending{{Type: eventlog.TypeIssueCreated, Payload: map[string]string{
		"issue_id": issue.ID,
		"title":    issue.Title,
	}}}
	pending = append(pending, changeEvents(changes)...)
	if err := e.appendEvents(actor, pending); err != nil {
		return nil, err
	}
	return issue, nil
}

// UpdateParams carries free-text and priority edits; nil fields are left
// untouched. These are not structural edits.
type UpdateParams struct {
	Title       *string
	Description *string
	Priority    *types.Priority
	Agent       string
}

// UpdateIssue edits non-structural fields.
func (e *Executor) UpdateIssue(ref string, p UpdateParams) (*types.Issue, error) {
	actor, err := e.ResolveActor(p.Agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}

	guards, err := e.lockIssues(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		issue.Title = *p.Title
	}
	if p.Description != nil {
		issue.Description = *p.Description
	}
	if p.Priority != nil {
		if !p.Priority.IsValid() {
			return nil, jiterr.New(jiterr.KindInvalidArgument, "invalid priority %q", *p.Priority)
		}
		issue.Priority = *p.Priority
	}
	issue.UpdatedAt = time.Now().UTC()

	if err := issue.Validate(); err != nil {
		return nil, jiterr.Wrap(jiterr.KindInvalidArgument, err, "invalid issue")
	}
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := e.appendEvents(actor, []eventlog.Pending{{
		Type: eventlog.TypeIssueUpdated, Payload: map[string]string{"issue_id": id},
	}}); err != nil {
		return nil, err
	}
	return issue, nil
}

// SetState applies an explicit state-change request. A request for done
// with unpassed postchecks lands in gated; entering in_progress assigns the
// acting agent when the issue is unassigned.
func (e *Executor) SetState(ref string, target types.State, agent string) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if err := e.enforceLease(id, actor); err != nil {
		return nil, err
	}

	// A terminality change ripples through dependents, so the whole
	// component is locked up front.
	guards, err := e.lockComponent(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}

	machine, _, err := e.machine()
	if err != nil {
		return nil, err
	}

	var pending []eventlog.Pending

	// Entering in_progress may acquire the acting agent as assignee.
	if issue.State == types.StateReady && target == types.StateInProgress &&
		issue.Assignee == "" && actor.AgentID != "" {
		issue.Assignee = actor.AgentID
		pending = append(pending, eventlog.Pending{Type: eventlog.TypeAssigneeChanged, Payload: map[string]string{
			"issue_id": id, "assignee": actor.AgentID,
		}})
	}

	entered, err := machine.Request(issue, target)
	if err != nil {
		return nil, err
	}
	if entered != issue.State {
		old := issue.State
		issue.State = entered
		issue.UpdatedAt = time.Now().UTC()
		pending = append(pending, eventlog.Pending{
			Type:    eventlog.TypeIssueStateChanged,
			Payload: stateChange{IssueID: id, From: old, To: entered},
		})
	}
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}

	// A terminality change ripples through dependents.
	_, byID, err := e.graphSnapshot()
	if err != nil {
		return nil, err
	}
	changes, err := e.recompute(machine, byID, affectedByChange(byID, id))
	if err != nil {
		return nil, err
	}
	pending = append(pending, changeEvents(changes)...)

	if err := e.appendEvents(actor, pending); err != nil {
		return nil, err
	}
	return byID[id], nil
}

// Reject moves any non-terminal issue to rejected with a reason, bypassing
// gate checks.
func (e *Executor) Reject(ref, reason, agent string) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, jiterr.New(jiterr.KindMissingReason, "rejecting an issue requires a reason")
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if err := e.enforceLease(id, actor); err != nil {
		return nil, err
	}

	// Rejection is terminal and ripples, so lock the component.
	guards, err := e.lockComponent(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	machine, _, err := e.machine()
	if err != nil {
		return nil, err
	}
	entered, err := machine.Reject(issue)
	if err != nil {
		return nil, err
	}
	old := issue.State
	issue.State = entered
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}

	pending := []eventlog.Pending{{
		Type:    eventlog.TypeIssueStateChanged,
		Payload: map[string]string{"issue_id": id, "from": string(old), "to": string(entered), "reason": reason},
	}}

	// Rejection is terminal: dependents may become ready.
	_, byID, err := e.graphSnapshot()
	if err != nil {
		return nil, err
	}
	changes, err := e.recompute(machine, byID, affectedByChange(byID, id))
	if err != nil {
		return nil, err
	}
	pending = append(pending, changeEvents(changes)...)

	if err := e.appendEvents(actor, pending); err != nil {
		return nil, err
	}
	return byID[id], nil
}

// Assign sets the issue's assignee. At most one assignee at a time.
func (e *Executor) Assign(ref, assignee, agent string) (*types.Issue, error) {
	if _, err := types.ParseAgentID(assignee); err != nil {
		return nil, err
	}
	return e.setAssignee(ref, assignee, agent)
}

// Unassign clears the issue's assignee.
func (e *Executor) Unassign(ref, agent string) (*types.Issue, error) {
	return e.setAssignee(ref, "", agent)
}

func (e *Executor) setAssignee(ref, assignee, agent string) (*types.Issue, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(ref)
	if err != nil {
		return nil, err
	}
	if err := e.enforceLease(id, actor); err != nil {
		return nil, err
	}

	guards, err := e.lockIssues(id)
	if err != nil {
		return nil, err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(id)
	if err != nil {
		return nil, err
	}
	if issue.State.IsTerminal() {
		return nil, jiterr.New(jiterr.KindInvalidStateTransition,
			"cannot reassign terminal issue %s", id).With("issue_id", id)
	}
	issue.Assignee = assignee
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := e.appendEvents(actor, []eventlog.Pending{{
		Type: eventlog.TypeAssigneeChanged, Payload: map[string]string{"issue_id": id, "assignee": assignee},
	}}); err != nil {
		return nil, err
	}
	return issue, nil
}

// affectedByChange returns the issue plus everything downstream of it.
func affectedByChange(byID map[string]*types.Issue, id string) []string {
	graph := dag.FromIssues(values(byID))
	return append([]string{id}, graph.Downstream(id)...)
}
