package executor

import (
	"time"

	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
)

// AddDependency inserts the edge from -> to after cycle and existence
// checks, then recomputes readiness over the affected component. No event
// is appended for a rejected edge.
func (e *Executor) AddDependency(fromRef, toRef, agent string) error {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	from, err := e.store.ResolveID(fromRef)
	if err != nil {
		return err
	}
	to, err := e.store.ResolveID(toRef)
	if err != nil {
		if jiterr.IsKind(err, jiterr.KindNotFound) {
			return jiterr.UnknownDependency(toRef)
		}
		return err
	}
	if err := e.enforceLease(from, actor); err != nil {
		return err
	}

	// Both endpoints plus everything a readiness ripple can reach. The
	// union of the two closures also covers the edge about to be added.
	guards, err := e.lockComponent(from, to)
	if err != nil {
		return err
	}
	defer lockfile.ReleaseAll(guards)

	graph, byID, err := e.graphSnapshot()
	if err != nil {
		return err
	}
	if err := graph.AddEdge(from, to); err != nil {
		return err
	}

	issue := byID[from]
	if issue == nil {
		return jiterr.New(jiterr.KindNotFound, "issue %s not found", from).With("id", from)
	}
	if issue.HasDependency(to) {
		return nil // idempotent
	}
	issue.Dependencies = append(issue.Dependencies, to)
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return err
	}

	machine, _, err := e.machine()
	if err != nil {
		return err
	}
	changes, err := e.recompute(machine, byID, affectedByChange(byID, to))
	if err != nil {
		return err
	}

	pending := []eventlog.Pending{{
		Type:    eventlog.TypeDependencyAdded,
		Payload: map[string]string{"issue_id": from, "depends_on": to},
	}}
	pending = append(pending, changeEvents(changes)...)
	return e.appendEvents(actor, pending)
}

// RemoveDependency deletes the edge from -> to and recomputes readiness:
// removing the last unfinished dependency can move the issue to ready.
func (e *Executor) RemoveDependency(fromRef, toRef, agent string) error {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	from, err := e.store.ResolveID(fromRef)
	if err != nil {
		return err
	}
	to, err := e.store.ResolveID(toRef)
	if err != nil {
		return err
	}
	if err := e.enforceLease(from, actor); err != nil {
		return err
	}

	guards, err := e.lockComponent(from, to)
	if err != nil {
		return err
	}
	defer lockfile.ReleaseAll(guards)

	issue, err := e.store.LoadIssue(from)
	if err != nil {
		return err
	}
	if !issue.HasDependency(to) {
		return jiterr.New(jiterr.KindNotFound,
			"issue %s does not depend on %s", from, to).With("issue_id", from).With("depends_on", to)
	}
	for i, d := range issue.Dependencies {
		if d == to {
			issue.Dependencies = append(issue.Dependencies[:i], issue.Dependencies[i+1:]...)
			break
		}
	}
	issue.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveIssue(issue); err != nil {
		return err
	}

	machine, _, err := e.machine()
	if err != nil {
		return err
	}
	_, byID, err := e.graphSnapshot()
	if err != nil {
		return err
	}
	changes, err := e.recompute(machine, byID, []string{from})
	if err != nil {
		return err
	}

	pending := []eventlog.Pending{{
		Type:    eventlog.TypeDependencyRemoved,
		Payload: map[string]string{"issue_id": from, "depends_on": to},
	}}
	pending = append(pending, changeEvents(changes)...)
	return e.appendEvents(actor, pending)
}
