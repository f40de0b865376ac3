// Package lifecycle enforces the issue state machine as a function of
// dependencies, gates, and explicit requests, and computes the
// auto-transitions the rules dictate. The machine holds no persistent
// state; it operates on issues and a borrowed dependency view.
package lifecycle

import (
	"github.com/erankavija/jit/internal/dag"
	"github.com/erankavija/jit/internal/gates"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

// Machine evaluates transitions against the gate registry.
type Machine struct {
	defs map[string]types.GateDef
}

// New returns a machine bound to the given gate definitions.
func New(defs map[string]types.GateDef) *Machine {
	return &Machine{defs: defs}
}

// Request applies an explicit state-change request and returns the state
// actually entered: a request for done with unpassed postchecks lands in
// gated rather than failing. Terminal states are never left; rejection is
// handled by Reject, not here.
func (m *Machine) Request(issue *types.Issue, target types.State) (types.State, error) {
	if !target.IsValid() {
		return issue.State, jiterr.New(jiterr.KindInvalidStateTransition,
			"unknown state %q", target).With("to", string(target))
	}
	if issue.State.IsTerminal() {
		return issue.State, m.invalid(issue, target)
	}
	if target == issue.State {
		return issue.State, nil
	}

	switch {
	case issue.State == types.StateReady && target == types.StateInProgress:
		if unpassed := gates.Unpassed(issue, m.defs, types.StagePrecheck); len(unpassed) > 0 {
			return issue.State, jiterr.GateBlocked(string(types.StagePrecheck), unpassed)
		}
		if issue.Assignee == "" {
			return issue.State, jiterr.New(jiterr.KindInvalidStateTransition,
				"issue %s needs an assignee to start", issue.ID).With("issue_id", issue.ID)
		}
		return types.StateInProgress, nil

	case issue.State == types.StateInProgress && target == types.StateDone:
		if unpassed := gates.Unpassed(issue, m.defs, types.StagePostcheck); len(unpassed) > 0 {
			return types.StateGated, nil
		}
		return types.StateDone, nil

	case issue.State == types.StateGated && target == types.StateInProgress:
		return types.StateInProgress, nil

	case issue.State == types.StateGated && target == types.StateDone:
		if unpassed := gates.Unpassed(issue, m.defs, types.StagePostcheck); len(unpassed) > 0 {
			return issue.State, jiterr.GateBlocked(string(types.StagePostcheck), unpassed)
		}
		return types.StateDone, nil
	}

	return issue.State, m.invalid(issue, target)
}

// Reject moves any non-terminal issue to rejected, bypassing gate checks.
func (m *Machine) Reject(issue *types.Issue) (types.State, error) {
	if issue.State.IsTerminal() {
		return issue.State, m.invalid(issue, types.StateRejected)
	}
	return types.StateRejected, nil
}

// AutoAdvance computes the auto-transition for one issue given the current
// dependency view:
//
//	backlog -> ready   when every dependency is terminal
//	ready   -> backlog when any dependency is non-terminal
//	gated   -> done    when the last unpassed postcheck has passed
//
// It returns the new state and whether it differs.
func (m *Machine) AutoAdvance(issue *types.Issue, g *dag.Graph) (types.State, bool) {
	switch issue.State {
	case types.StateBacklog:
		if g.IsReady(issue.ID) {
			return types.StateReady, true
		}
	case types.StateReady:
		if !g.IsReady(issue.ID) {
			return types.StateBacklog, true
		}
	case types.StateGated:
		if len(gates.Unpassed(issue, m.defs, types.StagePostcheck)) == 0 {
			return types.StateDone, true
		}
	}
	return issue.State, false
}

func (m *Machine) invalid(issue *types.Issue, target types.State) error {
	return jiterr.New(jiterr.KindInvalidStateTransition,
		"cannot move issue %s from %s to %s", issue.ID, issue.State, target).
		With("issue_id", issue.ID).
		With("from", string(issue.State)).
		With("to", string(target))
}
