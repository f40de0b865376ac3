package executor

import (
	"time"

	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/gates"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// GateDefine adds or replaces a registry definition under the registry lock.
func (e *Executor) GateDefine(def types.GateDef, agent string) error {
	_, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	if err := e.checkMainHistory(); err != nil {
		return err
	}
	return lockfile.WithExclusive(e.registryLockPath(), e.lockTimeout, func() error {
		return e.registry.Define(def)
	})
}

// GateUndefine removes a registry definition.
func (e *Executor) GateUndefine(key, agent string) error {
	_, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	if err := e.checkMainHistory(); err != nil {
		return err
	}
	return lockfile.WithExclusive(e.registryLockPath(), e.lockTimeout, func() error {
		return e.registry.Remove(key)
	})
}

// GateAdd requires a registry gate on an issue.
func (e *Executor) GateAdd(ref, key, agent string) (*types.Issue, error) {
	return e.mutateGates(ref, agent, func(issue *types.Issue) ([]eventlog.Pending, error) {
		if err := e.registry.ValidateKeys([]string{key}); err != nil {
			return nil, err
		}
		if issue.RequiresGate(key) {
			return nil, nil
		}
		issue.GatesRequired = append(issue.GatesRequired, key)
		if issue.GatesStatus == nil {
			issue.GatesStatus = map[string]types.GateState{}
		}
		if _, ok := issue.GatesStatus[key]; !ok {
			issue.GatesStatus[key] = types.GateState{Status: types.GateRequired, UpdatedAt: time.Now().UTC()}
		}
		return []eventlog.Pending{{Type: eventlog.TypeGateAdded, Payload: gateEventPayload(issue.ID, key)}}, nil
	})
}

// GateRemove drops a gate requirement. The status entry is kept as a
// tolerated extra so history survives.
func (e *Executor) GateRemove(ref, key, agent string) (*types.Issue, error) {
	return e.mutateGates(ref, agent, func(issue *types.Issue) ([]eventlog.Pending, error) {
		for i, k := range issue.GatesRequired {
			if k == key {
				issue.GatesRequired = append(issue.GatesRequired[:i], issue.GatesRequired[i+1:]...)
				return []eventlog.Pending{{Type: eventlog.TypeGateRemoved, Payload: gateEventPayload(issue.ID, key)}}, nil
			}
		}
		return nil, jiterr.New(jiterr.KindNotFound, "gate %s not required on issue", key).With("key", key)
	})
}

// GatePass marks a manual gate passed by an explicit actor.
func (e *Executor) GatePass(ref, key, agent string) (*types.Issue, error) {
	return e.setGateStatus(ref, key, agent, types.GatePassed, eventlog.TypeGatePassed)
}

// GateFail marks a gate failed by an explicit actor.
func (e *Executor) GateFail(ref, key, agent string) (*types.Issue, error) {
	return e.setGateStatus(ref, key, agent, types.GateFailed, eventlog.TypeGateFailed)
}

// GateReset returns a failed gate to required.
func (e *Executor) GateReset(ref, key, agent string) (*types.Issue, error) {
	return e.setGateStatus(ref, key, agent, types.GateRequired, eventlog.TypeGateReset)
}

func (e *Executor) setGateStatus(ref, key, agent string, status types.GateStatus, typ eventlog.Type) (*types.Issue, error) {
	// Gate pass/fail is an explicit action; it always names its actor.
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	if actor.AgentID == "" {
		return nil, jiterr.New(jiterr.KindMissingAgentIdentity,
			"gate %s on %s requires an acting identity", key, ref).With("key", key)
	}
	return e.mutateGates(ref, agent, func(issue *types.Issue) ([]eventlog.Pending, error) {
		if !issue.RequiresGate(key) {
			return nil, jiterr.New(jiterr.KindNotFound, "gate %s not required on issue", key).With("key", key)
		}
		issue.GatesStatus[key] = types.GateState{
			Status:    status,
			UpdatedBy: actor.AgentID,
			UpdatedAt: time.Now().UTC(),
		}
		return []eventlog.Pending{{Type: typ, Payload: gateEventPayload(issue.ID, key)}}, nil
	})
}

// GateCheck executes the configured checker for one gate on one issue.
// Unrecognized checker variants are skipped: a gate-checked event records
// the skip and the status is untouched.
func (e *Executor) GateCheck(ref, key, agent string) (*types.Issue, error) {
	return e.mutateGates(ref, agent, func(issue *types.Issue) ([]eventlog.Pending, error) {
		return e.checkOne(issue, key)
	})
}

// RunPrechecks executes every auto precheck gate required on the issue.
func (e *Executor) RunPrechecks(ref, agent string) (*types.Issue, error) {
	return e.runStage(ref, agent, types.StagePrecheck)
}

// RunPostchecks executes every auto postcheck gate required on the issue.
func (e *Executor) RunPostchecks(ref, agent string) (*types.Issue, error) {
	return e.runStage(ref, agent, types.StagePostcheck)
}

// CheckAll executes every auto gate required on the issue.
func (e *Executor) CheckAll(ref, agent string) (*types.Issue, error) {
	return e.runStage(ref, agent, "")
}

func (e *Executor) runStage(ref, agent string, stage types.GateStage) (*types.Issue, error) {
	return e.mutateGates(ref, agent, func(issue *types.Issue) ([]eventlog.Pending, error) {
		defs, err := e.registry.List()
		if err != nil {
			return nil, err
		}
		byKey := gates.DefMap(defs)

		var pending []eventlog.Pending
		for _, key := range issue.GatesRequired {
			def, ok := byKey[key]
			if !ok {
				return nil, jiterr.New(jiterr.KindUnknownGate,
					"gate %q is not defined in the registry", key).With("key", key)
			}
			if def.Mode != types.ModeAuto {
				continue
			}
			if stage != "" && def.Stage != stage {
				continue
			}
			evs, err := e.checkOne(issue, key)
			if err != nil {
				return nil, err
			}
			pending = append(pending, evs...)
		}
		return pending, nil
	})
}

// checkOne runs a single checker against the issue, updating status and
// recording the run.
func (e *Executor) checkOne(issue *types.Issue, key string) ([]eventlog.Pending, error) {
	if !issue.RequiresGate(key) {
		return nil, jiterr.New(jiterr.KindNotFound, "gate %s not required on issue", key).With("key", key)
	}
	def, err := e.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if def.Mode != types.ModeAuto {
		return nil, jiterr.New(jiterr.KindInvalidArgument,
			"gate %s is manual; use gate pass/fail", key).With("key", key)
	}

	outcome := e.runner.Check(def, issue.ID)
	pending := []eventlog.Pending{{Type: eventlog.TypeGateChecked, Payload: map[string]string{
		"issue_id": issue.ID,
		"gate_key": key,
		"result":   checkResult(outcome),
	}}}

	if outcome.Skipped {
		return pending, nil
	}
	if err := e.store.SaveGateRun(outcome.Run); err != nil {
		return nil, err
	}

	issue.GatesStatus[key] = types.GateState{
		Status:    outcome.Status,
		UpdatedBy: "gate:" + key,
		UpdatedAt: time.Now().UTC(),
	}
	switch outcome.Status {
	case types.GatePassed:
		pending = append(pending, eventlog.Pending{Type: eventlog.TypeGatePassed, Payload: gateEventPayload(issue.ID, key)})
	case types.GateFailed:
		pending = append(pending, eventlog.Pending{Type: eventlog.TypeGateFailed, Payload: gateEventPayload(issue.ID, key)})
	}
	return pending, nil
}

func checkResult(o gates.Outcome) string {
	if o.Skipped {
		return "skipped"
	}
	return string(o.Status)
}

// mutateGates is the shared skeleton for per-issue gate edits: lease
// enforcement, per-issue lock, mutation, auto-transition recompute (a
// passed postcheck can complete a gated issue), writes, then events.
// Terminal issues accept no gate edits, but a gate regressing on a done
// issue elsewhere never reopens it.
func (e *Executor) mutateGates(ref, agent string, fn func(*types.Issue) ([]eventlog.Pending, error)) (*types.Issue, error) {
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

	// A passed postcheck can complete the issue and ripple to dependents,
	// so the whole component is locked up front.
	guards, err := e.lockComponent(id)
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
			"cannot edit gates on terminal issue %s", id).With("issue_id", id)
	}

	pending, err := fn(issue)
	if err != nil {
		return nil, err
	}
	issue.UpdatedAt = time.Now().UTC()
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

func gateEventPayload(issueID, key string) map[string]string {
	return map[string]string{"issue_id": issueID, "gate_key": key}
}
