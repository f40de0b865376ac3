// Package executor is the sole facade through which mutations occur. Every
// mutating operation resolves the acting identity, takes the necessary
// locks in the canonical order, validates preconditions across the DAG,
// gate, state-machine, and claim subsystems, applies the change, recomputes
// auto-transitions over the affected component, writes documents
// atomically, and appends one event per logical change.
package executor

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/config"
	"github.com/erankavija/jit/internal/dag"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/gates"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lifecycle"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/paths"
	"github.com/erankavija/jit/internal/store"
	"github.com/erankavija/jit/internal/types"
)

// Executor composes the engines by value; none of them hold back-references.
type Executor struct {
	store         store.Store
	registry      *gates.Registry
	runner        *gates.Runner
	claims        *claims.Coordinator
	events        *eventlog.Log
	controlEvents *eventlog.Log
	cfg           *config.Config
	user          *config.UserConfig
	worktree      *types.WorktreeIdentity
	controlRoot   string
	lockTimeout   time.Duration
	log           zerolog.Logger
}

// Options wires an Executor. Store, Claims, and Events are required; the
// rest default sensibly.
type Options struct {
	Store       store.Store
	Claims      *claims.Coordinator
	Events      *eventlog.Log
	Config      *config.Config
	User        *config.UserConfig
	Worktree    *types.WorktreeIdentity
	ControlRoot string
	LockTimeout time.Duration
	Logger      zerolog.Logger
}

// New constructs the facade.
func New(opts Options) *Executor {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = lockfile.DefaultTimeout
	}
	wt := opts.Worktree
	if wt == nil {
		wt = &types.WorktreeIdentity{}
	}
	e := &Executor{
		store:       opts.Store,
		registry:    gates.NewRegistry(opts.Store),
		runner:      gates.NewRunner(opts.Logger),
		claims:      opts.Claims,
		events:      opts.Events,
		cfg:         cfg,
		user:        opts.User,
		worktree:    wt,
		controlRoot: opts.ControlRoot,
		lockTimeout: timeout,
		log:         opts.Logger,
	}
	if opts.ControlRoot != "" {
		e.controlEvents = ControlEventsLog(opts.ControlRoot)
	}
	return e
}

// auditClaim mirrors a claim lifecycle event into the control-plane event
// log. The claims log stays authoritative; this stream is audit only, so
// failures are logged and swallowed.
func (e *Executor) auditClaim(actor types.Actor, typ eventlog.Type, payload any) {
	if e.controlEvents == nil {
		return
	}
	if _, err := e.controlEvents.Append(actor, typ, payload); err != nil {
		e.log.Warn().Err(err).Str("type", string(typ)).Msg("control event append failed")
	}
}

// Store exposes the underlying store for read-side callers.
func (e *Executor) Store() store.Store { return e.store }

// Claims exposes the claim coordinator.
func (e *Executor) Claims() *claims.Coordinator { return e.claims }

// Registry exposes the gate registry.
func (e *Executor) Registry() *gates.Registry { return e.registry }

// Config exposes the repository configuration.
func (e *Executor) Config() *config.Config { return e.cfg }

// ResolveActor resolves the acting identity from the explicit parameter,
// environment, then user config. Repository config holds no agent identity
// and is not consulted. Under strict lease enforcement an unresolved
// identity fails.
func (e *Executor) ResolveActor(explicit string) (types.Actor, error) {
	agentID := config.ResolveAgentID(explicit, e.user, "")
	if agentID == "" {
		if e.cfg.Worktree.EnforceLeases == config.PolicyStrict {
			return types.Actor{}, jiterr.New(jiterr.KindMissingAgentIdentity,
				"no agent identity; set %s or configure agent_id", config.EnvAgentID)
		}
		return types.Actor{WorktreeID: e.worktree.WorktreeID}, nil
	}
	if _, err := types.ParseAgentID(agentID); err != nil {
		return types.Actor{}, err
	}
	return types.Actor{AgentID: agentID, WorktreeID: e.worktree.WorktreeID}, nil
}

// issueLockPath maps an issue to its coordination lock file.
func (e *Executor) issueLockPath(id string) string {
	return filepath.Join(e.controlRoot, claims.LocksDir, "issues", id+".lock")
}

// registryLockPath is the configuration/registry lock, ordered after the
// claims coordination lock and before per-issue locks.
func (e *Executor) registryLockPath() string {
	return filepath.Join(e.controlRoot, claims.LocksDir, "registry.lock")
}

// lockIssues takes exclusive per-issue locks in ascending-ID order.
func (e *Executor) lockIssues(ids ...string) ([]*lockfile.Guard, error) {
	lockPaths := make([]string, 0, len(ids))
	for _, id := range ids {
		lockPaths = append(lockPaths, e.issueLockPath(id))
	}
	return lockfile.ExclusiveAll(lockPaths, e.lockTimeout)
}

// componentLockAttempts bounds the snapshot-lock-verify loop below.
const componentLockAttempts = 3

// componentOf returns the anchors plus the downstream closure of each, the
// set of issues an auto-transition ripple from the anchors can write.
// Unioning the anchors' closures also covers edges about to be inserted
// between two anchors.
func (e *Executor) componentOf(anchors []string) ([]string, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, err
	}
	graph := dag.FromIssues(issues)

	set := make(map[string]bool, len(anchors))
	for _, id := range anchors {
		set[id] = true
		for _, down := range graph.Downstream(id) {
			set[down] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// lockComponent acquires exclusive locks, in ascending-ID order, for the
// anchors plus every issue a recompute ripple from them may write. The
// affected set is computed from an unlocked snapshot, so after the locks
// are held the set is recomputed and verified; a concurrently grown
// component releases everything and retries.
func (e *Executor) lockComponent(anchors ...string) ([]*lockfile.Guard, error) {
	for attempt := 0; attempt < componentLockAttempts; attempt++ {
		affected, err := e.componentOf(anchors)
		if err != nil {
			return nil, err
		}
		guards, err := e.lockIssues(affected...)
		if err != nil {
			return nil, err
		}

		check, err := e.componentOf(anchors)
		if err != nil {
			lockfile.ReleaseAll(guards)
			return nil, err
		}
		if subsetOf(check, affected) {
			return guards, nil
		}
		lockfile.ReleaseAll(guards)
	}
	return nil, jiterr.New(jiterr.KindLockTimeout,
		"dependency graph kept changing while locking the component of %s", strings.Join(anchors, ", ")).
		With("anchors", strings.Join(anchors, ","))
}

func subsetOf(sub, super []string) bool {
	in := make(map[string]bool, len(super))
	for _, id := range super {
		in[id] = true
	}
	for _, id := range sub {
		if !in[id] {
			return false
		}
	}
	return true
}

// enforceLease applies the structural-edit hook: under strict policy the
// caller must hold an active, non-stale lease on the issue; under warn the
// violation is logged; under off the check is skipped.
func (e *Executor) enforceLease(issueID string, actor types.Actor) error {
	policy := e.cfg.Worktree.EnforceLeases
	if policy == config.PolicyOff || e.claims == nil {
		return nil
	}

	lease, status, err := e.claims.Holder(issueID)
	if err != nil {
		return err
	}

	var violation *jiterr.Error
	switch {
	case lease == nil:
		violation = jiterr.New(jiterr.KindNotOwner,
			"structural edit of %s requires an active lease", issueID).With("issue_id", issueID)
	case !lease.OwnedBy(actor.AgentID, actor.WorktreeID):
		violation = jiterr.New(jiterr.KindNotOwner,
			"issue %s is leased by %s", issueID, lease.AgentID).
			With("issue_id", issueID).With("owner", lease.AgentID)
	case status == claims.StatusStale:
		violation = jiterr.New(jiterr.KindStaleLease,
			"lease %s on %s is stale; heartbeat before writing", lease.LeaseID, issueID).
			With("issue_id", issueID).With("lease_id", lease.LeaseID)
	}

	if violation == nil {
		return nil
	}
	if policy == config.PolicyStrict {
		return violation
	}
	e.log.Warn().Str("issue", issueID).Msg(violation.Message)
	return nil
}

// checkMainHistory gates registry/configuration writes on a shared history
// with origin/main when [global_operations] demands it. Advisory outside
// strict lease enforcement: the divergence is logged, not fatal.
func (e *Executor) checkMainHistory() error {
	if !e.cfg.GlobalOperations.RequireMainHistory {
		return nil
	}
	ok, err := paths.HasMainHistory(e.worktree.RootPath)
	if err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "main-history check")
	}
	if ok {
		return nil
	}
	if e.cfg.Worktree.EnforceLeases == config.PolicyStrict {
		return jiterr.New(jiterr.KindInvalidStateTransition,
			"registry writes require shared history with origin/main; fetch and rebase first")
	}
	e.log.Warn().Msg("worktree has diverged from origin/main; registry write proceeds")
	return nil
}

// machine builds a state machine bound to the current gate registry.
func (e *Executor) machine() (*lifecycle.Machine, map[string]types.GateDef, error) {
	defs, err := e.registry.List()
	if err != nil {
		return nil, nil, err
	}
	m := gates.DefMap(defs)
	return lifecycle.New(m), m, nil
}

// graphSnapshot loads every issue and builds the dependency view.
func (e *Executor) graphSnapshot() (*dag.Graph, map[string]*types.Issue, error) {
	issues, err := e.store.ListIssues()
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}
	return dag.FromIssues(issues), byID, nil
}

// stateChange captures one auto- or explicit transition for the event log.
type stateChange struct {
	IssueID string      `json:"issue_id"`
	From    types.State `json:"from"`
	To      types.State `json:"to"`
	Auto    bool        `json:"auto,omitempty"`
}

// recompute iterates the auto-transition rules over the affected issues
// until a fixed point, saving every changed issue and returning the
// transitions taken. The caller must already hold the exclusive locks for
// the whole component the ripple can reach (see lockComponent); recompute
// writes only issues inside it. The iteration is bounded by the component
// size: each pass either changes at least one issue's state or terminates.
func (e *Executor) recompute(machine *lifecycle.Machine, byID map[string]*types.Issue, affected []string) ([]stateChange, error) {
	var changes []stateChange
	pending := append([]string(nil), affected...)

	for rounds := 0; len(pending) > 0 && rounds <= len(byID)+1; rounds++ {
		graph := dag.FromIssues(values(byID))
		var next []string
		for _, id := range pending {
			issue, ok := byID[id]
			if !ok {
				continue
			}
			newState, changed := machine.AutoAdvance(issue, graph)
			if !changed {
				continue
			}
			old := issue.State
			issue.State = newState
			issue.UpdatedAt = time.Now().UTC()
			if err := e.store.SaveIssue(issue); err != nil {
				return changes, err
			}
			changes = append(changes, stateChange{IssueID: id, From: old, To: newState, Auto: true})
			// A terminality change ripples to dependents.
			if old.IsTerminal() != newState.IsTerminal() {
				next = append(next, graph.Downstream(id)...)
			}
		}
		pending = next
	}
	return changes, nil
}

func values(m map[string]*types.Issue) []*types.Issue {
	out := make([]*types.Issue, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// appendEvents writes the queued events in one lock hold. Mutations call
// this last, after every document write.
func (e *Executor) appendEvents(actor types.Actor, pending []eventlog.Pending) error {
	if e.events == nil || len(pending) == 0 {
		return nil
	}
	_, err := e.events.AppendAll(actor, pending)
	return err
}

// changeEvents converts transitions into event records.
func changeEvents(changes []stateChange) []eventlog.Pending {
	out := make([]eventlog.Pending, 0, len(changes))
	for _, ch := range changes {
		out = append(out, eventlog.Pending{Type: eventlog.TypeIssueStateChanged, Payload: ch})
	}
	return out
}
