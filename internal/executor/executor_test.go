package executor

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/config"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/store"
	"github.com/erankavija/jit/internal/types"
)

const testAgent = "agent:worker-1"

func newTestExecutor(t *testing.T, policy config.Policy) *Executor {
	t.Helper()
	t.Setenv(config.EnvAgentID, "")

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Worktree.EnforceLeases = policy

	coordinator := claims.New(dir, claims.Limits{
		DefaultTTL:            time.Hour,
		StaleThreshold:        24 * time.Hour,
		MaxIndefinitePerAgent: 1,
		MaxIndefinitePerRepo:  2,
	}, time.Second, zerolog.Nop())

	return New(Options{
		Store:       store.NewMemStore(),
		Claims:      coordinator,
		Events:      eventlog.Open(filepath.Join(dir, "events.jsonl"), time.Second),
		Config:      cfg,
		User:        &config.UserConfig{},
		Worktree:    &types.WorktreeIdentity{WorktreeID: "wt-test"},
		ControlRoot: dir,
		LockTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
}

func mustCreate(t *testing.T, e *Executor, p CreateParams) *types.Issue {
	t.Helper()
	if p.Agent == "" {
		p.Agent = testAgent
	}
	issue, err := e.CreateIssue(p)
	require.NoError(t, err)
	return issue
}

func eventTypes(t *testing.T, e *Executor) []eventlog.Type {
	t.Helper()
	events, err := e.events.ReadAll()
	require.NoError(t, err)
	out := make([]eventlog.Type, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestCreateIssueAutoReady(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	issue := mustCreate(t, e, CreateParams{Title: "standalone"})
	assert.Equal(t, types.StateReady, issue.State, "no dependencies: straight to ready")

	typs := eventTypes(t, e)
	assert.Contains(t, typs, eventlog.TypeIssueCreated)
	assert.Contains(t, typs, eventlog.TypeIssueStateChanged)
}

func TestCreateIssueWithUnfinishedDepStaysBacklog(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	dep := mustCreate(t, e, CreateParams{Title: "dep"})
	issue := mustCreate(t, e, CreateParams{Title: "blocked", Dependencies: []string{dep.ID}})
	assert.Equal(t, types.StateBacklog, issue.State)
}

func TestCreateIssueUnknownDependency(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	_, err := e.CreateIssue(CreateParams{Title: "x", Dependencies: []string{"feedc0de00000000000000000000dead"}, Agent: testAgent})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindUnknownDependency))
}

// Scenario: gate-driven auto-completion. An issue with a manual postcheck
// gate lands in gated on a done request, then completes automatically when
// the gate passes.
func TestGateDrivenAutoCompletion(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	require.NoError(t, e.GateDefine(types.GateDef{
		Key: "tests", Title: "Tests", Stage: types.StagePostcheck, Mode: types.ModeManual,
	}, testAgent))

	issue := mustCreate(t, e, CreateParams{Title: "A", Gates: []string{"tests"}})
	_, err := e.Assign(issue.ID, "agent:a", testAgent)
	require.NoError(t, err)

	_, err = e.SetState(issue.ID, types.StateInProgress, "agent:a")
	require.NoError(t, err)

	got, err := e.SetState(issue.ID, types.StateDone, "agent:a")
	require.NoError(t, err)
	assert.Equal(t, types.StateGated, got.State, "unpassed postcheck diverts done to gated")
	assert.Equal(t, types.GateRequired, got.GateStatusOf("tests"))

	got, err = e.GatePass(issue.ID, "tests", "agent:a")
	require.NoError(t, err)
	assert.Equal(t, types.GatePassed, got.GateStatusOf("tests"))
	assert.Equal(t, types.StateDone, got.State, "last postcheck passing completes the issue in the same operation")
}

// Scenario: cycle prevention. The rejected edge appends no event and leaves
// dependencies unchanged.
func TestCyclePrevention(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	x := mustCreate(t, e, CreateParams{Title: "X"})
	y := mustCreate(t, e, CreateParams{Title: "Y"})
	z := mustCreate(t, e, CreateParams{Title: "Z"})

	require.NoError(t, e.AddDependency(x.ID, y.ID, testAgent))
	require.NoError(t, e.AddDependency(y.ID, z.ID, testAgent))

	before := eventTypes(t, e)

	err := e.AddDependency(z.ID, x.ID, testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindCycleDetected))

	after := eventTypes(t, e)
	assert.Equal(t, before, after, "no event appended for the failing edge")

	got, err := e.Get(z.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Dependencies)
}

func TestDependencyCompletionRipplesReadiness(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	dep := mustCreate(t, e, CreateParams{Title: "dep"})
	top := mustCreate(t, e, CreateParams{Title: "top", Dependencies: []string{dep.ID}})
	require.Equal(t, types.StateBacklog, top.State)

	// Finish the dependency: start it, complete it.
	_, err := e.SetState(dep.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
	_, err = e.SetState(dep.ID, types.StateDone, testAgent)
	require.NoError(t, err)

	got, err := e.Get(top.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State, "dependent becomes ready when its last dependency completes")
}

func TestDependencyAdditionRegressesReady(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	ready := mustCreate(t, e, CreateParams{Title: "was-ready"})
	require.Equal(t, types.StateReady, ready.State)
	fresh := mustCreate(t, e, CreateParams{Title: "fresh"})

	require.NoError(t, e.AddDependency(ready.ID, fresh.ID, testAgent))

	got, err := e.Get(ready.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateBacklog, got.State, "new unfinished dependency sends ready back to backlog")
}

func TestDependencyRemovalRecomputesReadiness(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	dep := mustCreate(t, e, CreateParams{Title: "dep"})
	top := mustCreate(t, e, CreateParams{Title: "top", Dependencies: []string{dep.ID}})

	require.NoError(t, e.RemoveDependency(top.ID, dep.ID, testAgent))

	got, err := e.Get(top.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State)
}

func TestPrecheckBlocksStart(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	require.NoError(t, e.GateDefine(types.GateDef{
		Key: "review", Stage: types.StagePrecheck, Mode: types.ModeManual,
	}, testAgent))

	issue := mustCreate(t, e, CreateParams{Title: "guarded", Gates: []string{"review"}})

	_, err := e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindGateBlocked))

	_, err = e.GatePass(issue.ID, "review", testAgent)
	require.NoError(t, err)

	got, err := e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
	assert.Equal(t, types.StateInProgress, got.State)
	assert.Equal(t, testAgent, got.Assignee, "starting acquires the acting agent as assignee")
}

func TestUnknownGateRejected(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	_, err := e.CreateIssue(CreateParams{Title: "x", Gates: []string{"ghost"}, Agent: testAgent})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindUnknownGate))
}

func TestRejectBypassesGatesAndRipples(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	require.NoError(t, e.GateDefine(types.GateDef{
		Key: "tests", Stage: types.StagePostcheck, Mode: types.ModeManual,
	}, testAgent))

	dep := mustCreate(t, e, CreateParams{Title: "dep", Gates: []string{"tests"}})
	top := mustCreate(t, e, CreateParams{Title: "top", Dependencies: []string{dep.ID}})

	_, err := e.Reject(dep.ID, "obsolete", testAgent)
	require.NoError(t, err)

	got, err := e.Get(top.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State, "rejected is terminal: dependents become ready")
}

func TestRejectRequiresReason(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)
	issue := mustCreate(t, e, CreateParams{Title: "x"})

	_, err := e.Reject(issue.ID, "", testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindMissingReason))
}

func TestUniqueLabelNamespaceReplaces(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	issue := mustCreate(t, e, CreateParams{Title: "x", Labels: []string{"type:task"}})

	got, err := e.LabelAdd(issue.ID, "type:epic", testAgent)
	require.NoError(t, err)
	assert.Equal(t, []string{"type:epic"}, got.Labels, "unique namespace replaces atomically")

	got, err = e.LabelAdd(issue.ID, "area:core", testAgent)
	require.NoError(t, err)
	got, err = e.LabelAdd(issue.ID, "area:docs", testAgent)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"type:epic", "area:core", "area:docs"}, got.Labels,
		"non-unique namespaces accumulate")
}

func TestUnknownTypeLabelRejected(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)
	issue := mustCreate(t, e, CreateParams{Title: "x"})

	_, err := e.LabelAdd(issue.ID, "type:nonsense", testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindUnknownType))
}

func TestStrictPolicyRequiresLease(t *testing.T) {
	e := newTestExecutor(t, config.PolicyStrict)

	issue := mustCreate(t, e, CreateParams{Title: "guarded"})

	// Structural edit without a lease fails.
	_, err := e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindNotOwner))

	// With a lease the same edit succeeds.
	_, err = e.ClaimAcquire(ClaimRequest{IssueRef: issue.ID, Agent: testAgent})
	require.NoError(t, err)

	got, err := e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
	assert.Equal(t, types.StateInProgress, got.State)
}

func TestStrictPolicyRejectsStaleLease(t *testing.T) {
	e := newTestExecutor(t, config.PolicyStrict)

	issue := mustCreate(t, e, CreateParams{Title: "guarded"})

	lease, err := e.ClaimAcquire(ClaimRequest{IssueRef: issue.ID, Indefinite: true, Reason: "manual review", Agent: testAgent})
	require.NoError(t, err)

	// No heartbeat for longer than the stale threshold.
	e.claims.SetNowFunc(func() time.Time { return time.Now().Add(25 * time.Hour) })

	view, err := e.ClaimStatus(issue.ID, testAgent)
	require.NoError(t, err)
	require.NotNil(t, view, "stale lease stays listed")
	assert.Equal(t, claims.StatusStale, view.Status)

	_, err = e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindStaleLease))

	// A heartbeat restores write access.
	e.claims.SetNowFunc(time.Now)
	_, err = e.ClaimHeartbeat(lease.LeaseID, testAgent)
	require.NoError(t, err)

	_, err = e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
}

func TestWarnPolicyAllowsWithoutLease(t *testing.T) {
	e := newTestExecutor(t, config.PolicyWarn)

	issue := mustCreate(t, e, CreateParams{Title: "x"})
	_, err := e.SetState(issue.ID, types.StateInProgress, testAgent)
	require.NoError(t, err, "warn policy diagnoses but does not fail")
}

func TestMissingIdentityUnderStrict(t *testing.T) {
	e := newTestExecutor(t, config.PolicyStrict)

	_, err := e.CreateIssue(CreateParams{Title: "x"})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindMissingAgentIdentity))
}

func TestQueries(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	free := mustCreate(t, e, CreateParams{Title: "free"})
	dep := mustCreate(t, e, CreateParams{Title: "dep"})
	blocked := mustCreate(t, e, CreateParams{Title: "blocked", Dependencies: []string{dep.ID}})
	labeled := mustCreate(t, e, CreateParams{Title: "labeled", Labels: []string{"area:core"}})
	_, err := e.Assign(labeled.ID, "agent:a", testAgent)
	require.NoError(t, err)

	t.Run("available", func(t *testing.T) {
		got, err := e.Available()
		require.NoError(t, err)
		ids := issueIDs(got)
		assert.Contains(t, ids, free.ID)
		assert.Contains(t, ids, dep.ID)
		assert.NotContains(t, ids, blocked.ID, "backlog issues are not available")
		assert.NotContains(t, ids, labeled.ID, "assigned issues are not available")
	})

	t.Run("blocked with reasons", func(t *testing.T) {
		got, err := e.Blocked()
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, blocked.ID, got[0].Issue.ID)
		assert.Equal(t, []string{dep.ID}, got[0].BlockedBy)
	})

	t.Run("by assignee", func(t *testing.T) {
		got, err := e.ByAssignee("agent:a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, labeled.ID, got[0].ID)
	})

	t.Run("by label", func(t *testing.T) {
		got, err := e.ByLabel("area:core")
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = e.ByLabel("area:")
		require.NoError(t, err)
		require.Len(t, got, 1, "namespace-only filter matches any value")
	})

	t.Run("by state", func(t *testing.T) {
		got, err := e.ByState(types.StateBacklog)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, blocked.ID, got[0].ID)
	})
}

func TestConcurrentRipplesIntoSharedDependent(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	// Two independent dependencies feeding one dependent: finishing both
	// concurrently ripples into the shared issue from two operations.
	depA := mustCreate(t, e, CreateParams{Title: "dep-a"})
	depB := mustCreate(t, e, CreateParams{Title: "dep-b"})
	shared := mustCreate(t, e, CreateParams{Title: "shared", Dependencies: []string{depA.ID, depB.ID}})

	for _, dep := range []*types.Issue{depA, depB} {
		_, err := e.SetState(dep.ID, types.StateInProgress, testAgent)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, dep := range []*types.Issue{depA, depB} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.SetState(id, types.StateDone, testAgent)
			assert.NoError(t, err)
		}(dep.ID)
	}
	wg.Wait()

	got, err := e.Get(shared.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State,
		"both completions observed; the shared dependent converged to ready")
}

func TestComponentLocksReleasedAfterRipple(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	dep := mustCreate(t, e, CreateParams{Title: "dep"})
	top := mustCreate(t, e, CreateParams{Title: "top", Dependencies: []string{dep.ID}})

	_, err := e.SetState(dep.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
	_, err = e.SetState(dep.ID, types.StateDone, testAgent)
	require.NoError(t, err)

	// Every lock taken for the ripple must be released: the downstream
	// issue is immediately writable again.
	_, err = e.SetState(top.ID, types.StateInProgress, testAgent)
	require.NoError(t, err)
}

func TestEveryMutationAppendsEvents(t *testing.T) {
	e := newTestExecutor(t, config.PolicyOff)

	issue := mustCreate(t, e, CreateParams{Title: "tracked"})
	_, err := e.Assign(issue.ID, "agent:a", testAgent)
	require.NoError(t, err)
	_, err = e.ContextSet(issue.ID, "k", "v", testAgent)
	require.NoError(t, err)
	_, err = e.DocumentAttach(issue.ID, types.Document{Path: "docs/spec.md"}, testAgent)
	require.NoError(t, err)

	events, err := e.events.ReadAll()
	require.NoError(t, err)

	var prev uint64
	for _, ev := range events {
		assert.Greater(t, ev.Sequence, prev)
		prev = ev.Sequence
	}
	typs := eventTypes(t, e)
	assert.Contains(t, typs, eventlog.TypeAssigneeChanged)
	assert.Contains(t, typs, eventlog.TypeContextChanged)
	assert.Contains(t, typs, eventlog.TypeDocumentAttached)
}

func issueIDs(issues []*types.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.ID)
	}
	return out
}
