package claims

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

var (
	actorA = types.Actor{AgentID: "agent:a", WorktreeID: "wt-a"}
	actorB = types.Actor{AgentID: "agent:b", WorktreeID: "wt-b"}
)

func testLimits() Limits {
	return Limits{
		DefaultTTL:            time.Hour,
		StaleThreshold:        24 * time.Hour,
		MaxIndefinitePerAgent: 1,
		MaxIndefinitePerRepo:  2,
	}
}

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return New(t.TempDir(), testLimits(), time.Second, zerolog.Nop())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, Branch: "main"})
	require.NoError(t, err)
	assert.NotEmpty(t, lease.LeaseID)
	assert.Equal(t, 3600, lease.TTLSecs)
	assert.Equal(t, "agent:a", lease.AgentID)
	assert.False(t, lease.ExpiresAt.IsZero())

	view, err := c.Status("issue-1", actorA)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, StatusActive, view.Status)

	require.NoError(t, c.Release(lease.LeaseID, actorA))

	view, err = c.Status("issue-1", actorA)
	require.NoError(t, err)
	assert.Nil(t, view, "claim state returns to unclaimed after release")
}

func TestAcquireConflict(t *testing.T) {
	c := newCoordinator(t)

	winner, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA})
	require.NoError(t, err)

	_, err = c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorB})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindAlreadyClaimed))

	var e *jiterr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "agent:a", e.Get("by"))
	assert.Equal(t, winner.ExpiresAt.UTC().Format(time.RFC3339), e.Get("until"))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	c := newCoordinator(t)

	const contenders = 8
	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			actor := types.Actor{AgentID: "agent:x", WorktreeID: "wt"}
			_, results[n] = c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actor})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
		} else {
			assert.True(t, jiterr.IsKind(err, jiterr.KindAlreadyClaimed))
		}
	}
	assert.Equal(t, 1, won, "exactly one contender wins")

	// Exactly one acquire record in the log for this round.
	events, err := c.Log().ReadAll()
	require.NoError(t, err)
	acquires := 0
	for _, ev := range events {
		if ev.Type == eventlog.TypeClaimAcquired {
			acquires++
		}
	}
	assert.Equal(t, 1, acquires)
}

func TestExpiryReclaimUsesMonotonicElapsed(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, TTL: time.Second})
	require.NoError(t, err)

	// Simulate monotonic elapsed exceeding the TTL; wall clock untouched.
	c.monoSince = func(time.Time) time.Duration { return 2 * time.Second }

	granted, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorB})
	require.NoError(t, err, "expired lease is lazily evicted and the issue reclaimed")
	assert.NotEqual(t, lease.LeaseID, granted.LeaseID)

	events, err := c.Log().ReadAll()
	require.NoError(t, err)
	evictions := 0
	for _, ev := range events {
		if ev.Type == eventlog.TypeClaimAutoEvicted {
			evictions++
		}
	}
	assert.Equal(t, 1, evictions, "exactly one auto-evict record appended")
}

func TestWallClockJumpDoesNotEvict(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, TTL: time.Hour})
	require.NoError(t, err)

	// Wall clock jumps far ahead; monotonic elapsed stays small.
	c.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	c.monoSince = func(time.Time) time.Duration { return time.Minute }

	_, err = c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorB})
	require.Error(t, err, "lease held by monotonic reckoning despite wall-clock jump")
	assert.True(t, jiterr.IsKind(err, jiterr.KindAlreadyClaimed))
}

func TestIndefiniteRequiresReason(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, Indefinite: true})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindMissingReason))

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, Indefinite: true, Reason: "manual review"})
	require.NoError(t, err)
	assert.True(t, lease.Indefinite())
	assert.True(t, lease.ExpiresAt.IsZero())
}

func TestIndefiniteQuotas(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.Acquire(AcquireRequest{IssueID: "i1", Actor: actorA, Indefinite: true, Reason: "r"})
	require.NoError(t, err)

	// Per-agent quota (1) exceeded.
	_, err = c.Acquire(AcquireRequest{IssueID: "i2", Actor: actorA, Indefinite: true, Reason: "r"})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindQuotaExceeded))

	// Another agent may still claim, up to the repo quota (2).
	_, err = c.Acquire(AcquireRequest{IssueID: "i2", Actor: actorB, Indefinite: true, Reason: "r"})
	require.NoError(t, err)

	third := types.Actor{AgentID: "agent:c", WorktreeID: "wt-c"}
	_, err = c.Acquire(AcquireRequest{IssueID: "i3", Actor: third, Indefinite: true, Reason: "r"})
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindQuotaExceeded))
}

func TestIndefiniteStaleness(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, Indefinite: true, Reason: "manual review"})
	require.NoError(t, err)

	// No heartbeat for longer than the stale threshold.
	c.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	view, err := c.Status("issue-1", actorA)
	require.NoError(t, err)
	require.NotNil(t, view, "stale leases remain observable in the index")
	assert.Equal(t, StatusStale, view.Status)

	// A heartbeat restores active status.
	_, err = c.Heartbeat(lease.LeaseID, actorA)
	require.NoError(t, err)

	view, err = c.Status("issue-1", actorA)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, view.Status)
}

func TestRenewOwnerOnly(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, TTL: time.Minute})
	require.NoError(t, err)

	_, err = c.Renew(lease.LeaseID, actorB)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindNotOwner))

	before := lease.ExpiresAt
	c.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	renewed, err := c.Renew(lease.LeaseID, actorA)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(before))
}

func TestReleaseOwnerOnly(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA})
	require.NoError(t, err)

	err = c.Release(lease.LeaseID, actorB)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindNotOwner))
}

func TestForceEvict(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA})
	require.NoError(t, err)

	err = c.ForceEvict("issue-1", "", actorB)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindMissingReason))

	require.NoError(t, c.ForceEvict("issue-1", "agent unresponsive", actorB))

	view, err := c.Status("issue-1", actorA)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestTransfer(t *testing.T) {
	c := newCoordinator(t)

	lease, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA, TTL: time.Hour})
	require.NoError(t, err)

	// Only the owner may transfer.
	_, err = c.Transfer(lease.LeaseID, actorB, actorB, "feat")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindNotOwner))

	newLease, err := c.Transfer(lease.LeaseID, actorA, actorB, "feat")
	require.NoError(t, err)
	assert.Equal(t, "agent:b", newLease.AgentID)
	assert.Equal(t, "issue-1", newLease.IssueID)
	assert.NotEqual(t, lease.LeaseID, newLease.LeaseID)

	// A single transfer event pairs the lease IDs.
	events, err := c.Log().ReadAll()
	require.NoError(t, err)
	transfers := 0
	for _, ev := range events {
		if ev.Type == eventlog.TypeClaimTransferred {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)
}

func TestRebuildMatchesLiveIndex(t *testing.T) {
	c := newCoordinator(t)

	l1, err := c.Acquire(AcquireRequest{IssueID: "i1", Actor: actorA})
	require.NoError(t, err)
	_, err = c.Acquire(AcquireRequest{IssueID: "i2", Actor: actorB})
	require.NoError(t, err)
	require.NoError(t, c.Release(l1.LeaseID, actorA))

	live, err := c.List(actorA)
	require.NoError(t, err)

	// Delete the index and rebuild from the log.
	require.NoError(t, os.Remove(c.indexPath()))
	require.NoError(t, c.Rebuild())

	rebuilt, err := c.List(actorA)
	require.NoError(t, err)
	require.Len(t, rebuilt, len(live))
	for i := range live {
		assert.Equal(t, live[i].Lease.LeaseID, rebuilt[i].Lease.LeaseID)
		assert.Equal(t, live[i].Lease.IssueID, rebuilt[i].Lease.IssueID)
	}
}

func TestRebuildIdempotent(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.Acquire(AcquireRequest{IssueID: "i1", Actor: actorA})
	require.NoError(t, err)

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	require.NoError(t, c.Rebuild())
	first, err := os.ReadFile(c.indexPath())
	require.NoError(t, err)

	require.NoError(t, c.Rebuild())
	second, err := os.ReadFile(c.indexPath())
	require.NoError(t, err)
	assert.Equal(t, first, second, "rebuilding twice yields identical bytes")
}

func TestHolderForEnforcement(t *testing.T) {
	c := newCoordinator(t)

	lease, _, err := c.Holder("issue-1")
	require.NoError(t, err)
	assert.Nil(t, lease)

	granted, err := c.Acquire(AcquireRequest{IssueID: "issue-1", Actor: actorA})
	require.NoError(t, err)

	lease, status, err := c.Holder("issue-1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, granted.LeaseID, lease.LeaseID)
	assert.Equal(t, StatusActive, status)
}

func TestHeartbeatFiles(t *testing.T) {
	c := newCoordinator(t)

	require.NoError(t, c.RecordHeartbeat(actorA))

	rec, err := c.LoadHeartbeat("agent:a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "agent:a", rec.AgentID)
	assert.False(t, rec.LastSeenAt.IsZero())

	missing, err := c.LoadHeartbeat("agent:ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
