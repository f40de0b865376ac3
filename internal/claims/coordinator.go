package claims

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// Control-plane file names.
const (
	LogFile       = "claims.jsonl"
	IndexFile     = "claims.index.json"
	LocksDir      = "locks"
	HeartbeatDir  = "heartbeat"
	coordLockName = "claims.lock"
)

// Limits carries the coordination quotas and thresholds from repository
// configuration.
type Limits struct {
	DefaultTTL            time.Duration
	StaleThreshold        time.Duration
	MaxIndefinitePerAgent int
	MaxIndefinitePerRepo  int
}

// Coordinator mediates every write to the claims log and derived index.
type Coordinator struct {
	root        string
	limits      Limits
	lockTimeout time.Duration
	log         *eventlog.Log
	logger      zerolog.Logger

	// monoRefs holds the monotonic reading captured at acquire for leases
	// created by this process. Expiry checks prefer these so wall-clock
	// jumps cannot spuriously evict or extend a lease.
	monoRefs map[string]time.Time

	// monoSince is time.Since, injectable in tests to simulate elapsed
	// monotonic time without sleeping.
	monoSince func(time.Time) time.Duration
	// now is time.Now, injectable in tests for staleness scenarios.
	now func() time.Time
}

// New returns a coordinator rooted at the control-plane directory.
func New(controlPlane string, limits Limits, lockTimeout time.Duration, logger zerolog.Logger) *Coordinator {
	if lockTimeout <= 0 {
		lockTimeout = lockfile.DefaultTimeout
	}
	return &Coordinator{
		root:        controlPlane,
		limits:      limits,
		lockTimeout: lockTimeout,
		log:         eventlog.Open(filepath.Join(controlPlane, LogFile), lockTimeout),
		logger:      logger,
		monoRefs:    make(map[string]time.Time),
		monoSince:   time.Since,
		now:         time.Now,
	}
}

// Log exposes the claims log, e.g. for recovery diagnostics.
func (c *Coordinator) Log() *eventlog.Log { return c.log }

// SetNowFunc replaces the wall-clock source. Test hook for staleness
// scenarios; monotonic expiry is unaffected.
func (c *Coordinator) SetNowFunc(now func() time.Time) { c.now = now }

// CoordLockPath returns the repository-wide claims coordination lock path.
func (c *Coordinator) CoordLockPath() string {
	return filepath.Join(c.root, LocksDir, coordLockName)
}

func (c *Coordinator) indexPath() string {
	return filepath.Join(c.root, IndexFile)
}

// AcquireRequest describes a claim attempt.
type AcquireRequest struct {
	IssueID    string
	Actor      types.Actor
	Branch     string
	// TTL of zero with Indefinite false means "use the default". Indefinite
	// requests must carry a Reason.
	TTL        time.Duration
	Indefinite bool
	Reason     string
}

// Acquire grants a lease on the issue if no active lease names it. Expired
// finite leases encountered on the way are lazily evicted, each recorded as
// an auto-eviction.
func (c *Coordinator) Acquire(req AcquireRequest) (*Lease, error) {
	if req.Indefinite && req.Reason == "" {
		return nil, jiterr.New(jiterr.KindMissingReason,
			"an indefinite lease on %s requires a reason", req.IssueID).With("issue_id", req.IssueID)
	}

	var lease *Lease
	err := c.withCoordLock(func(idx *indexDoc) error {
		c.evictExpired(idx, req.Actor)

		if existing, ok := idx.Leases[req.IssueID]; ok {
			return jiterr.AlreadyClaimed(req.IssueID, existing.AgentID, existing.ExpiresAt)
		}

		ttl := req.TTL
		if req.Indefinite {
			ttl = 0
			if err := c.checkQuotas(idx, req.Actor.AgentID); err != nil {
				return err
			}
		} else if ttl <= 0 {
			ttl = c.limits.DefaultTTL
		}

		now := c.now().UTC()
		lease = &Lease{
			LeaseID:         NewLeaseID(),
			IssueID:         req.IssueID,
			AgentID:         req.Actor.AgentID,
			WorktreeID:      req.Actor.WorktreeID,
			Branch:          req.Branch,
			TTLSecs:         int(ttl / time.Second),
			AcquiredAt:      now,
			LastHeartbeatAt: now,
			Reason:          req.Reason,
		}
		if !req.Indefinite {
			lease.ExpiresAt = now.Add(ttl)
		}

		if _, err := c.log.Append(req.Actor, eventlog.TypeClaimAcquired, lease); err != nil {
			return err
		}
		c.monoRefs[lease.LeaseID] = time.Now()
		idx.Leases[req.IssueID] = lease
		return c.writeIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("issue", req.IssueID).Str("lease", lease.LeaseID).
		Str("agent", req.Actor.AgentID).Msg("lease acquired")
	return lease, nil
}

// Renew extends a finite lease and refreshes its heartbeat; for indefinite
// leases only the heartbeat moves. Owner-only.
func (c *Coordinator) Renew(leaseID string, actor types.Actor) (*Lease, error) {
	return c.touch(leaseID, actor, true)
}

// Heartbeat records liveness for a lease without changing its expiry.
// Intended for indefinite leases.
func (c *Coordinator) Heartbeat(leaseID string, actor types.Actor) (*Lease, error) {
	return c.touch(leaseID, actor, false)
}

func (c *Coordinator) touch(leaseID string, actor types.Actor, extend bool) (*Lease, error) {
	var out *Lease
	err := c.withCoordLock(func(idx *indexDoc) error {
		lease := idx.byLeaseID(leaseID)
		if lease == nil {
			return leaseNotFound(leaseID)
		}
		if !lease.OwnedBy(actor.AgentID, actor.WorktreeID) {
			return notOwner(lease, actor)
		}

		now := c.now().UTC()
		lease.LastHeartbeatAt = now
		typ := eventlog.TypeClaimHeartbeat
		if extend && !lease.Indefinite() {
			lease.ExpiresAt = now.Add(lease.TTL())
			c.monoRefs[lease.LeaseID] = time.Now()
			typ = eventlog.TypeClaimRenewed
		}

		if _, err := c.log.Append(actor, typ, lease); err != nil {
			return err
		}
		out = lease
		return c.writeIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release ends a lease. Owner-only.
func (c *Coordinator) Release(leaseID string, actor types.Actor) error {
	return c.withCoordLock(func(idx *indexDoc) error {
		lease := idx.byLeaseID(leaseID)
		if lease == nil {
			return leaseNotFound(leaseID)
		}
		if !lease.OwnedBy(actor.AgentID, actor.WorktreeID) {
			return notOwner(lease, actor)
		}
		if _, err := c.log.Append(actor, eventlog.TypeClaimReleased, releasePayload{
			LeaseID: lease.LeaseID, IssueID: lease.IssueID,
		}); err != nil {
			return err
		}
		delete(idx.Leases, lease.IssueID)
		delete(c.monoRefs, lease.LeaseID)
		return c.writeIndex(idx)
	})
}

// ForceEvict removes the active lease on an issue regardless of owner. A
// non-empty reason is required.
func (c *Coordinator) ForceEvict(issueID, reason string, actor types.Actor) error {
	if reason == "" {
		return jiterr.New(jiterr.KindMissingReason,
			"force-evicting the lease on %s requires a reason", issueID).With("issue_id", issueID)
	}
	return c.withCoordLock(func(idx *indexDoc) error {
		lease, ok := idx.Leases[issueID]
		if !ok {
			return jiterr.New(jiterr.KindLeaseNotFound,
				"no active lease on issue %s", issueID).With("issue_id", issueID)
		}
		if _, err := c.log.Append(actor, eventlog.TypeClaimForceEvicted, evictPayload{
			LeaseID: lease.LeaseID, IssueID: lease.IssueID, Reason: reason,
		}); err != nil {
			return err
		}
		delete(idx.Leases, issueID)
		delete(c.monoRefs, lease.LeaseID)
		return c.writeIndex(idx)
	})
}

// Transfer atomically issues a new lease on the same issue to a different
// actor. Owner-initiated; recorded as a single event pairing old and new
// lease IDs.
func (c *Coordinator) Transfer(leaseID string, owner types.Actor, to types.Actor, branch string) (*Lease, error) {
	var newLease *Lease
	err := c.withCoordLock(func(idx *indexDoc) error {
		lease := idx.byLeaseID(leaseID)
		if lease == nil {
			return leaseNotFound(leaseID)
		}
		if !lease.OwnedBy(owner.AgentID, owner.WorktreeID) {
			return notOwner(lease, owner)
		}

		now := c.now().UTC()
		newLease = &Lease{
			LeaseID:         NewLeaseID(),
			IssueID:         lease.IssueID,
			AgentID:         to.AgentID,
			WorktreeID:      to.WorktreeID,
			Branch:          branch,
			TTLSecs:         lease.TTLSecs,
			AcquiredAt:      now,
			LastHeartbeatAt: now,
			Reason:          lease.Reason,
		}
		if !newLease.Indefinite() {
			newLease.ExpiresAt = now.Add(newLease.TTL())
		}

		if _, err := c.log.Append(owner, eventlog.TypeClaimTransferred, transferPayload{
			OldLeaseID: lease.LeaseID, NewLease: newLease,
		}); err != nil {
			return err
		}
		delete(c.monoRefs, lease.LeaseID)
		c.monoRefs[newLease.LeaseID] = time.Now()
		idx.Leases[newLease.IssueID] = newLease
		return c.writeIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	return newLease, nil
}

// Status returns the lease view for an issue, nil when unclaimed. Expired
// leases are lazily evicted on the way.
func (c *Coordinator) Status(issueID string, actor types.Actor) (*LeaseView, error) {
	var view *LeaseView
	err := c.withCoordLock(func(idx *indexDoc) error {
		c.evictExpired(idx, actor)
		if lease, ok := idx.Leases[issueID]; ok {
			view = &LeaseView{Lease: lease, Status: c.statusOf(lease)}
			return c.writeIndex(idx)
		}
		return c.writeIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// List returns every active lease view ordered by issue ID. Expired leases
// are lazily evicted on the way.
func (c *Coordinator) List(actor types.Actor) ([]LeaseView, error) {
	var views []LeaseView
	err := c.withCoordLock(func(idx *indexDoc) error {
		c.evictExpired(idx, actor)
		views = idx.views(c.statusOf)
		return c.writeIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Holder returns the active lease on an issue without evicting, for the
// structural-edit enforcement hook.
func (c *Coordinator) Holder(issueID string) (*Lease, LeaseStatus, error) {
	idx, err := c.loadIndex()
	if err != nil {
		return nil, StatusActive, err
	}
	lease, ok := idx.Leases[issueID]
	if !ok || c.expired(lease) {
		return nil, StatusActive, nil
	}
	return lease, c.statusOf(lease), nil
}

// expired reports whether a finite lease has outlived its TTL, preferring
// the monotonic reading captured at acquire. Leases from other processes
// fall back to the wall-clock expiry, the only reading that survives
// serialization.
func (c *Coordinator) expired(lease *Lease) bool {
	if lease.Indefinite() {
		return false
	}
	if ref, ok := c.monoRefs[lease.LeaseID]; ok {
		return c.monoSince(ref) >= lease.TTL()
	}
	return c.now().After(lease.ExpiresAt)
}

// statusOf computes active/stale. Staleness applies to indefinite leases
// whose heartbeat is older than the configured threshold; it is a
// wall-clock quantity because it must survive process restarts.
func (c *Coordinator) statusOf(lease *Lease) LeaseStatus {
	if lease.Indefinite() && c.limits.StaleThreshold > 0 {
		if c.now().Sub(lease.LastHeartbeatAt) > c.limits.StaleThreshold {
			return StatusStale
		}
	}
	return StatusActive
}

// evictExpired removes every expired finite lease, appending one
// auto-eviction record each. Indefinite leases are never time-evicted.
func (c *Coordinator) evictExpired(idx *indexDoc, actor types.Actor) {
	for issueID, lease := range idx.Leases {
		if !c.expired(lease) {
			continue
		}
		if _, err := c.log.Append(actor, eventlog.TypeClaimAutoEvicted, evictPayload{
			LeaseID: lease.LeaseID, IssueID: lease.IssueID,
		}); err != nil {
			c.logger.Warn().Err(err).Str("lease", lease.LeaseID).Msg("auto-evict append failed")
			continue
		}
		c.logger.Debug().Str("issue", issueID).Str("lease", lease.LeaseID).Msg("lease auto-evicted")
		delete(idx.Leases, issueID)
		delete(c.monoRefs, lease.LeaseID)
	}
}

func (c *Coordinator) checkQuotas(idx *indexDoc, agentID string) error {
	perAgent, total := 0, 0
	for _, lease := range idx.Leases {
		if !lease.Indefinite() {
			continue
		}
		total++
		if lease.AgentID == agentID {
			perAgent++
		}
	}
	if c.limits.MaxIndefinitePerAgent > 0 && perAgent >= c.limits.MaxIndefinitePerAgent {
		return jiterr.QuotaExceeded("agent "+agentID, c.limits.MaxIndefinitePerAgent)
	}
	if c.limits.MaxIndefinitePerRepo > 0 && total >= c.limits.MaxIndefinitePerRepo {
		return jiterr.QuotaExceeded("repository", c.limits.MaxIndefinitePerRepo)
	}
	return nil
}

// withCoordLock serializes check-and-write sequences across processes.
func (c *Coordinator) withCoordLock(fn func(*indexDoc) error) error {
	return lockfile.WithExclusive(c.CoordLockPath(), c.lockTimeout, func() error {
		idx, err := c.loadIndex()
		if err != nil {
			return err
		}
		return fn(idx)
	})
}

func leaseNotFound(leaseID string) error {
	return jiterr.New(jiterr.KindLeaseNotFound, "lease %s not found", leaseID).With("lease_id", leaseID)
}

func notOwner(lease *Lease, actor types.Actor) error {
	return jiterr.New(jiterr.KindNotOwner,
		"lease %s on %s is owned by %s", lease.LeaseID, lease.IssueID, lease.AgentID).
		With("lease_id", lease.LeaseID).
		With("owner", lease.AgentID).
		With("caller", actor.AgentID)
}

// Payload shapes appended to the claims log.

type releasePayload struct {
	LeaseID string `json:"lease_id"`
	IssueID string `json:"issue_id"`
}

type evictPayload struct {
	LeaseID string `json:"lease_id"`
	IssueID string `json:"issue_id"`
	Reason  string `json:"reason,omitempty"`
}

type transferPayload struct {
	OldLeaseID string `json:"old_lease_id"`
	NewLease   *Lease `json:"new_lease"`
}
