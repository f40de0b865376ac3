// Package claims implements the lease subsystem that makes multi-worker
// operation race-free: atomic acquire/renew/release under the repository
// claims-coordination lock, lazy eviction of expired leases, staleness
// detection for indefinite leases, per-agent and per-repository quotas, and
// a derived index rebuildable from the append-only claims log.
package claims

import (
	"time"

	"github.com/google/uuid"
)

// LeaseStatus is the observable status of an active lease.
type LeaseStatus string

// Lease statuses. Stale leases stay in the active index (and count against
// quotas) until explicitly evicted, but are rejected by the structural-edit
// enforcement hook under strict policy.
const (
	StatusActive LeaseStatus = "active"
	StatusStale  LeaseStatus = "stale"
)

// Lease is a time-bounded claim on an issue. TTLSecs zero denotes an
// indefinite lease, which requires a reason and is subject to quotas and
// heartbeat staleness instead of expiry.
type Lease struct {
	LeaseID         string    `json:"lease_id"`
	IssueID         string    `json:"issue_id"`
	AgentID         string    `json:"agent_id"`
	WorktreeID      string    `json:"worktree_id,omitempty"`
	Branch          string    `json:"branch,omitempty"`
	TTLSecs         int       `json:"ttl_secs"`
	AcquiredAt      time.Time `json:"acquired_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Reason          string    `json:"reason,omitempty"`
}

// Indefinite reports whether the lease never expires by time.
func (l *Lease) Indefinite() bool { return l.TTLSecs == 0 }

// TTL returns the lease duration; zero for indefinite leases.
func (l *Lease) TTL() time.Duration { return time.Duration(l.TTLSecs) * time.Second }

// OwnedBy reports whether the given actor holds the lease. An empty
// worktree on either side matches any worktree, so collapsed-plane setups
// still resolve ownership by agent.
func (l *Lease) OwnedBy(agentID, worktreeID string) bool {
	if l.AgentID != agentID {
		return false
	}
	if l.WorktreeID == "" || worktreeID == "" {
		return true
	}
	return l.WorktreeID == worktreeID
}

// LeaseView pairs a lease with its computed status for display.
type LeaseView struct {
	Lease  *Lease      `json:"lease"`
	Status LeaseStatus `json:"status"`
}

// NewLeaseID generates a sortable lease identifier.
func NewLeaseID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
