package claims

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/erankavija/jit/internal/atomicfile"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// indexDoc is the derived active-lease snapshot: a view over the claims
// log, keyed by issue ID, never authoritative.
type indexDoc struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Leases        map[string]*Lease `json:"leases"`
}

func newIndexDoc() *indexDoc {
	return &indexDoc{SchemaVersion: types.ClaimsSchemaVersion, Leases: map[string]*Lease{}}
}

func (d *indexDoc) byLeaseID(leaseID string) *Lease {
	for _, lease := range d.Leases {
		if lease.LeaseID == leaseID {
			return lease
		}
	}
	return nil
}

func (d *indexDoc) views(statusOf func(*Lease) LeaseStatus) []LeaseView {
	issueIDs := make([]string, 0, len(d.Leases))
	for id := range d.Leases {
		issueIDs = append(issueIDs, id)
	}
	sort.Strings(issueIDs)

	views := make([]LeaseView, 0, len(issueIDs))
	for _, id := range issueIDs {
		lease := d.Leases[id]
		views = append(views, LeaseView{Lease: lease, Status: statusOf(lease)})
	}
	return views
}

func (c *Coordinator) loadIndex() (*indexDoc, error) {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return newIndexDoc(), nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", c.indexPath())
	}
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		// A damaged view is rebuilt from the log, never trusted.
		return c.replayLog()
	}
	if doc.SchemaVersion != types.ClaimsSchemaVersion {
		return nil, jiterr.SchemaVersionMismatch(c.indexPath(), doc.SchemaVersion, types.ClaimsSchemaVersion)
	}
	if doc.Leases == nil {
		doc.Leases = map[string]*Lease{}
	}
	return &doc, nil
}

func (c *Coordinator) writeIndex(idx *indexDoc) error {
	idx.SchemaVersion = types.ClaimsSchemaVersion
	idx.GeneratedAt = c.now().UTC()
	return atomicfile.WriteJSON(c.indexPath(), idx)
}

// Rebuild reconstructs the derived index from the claims log and writes it
// atomically. Deterministic and idempotent: the log is authoritative.
// Expired finite leases are dropped at the end per lazy-eviction semantics,
// without appending eviction records (a rebuild is a read of history, not a
// new decision).
func (c *Coordinator) Rebuild() error {
	return lockfile.WithExclusive(c.CoordLockPath(), c.lockTimeout, func() error {
		idx, err := c.replayLog()
		if err != nil {
			return err
		}
		for issueID, lease := range idx.Leases {
			if c.expired(lease) {
				delete(idx.Leases, issueID)
			}
		}
		return c.writeIndex(idx)
	})
}

// VerifyIndex reports whether the derived index is readable, carries the
// expected schema version, names each issue at most once, and holds no
// expired active lease. Any failure means the caller should rebuild from
// the log.
func (c *Coordinator) VerifyIndex() bool {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return true // absent is consistent: it materializes on first use
	}
	if err != nil {
		return false
	}
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	if doc.SchemaVersion != types.ClaimsSchemaVersion {
		return false
	}
	seen := make(map[string]bool, len(doc.Leases))
	for issueID, lease := range doc.Leases {
		if lease == nil || lease.IssueID != issueID {
			return false
		}
		if seen[lease.LeaseID] {
			return false
		}
		seen[lease.LeaseID] = true
		if c.expired(lease) {
			return false
		}
	}
	return true
}

// replayLog folds the claims log into an index document.
func (c *Coordinator) replayLog() (*indexDoc, error) {
	events, err := c.log.ReadAll()
	if err != nil {
		return nil, err
	}

	idx := newIndexDoc()
	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeClaimAcquired:
			var lease Lease
			if err := json.Unmarshal(ev.Payload, &lease); err != nil {
				continue
			}
			idx.Leases[lease.IssueID] = &lease

		case eventlog.TypeClaimRenewed, eventlog.TypeClaimHeartbeat:
			var lease Lease
			if err := json.Unmarshal(ev.Payload, &lease); err != nil {
				continue
			}
			if cur, ok := idx.Leases[lease.IssueID]; ok && cur.LeaseID == lease.LeaseID {
				idx.Leases[lease.IssueID] = &lease
			}

		case eventlog.TypeClaimReleased, eventlog.TypeClaimAutoEvicted, eventlog.TypeClaimForceEvicted:
			var p evictPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				continue
			}
			if cur, ok := idx.Leases[p.IssueID]; ok && cur.LeaseID == p.LeaseID {
				delete(idx.Leases, p.IssueID)
			}

		case eventlog.TypeClaimTransferred:
			var p transferPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil || p.NewLease == nil {
				continue
			}
			idx.Leases[p.NewLease.IssueID] = p.NewLease
		}
	}
	return idx, nil
}
