package executor

import (
	"time"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/types"
)

// ClaimRequest carries the caller-facing claim parameters.
type ClaimRequest struct {
	IssueRef   string
	TTL        time.Duration
	Indefinite bool
	Reason     string
	Agent      string
}

// ClaimAcquire leases an issue for the acting agent.
func (e *Executor) ClaimAcquire(req ClaimRequest) (*claims.Lease, error) {
	actor, err := e.ResolveActor(req.Agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(req.IssueRef)
	if err != nil {
		return nil, err
	}
	lease, err := e.claims.Acquire(claims.AcquireRequest{
		IssueID:    id,
		Actor:      actor,
		Branch:     e.worktree.Branch,
		TTL:        req.TTL,
		Indefinite: req.Indefinite,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, err
	}
	if err := e.claims.RecordHeartbeat(actor); err != nil {
		e.log.Warn().Err(err).Msg("heartbeat record failed")
	}
	e.auditClaim(actor, eventlog.TypeClaimAcquired, lease)
	return lease, nil
}

// ClaimRenew extends a lease held by the acting agent.
func (e *Executor) ClaimRenew(leaseID, agent string) (*claims.Lease, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	lease, err := e.claims.Renew(leaseID, actor)
	if err != nil {
		return nil, err
	}
	e.auditClaim(actor, eventlog.TypeClaimRenewed, lease)
	return lease, nil
}

// ClaimHeartbeat records liveness for a lease and the acting agent.
func (e *Executor) ClaimHeartbeat(leaseID, agent string) (*claims.Lease, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	lease, err := e.claims.Heartbeat(leaseID, actor)
	if err != nil {
		return nil, err
	}
	if err := e.claims.RecordHeartbeat(actor); err != nil {
		e.log.Warn().Err(err).Msg("heartbeat record failed")
	}
	e.auditClaim(actor, eventlog.TypeClaimHeartbeat, lease)
	return lease, nil
}

// ClaimRelease ends a lease held by the acting agent.
func (e *Executor) ClaimRelease(leaseID, agent string) error {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	if err := e.claims.Release(leaseID, actor); err != nil {
		return err
	}
	e.auditClaim(actor, eventlog.TypeClaimReleased, map[string]string{"lease_id": leaseID})
	return nil
}

// ClaimForceEvict removes another agent's lease, with a mandatory reason.
func (e *Executor) ClaimForceEvict(issueRef, reason, agent string) error {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return err
	}
	id, err := e.store.ResolveID(issueRef)
	if err != nil {
		return err
	}
	if err := e.claims.ForceEvict(id, reason, actor); err != nil {
		return err
	}
	e.auditClaim(actor, eventlog.TypeClaimForceEvicted, map[string]string{"issue_id": id, "reason": reason})
	return nil
}

// ClaimTransfer hands a lease to another agent in a single atomic step.
func (e *Executor) ClaimTransfer(leaseID, toAgent, agent string) (*claims.Lease, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	if _, err := types.ParseAgentID(toAgent); err != nil {
		return nil, err
	}
	to := types.Actor{AgentID: toAgent}
	lease, err := e.claims.Transfer(leaseID, actor, to, e.worktree.Branch)
	if err != nil {
		return nil, err
	}
	e.auditClaim(actor, eventlog.TypeClaimTransferred, map[string]string{
		"old_lease_id": leaseID, "new_lease_id": lease.LeaseID,
	})
	return lease, nil
}

// ClaimStatus reports the lease view for an issue, nil when unclaimed.
func (e *Executor) ClaimStatus(issueRef, agent string) (*claims.LeaseView, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	id, err := e.store.ResolveID(issueRef)
	if err != nil {
		return nil, err
	}
	return e.claims.Status(id, actor)
}

// ClaimList returns every active lease, optionally filtered to the acting
// agent's own.
func (e *Executor) ClaimList(agent string, mine bool) ([]claims.LeaseView, error) {
	actor, err := e.ResolveActor(agent)
	if err != nil {
		return nil, err
	}
	views, err := e.claims.List(actor)
	if err != nil {
		return nil, err
	}
	if !mine {
		return views, nil
	}
	var own []claims.LeaseView
	for _, v := range views {
		if v.Lease.AgentID == actor.AgentID {
			own = append(own, v)
		}
	}
	return own, nil
}
