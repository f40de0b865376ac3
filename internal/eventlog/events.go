package eventlog

// Type tags an event variant. Unknown variants are preserved by readers
// that copy records and ignored by consumers that filter by type.
type Type string

// Data-plane event variants.
const (
	// TypeIssueCreated indicates a new issue entered the backlog.
	TypeIssueCreated Type = "issue_created"
	// TypeIssueUpdated indicates free-text or metadata fields changed.
	TypeIssueUpdated Type = "issue_updated"
	// TypeIssueStateChanged indicates a lifecycle transition.
	TypeIssueStateChanged Type = "issue_state_changed"
	// TypeAssigneeChanged indicates the assignee was set or cleared.
	TypeAssigneeChanged Type = "assignee_changed"
	// TypeDependencyAdded indicates an edge was inserted into the DAG.
	TypeDependencyAdded Type = "dependency_added"
	// TypeDependencyRemoved indicates an edge was removed from the DAG.
	TypeDependencyRemoved Type = "dependency_removed"
	// TypeGateAdded indicates a gate was required on an issue.
	TypeGateAdded Type = "gate_added"
	// TypeGateRemoved indicates a gate requirement was dropped.
	TypeGateRemoved Type = "gate_removed"
	// TypeGatePassed indicates a gate reached passed on an issue.
	TypeGatePassed Type = "gate_passed"
	// TypeGateFailed indicates a gate reached failed on an issue.
	TypeGateFailed Type = "gate_failed"
	// TypeGateReset indicates a failed gate re-entered required.
	TypeGateReset Type = "gate_reset"
	// TypeGateChecked indicates a checker execution completed.
	TypeGateChecked Type = "gate_checked"
	// TypeLabelChanged indicates the label set changed.
	TypeLabelChanged Type = "label_changed"
	// TypeContextChanged indicates agent-private context changed.
	TypeContextChanged Type = "context_changed"
	// TypeDocumentAttached indicates a document descriptor was appended.
	TypeDocumentAttached Type = "document_attached"
)

// Control-plane event variants.
const (
	// TypeClaimAcquired indicates a lease was granted.
	TypeClaimAcquired Type = "claim_acquired"
	// TypeClaimRenewed indicates a lease expiry was extended.
	TypeClaimRenewed Type = "claim_renewed"
	// TypeClaimHeartbeat indicates liveness was recorded for a lease.
	TypeClaimHeartbeat Type = "claim_heartbeat"
	// TypeClaimReleased indicates the owner released a lease.
	TypeClaimReleased Type = "claim_released"
	// TypeClaimAutoEvicted indicates lazy eviction of an expired lease.
	TypeClaimAutoEvicted Type = "claim_auto_evicted"
	// TypeClaimForceEvicted indicates privileged eviction with a reason.
	TypeClaimForceEvicted Type = "claim_force_evicted"
	// TypeClaimTransferred indicates an owner-initiated handover pairing
	// the old and new lease identifiers.
	TypeClaimTransferred Type = "claim_transferred"
)
