// Package types defines the core data structures of the JIT coordination
// engine: issues, gates, labels, agent and worktree identity. Everything here
// is plain data; behavior lives in the engines that operate on it.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema versions carried by persisted documents. Readers refuse versions
// they do not recognize.
const (
	IssueSchemaVersion    = 1
	GatesSchemaVersion    = 1
	LabelsSchemaVersion   = 2
	IndexSchemaVersion    = 1
	WorktreeSchemaVersion = 1
	EventSchemaVersion    = 1
	ClaimsSchemaVersion   = 1
)

// State is the lifecycle state of an issue.
type State string

// Issue lifecycle states.
const (
	StateBacklog    State = "backlog"
	StateReady      State = "ready"
	StateInProgress State = "in_progress"
	StateGated      State = "gated"
	StateDone       State = "done"
	StateRejected   State = "rejected"
)

// IsValid checks the state against the closed set.
func (s State) IsValid() bool {
	switch s {
	case StateBacklog, StateReady, StateInProgress, StateGated, StateDone, StateRejected:
		return true
	}
	return false
}

// IsTerminal reports whether the state is permanent.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateRejected
}

// Priority orders issues in queries. It never affects transitions.
type Priority string

// Priorities from most to least urgent.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// IsValid checks the priority against the closed set.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank, lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// GateStage binds a gate to a point in the lifecycle.
type GateStage string

// Gate stages.
const (
	StagePrecheck  GateStage = "precheck"
	StagePostcheck GateStage = "postcheck"
)

// IsValid checks the stage against the closed set.
func (s GateStage) IsValid() bool {
	return s == StagePrecheck || s == StagePostcheck
}

// GateMode distinguishes manual gates from engine-executed ones.
type GateMode string

// Gate modes.
const (
	ModeManual GateMode = "manual"
	ModeAuto   GateMode = "auto"
)

// IsValid checks the mode against the closed set.
func (m GateMode) IsValid() bool {
	return m == ModeManual || m == ModeAuto
}

// GateStatus is the per-issue status of a gate.
type GateStatus string

// Per-issue gate statuses.
const (
	GateRequired GateStatus = "required"
	GatePassed   GateStatus = "passed"
	GateFailed   GateStatus = "failed"
)

// IsValid checks the status against the closed set.
func (s GateStatus) IsValid() bool {
	return s == GateRequired || s == GatePassed || s == GateFailed
}

// CheckerKindExec is the only checker variant executed by this build.
// Unrecognized variants round-trip unchanged and check as "skipped".
const CheckerKindExec = "exec"

// ExecChecker runs a command with a bounded timeout.
type ExecChecker struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// Checker is the tagged checker variant of an auto gate. Unknown kinds are
// preserved verbatim so that registries written by newer builds survive a
// read-modify-write by this one.
type Checker struct {
	Kind string
	Exec *ExecChecker
	raw  json.RawMessage
}

type checkerEnvelope struct {
	Kind string `json:"kind"`
}

// UnmarshalJSON decodes the tagged variant, retaining raw bytes for kinds
// this build does not execute.
func (c *Checker) UnmarshalJSON(data []byte) error {
	var env checkerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.Kind = env.Kind
	c.Exec = nil
	c.raw = nil
	if env.Kind == CheckerKindExec {
		var payload struct {
			ExecChecker
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		ec := payload.ExecChecker
		c.Exec = &ec
		return nil
	}
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits unknown variants byte-for-byte.
func (c Checker) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	if c.Kind == CheckerKindExec && c.Exec != nil {
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*ExecChecker
		}{Kind: CheckerKindExec, ExecChecker: c.Exec})
	}
	return json.Marshal(checkerEnvelope{Kind: c.Kind})
}

// ExecCheckerSpec builds an exec checker variant.
func ExecCheckerSpec(command string, timeoutSeconds int) *Checker {
	return &Checker{
		Kind: CheckerKindExec,
		Exec: &ExecChecker{Command: command, TimeoutSeconds: timeoutSeconds},
	}
}

// GateDef is a reusable gate definition in the global registry.
type GateDef struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Stage       GateStage `json:"stage"`
	Mode        GateMode  `json:"mode"`
	Checker     *Checker  `json:"checker,omitempty"`
}

// Validate checks the registry invariants for a definition.
func (g *GateDef) Validate() error {
	if strings.TrimSpace(g.Key) == "" {
		return fmt.Errorf("gate key is required")
	}
	if !g.Stage.IsValid() {
		return fmt.Errorf("invalid gate stage: %s", g.Stage)
	}
	if !g.Mode.IsValid() {
		return fmt.Errorf("invalid gate mode: %s", g.Mode)
	}
	if g.Mode == ModeAuto && g.Checker == nil {
		return fmt.Errorf("auto gate %s requires a checker", g.Key)
	}
	return nil
}

// GateState records a gate's status on one issue.
type GateState struct {
	Status    GateStatus `json:"status"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GateRun is the stored outcome of one checker execution. Appended, never
// mutated.
type GateRun struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	GateKey       string    `json:"gate_key"`
	IssueID       string    `json:"issue_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ExitStatus    int       `json:"exit_status"`
	StdoutExcerpt string    `json:"stdout_excerpt,omitempty"`
	StderrExcerpt string    `json:"stderr_excerpt,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Commit        string    `json:"commit,omitempty"`
}

// Document is an opaque reference to a file attached to an issue.
type Document struct {
	Path    string `json:"path"`
	Label   string `json:"label,omitempty"`
	DocType string `json:"doc_type,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

// Issue is the atomic unit of work.
type Issue struct {
	SchemaVersion int                  `json:"schema_version"`
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Description   string               `json:"description,omitempty"`
	State         State                `json:"state"`
	Priority      Priority             `json:"priority"`
	Assignee      string               `json:"assignee,omitempty"`
	Dependencies  []string             `json:"dependencies,omitempty"`
	GatesRequired []string             `json:"gates_required,omitempty"`
	GatesStatus   map[string]GateState `json:"gates_status,omitempty"`
	Labels        []string             `json:"labels,omitempty"`
	Documents     []Document           `json:"documents,omitempty"`
	Context       map[string]string    `json:"context,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewIssueID generates a stable 128-bit identifier.
func NewIssueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewIssue constructs a backlog issue with defaults applied.
func NewIssue(title string) *Issue {
	now := time.Now().UTC().Truncate(time.Second)
	return &Issue{
		SchemaVersion: IssueSchemaVersion,
		ID:            NewIssueID(),
		Title:         title,
		State:         StateBacklog,
		Priority:      PriorityNormal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks field-level invariants. Cross-issue invariants (dependency
// resolution, acyclicity) belong to the engines.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !i.State.IsValid() {
		return fmt.Errorf("invalid state: %s", i.State)
	}
	if !i.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", i.Priority)
	}
	if i.Assignee != "" {
		if _, err := ParseAgentID(i.Assignee); err != nil {
			return fmt.Errorf("invalid assignee: %w", err)
		}
	}
	for _, l := range i.Labels {
		if _, err := ParseLabel(l); err != nil {
			return err
		}
	}
	// gates_status must cover gates_required; extra keys are tolerated.
	for _, key := range i.GatesRequired {
		if _, ok := i.GatesStatus[key]; !ok {
			return fmt.Errorf("gate %s required but missing from gates_status", key)
		}
	}
	return nil
}

// HasDependency reports membership in the dependency set.
func (i *Issue) HasDependency(id string) bool {
	for _, d := range i.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// RequiresGate reports membership in the required-gate set.
func (i *Issue) RequiresGate(key string) bool {
	for _, k := range i.GatesRequired {
		if k == key {
			return true
		}
	}
	return false
}

// GateStatusOf returns the recorded status for a gate, defaulting to
// required when unset.
func (i *Issue) GateStatusOf(key string) GateStatus {
	if st, ok := i.GatesStatus[key]; ok {
		return st.Status
	}
	return GateRequired
}

// Clone deep-copies the issue so engines can mutate working copies freely.
func (i *Issue) Clone() *Issue {
	out := *i
	out.Dependencies = append([]string(nil), i.Dependencies...)
	out.GatesRequired = append([]string(nil), i.GatesRequired...)
	out.Labels = append([]string(nil), i.Labels...)
	out.Documents = append([]Document(nil), i.Documents...)
	if i.GatesStatus != nil {
		out.GatesStatus = make(map[string]GateState, len(i.GatesStatus))
		for k, v := range i.GatesStatus {
			out.GatesStatus[k] = v
		}
	}
	if i.Context != nil {
		out.Context = make(map[string]string, len(i.Context))
		for k, v := range i.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// SortIssues orders issues by (priority desc, created-at asc, id asc), the
// canonical enumeration order for every query.
func SortIssues(issues []*Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		ia, ib := issues[a], issues[b]
		if ia.Priority.Rank() != ib.Priority.Rank() {
			return ia.Priority.Rank() < ib.Priority.Rank()
		}
		if !ia.CreatedAt.Equal(ib.CreatedAt) {
			return ia.CreatedAt.Before(ib.CreatedAt)
		}
		return ia.ID < ib.ID
	})
}

// WorktreeIdentity is the stable identity of one worktree's data plane.
type WorktreeIdentity struct {
	SchemaVersion int        `json:"schema_version"`
	WorktreeID    string     `json:"worktree_id"`
	Branch        string     `json:"branch,omitempty"`
	RootPath      string     `json:"root_path"`
	CreatedAt     time.Time  `json:"created_at"`
	RelocatedAt   *time.Time `json:"relocated_at,omitempty"`
}

// Actor identifies who performed an operation.
type Actor struct {
	AgentID    string `json:"agent_id"`
	WorktreeID string `json:"worktree_id,omitempty"`
}
