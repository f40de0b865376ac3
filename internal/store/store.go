// Package store provides typed persistence of issues, the gate registry,
// and the label/type configuration. The Store interface is a narrow
// capability surface implemented by the on-disk store and an in-memory
// variant for tests; no engine above it touches file paths directly.
package store

import (
	"github.com/erankavija/jit/internal/types"
)

// MinPrefixLen is the shortest accepted issue-ID prefix.
const MinPrefixLen = 4

// GatesDoc is the persisted gate registry.
type GatesDoc struct {
	SchemaVersion int             `json:"schema_version"`
	Gates         []types.GateDef `json:"gates"`
}

// NamespaceDef configures one label namespace.
type NamespaceDef struct {
	Name        string `json:"name"`
	Unique      bool   `json:"unique,omitempty"`
	Description string `json:"description,omitempty"`
}

// LabelsDoc is the consolidated label/type configuration. Readers also
// accept the legacy shape where only namespace names are present; writers
// always emit this shape.
type LabelsDoc struct {
	SchemaVersion int               `json:"schema_version"`
	Namespaces    []NamespaceDef    `json:"namespaces"`
	TypeHierarchy map[string]int    `json:"type_hierarchy,omitempty"`
	TypeIcons     map[string]string `json:"type_icons,omitempty"`
}

// Namespace returns the definition for a namespace name, if configured.
func (d *LabelsDoc) Namespace(name string) (NamespaceDef, bool) {
	for _, ns := range d.Namespaces {
		if ns.Name == name {
			return ns, true
		}
	}
	return NamespaceDef{}, false
}

// DefaultLabelsDoc returns the configuration written by init: the unique
// "type" namespace plus common free namespaces.
func DefaultLabelsDoc() *LabelsDoc {
	return &LabelsDoc{
		SchemaVersion: types.LabelsSchemaVersion,
		Namespaces: []NamespaceDef{
			{Name: "type", Unique: true, Description: "work item type"},
			{Name: "area", Description: "code or product area"},
			{Name: "archive", Description: "archival marker for terminal issues"},
		},
		TypeHierarchy: map[string]int{
			"epic":  0,
			"story": 1,
			"task":  2,
		},
	}
}

// IndexEntry is the per-issue summary in the derived issue index.
type IndexEntry struct {
	Title     string         `json:"title"`
	State     types.State    `json:"state"`
	Priority  types.Priority `json:"priority"`
	Assignee  string         `json:"assignee,omitempty"`
	Labels    []string       `json:"labels,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// IndexDoc is the derived issue index: a view, rebuildable from the issue
// documents at any time.
type IndexDoc struct {
	SchemaVersion int                   `json:"schema_version"`
	Issues        map[string]IndexEntry `json:"issues"`
}

// Store is the persistence capability surface consumed by the engines.
type Store interface {
	// LoadIssue returns the issue with the exact ID.
	LoadIssue(id string) (*types.Issue, error)
	// SaveIssue persists the issue and refreshes the derived index entry.
	SaveIssue(issue *types.Issue) error
	// ListIssues returns every issue, unordered.
	ListIssues() ([]*types.Issue, error)
	// ListIDs returns every issue ID, unordered.
	ListIDs() ([]string, error)
	// ResolveID expands a short prefix (length >= MinPrefixLen) to the
	// unique full ID, failing on ambiguity.
	ResolveID(prefix string) (string, error)

	// LoadGates returns the gate registry, empty if absent.
	LoadGates() (*GatesDoc, error)
	// SaveGates persists the gate registry.
	SaveGates(doc *GatesDoc) error

	// LoadLabels returns the label/type configuration, defaults if absent.
	LoadLabels() (*LabelsDoc, error)
	// SaveLabels persists the configuration in the consolidated shape.
	SaveLabels(doc *LabelsDoc) error

	// SaveGateRun appends a gate-run record.
	SaveGateRun(run *types.GateRun) error

	// RebuildIndex recomputes the derived issue index from the issue
	// documents.
	RebuildIndex() error
}
