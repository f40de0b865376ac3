package store

import (
	"sync"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

// MemStore is an in-memory Store for tests. It applies the same prefix
// resolution and validation rules as the file store but persists nothing.
type MemStore struct {
	mu       sync.RWMutex
	issues   map[string]*types.Issue
	gates    *GatesDoc
	labels   *LabelsDoc
	gateRuns []*types.GateRun
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store with default configuration.
func NewMemStore() *MemStore {
	return &MemStore{
		issues: make(map[string]*types.Issue),
		gates:  &GatesDoc{SchemaVersion: types.GatesSchemaVersion},
		labels: DefaultLabelsDoc(),
	}
}

// LoadIssue returns a deep copy of the stored issue.
func (m *MemStore) LoadIssue(id string) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, jiterr.New(jiterr.KindNotFound, "issue %s not found", id).With("id", id)
	}
	return issue.Clone(), nil
}

// SaveIssue stores a deep copy of the issue.
func (m *MemStore) SaveIssue(issue *types.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issue.ID] = issue.Clone()
	return nil
}

// ListIssues returns deep copies of every issue.
func (m *MemStore) ListIssues() ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		out = append(out, issue.Clone())
	}
	return out, nil
}

// ListIDs returns every issue ID.
func (m *MemStore) ListIDs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.issues))
	for id := range m.issues {
		out = append(out, id)
	}
	return out, nil
}

// ResolveID expands a short prefix to the unique full ID.
func (m *MemStore) ResolveID(prefix string) (string, error) {
	ids, err := m.ListIDs()
	if err != nil {
		return "", err
	}
	return resolvePrefix(prefix, ids)
}

// LoadGates returns a copy of the registry document.
func (m *MemStore) LoadGates() (*GatesDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := &GatesDoc{SchemaVersion: m.gates.SchemaVersion}
	doc.Gates = append(doc.Gates, m.gates.Gates...)
	return doc, nil
}

// SaveGates replaces the registry document.
func (m *MemStore) SaveGates(doc *GatesDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := &GatesDoc{SchemaVersion: types.GatesSchemaVersion}
	copied.Gates = append(copied.Gates, doc.Gates...)
	m.gates = copied
	return nil
}

// LoadLabels returns a copy of the labels configuration.
func (m *MemStore) LoadLabels() (*LabelsDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := &LabelsDoc{SchemaVersion: m.labels.SchemaVersion}
	doc.Namespaces = append(doc.Namespaces, m.labels.Namespaces...)
	if m.labels.TypeHierarchy != nil {
		doc.TypeHierarchy = make(map[string]int, len(m.labels.TypeHierarchy))
		for k, v := range m.labels.TypeHierarchy {
			doc.TypeHierarchy[k] = v
		}
	}
	return doc, nil
}

// SaveLabels replaces the labels configuration.
func (m *MemStore) SaveLabels(doc *LabelsDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := &LabelsDoc{SchemaVersion: types.LabelsSchemaVersion}
	copied.Namespaces = append(copied.Namespaces, doc.Namespaces...)
	copied.TypeHierarchy = doc.TypeHierarchy
	copied.TypeIcons = doc.TypeIcons
	m.labels = copied
	return nil
}

// SaveGateRun records a gate run.
func (m *MemStore) SaveGateRun(run *types.GateRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.gateRuns = append(m.gateRuns, &copied)
	return nil
}

// GateRuns returns the recorded runs, for assertions.
func (m *MemStore) GateRuns() []*types.GateRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*types.GateRun(nil), m.gateRuns...)
}

// RebuildIndex is a no-op: the in-memory store has no derived index.
func (m *MemStore) RebuildIndex() error { return nil }
