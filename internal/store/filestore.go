package store

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/erankavija/jit/internal/atomicfile"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// Data-plane file names.
const (
	IssuesDir    = "issues"
	GateRunsDir  = "gate-runs"
	IndexFile    = "index.json"
	GatesFile    = "gates.json"
	LabelsFile   = "labels.json"
	issueFileExt = ".json"
)

// FileStore persists documents under a data-plane root. Writers always
// write locally; reads of a missing issue fall back to the most recent
// committed version in repo history, then to the main worktree's data
// plane, when those fallbacks are configured.
type FileStore struct {
	root string

	// repoRoot enables the git-history read fallback when non-empty.
	repoRoot string
	// mainDataPlane enables the main-worktree read fallback when non-empty.
	mainDataPlane string
	// lockTimeout bounds the derived-index lock below.
	lockTimeout time.Duration
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithHistoryFallback enables reading a missing issue from the most recent
// committed version in the repository at repoRoot.
func WithHistoryFallback(repoRoot string) Option {
	return func(fs *FileStore) { fs.repoRoot = repoRoot }
}

// WithMainWorktreeFallback enables reading a missing issue from the main
// worktree's data plane.
func WithMainWorktreeFallback(dataPlane string) Option {
	return func(fs *FileStore) { fs.mainDataPlane = dataPlane }
}

// WithLockTimeout overrides the bound on the derived-index lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(fs *FileStore) { fs.lockTimeout = timeout }
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at the data-plane directory.
func NewFileStore(root string, opts ...Option) *FileStore {
	fs := &FileStore{root: root, lockTimeout: lockfile.DefaultTimeout}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Root returns the data-plane root.
func (fs *FileStore) Root() string { return fs.root }

// Init creates the data-plane directory skeleton and default documents.
func (fs *FileStore) Init() error {
	for _, dir := range []string{
		fs.root,
		filepath.Join(fs.root, IssuesDir),
		filepath.Join(fs.root, GateRunsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return jiterr.Wrap(jiterr.KindIO, err, "create %s", dir)
		}
	}
	if _, err := os.Stat(fs.path(LabelsFile)); os.IsNotExist(err) {
		if err := fs.SaveLabels(DefaultLabelsDoc()); err != nil {
			return err
		}
	}
	if _, err := os.Stat(fs.path(GatesFile)); os.IsNotExist(err) {
		if err := fs.SaveGates(&GatesDoc{SchemaVersion: types.GatesSchemaVersion}); err != nil {
			return err
		}
	}
	if _, err := os.Stat(fs.path(IndexFile)); os.IsNotExist(err) {
		return fs.RebuildIndex()
	}
	return nil
}

func (fs *FileStore) path(parts ...string) string {
	return filepath.Join(append([]string{fs.root}, parts...)...)
}

func (fs *FileStore) issuePath(id string) string {
	return fs.path(IssuesDir, id+issueFileExt)
}

// LoadIssue reads an issue by exact ID, applying the configured read
// fallbacks for issues not present locally.
func (fs *FileStore) LoadIssue(id string) (*types.Issue, error) {
	data, err := os.ReadFile(fs.issuePath(id))
	if os.IsNotExist(err) {
		data, err = fs.fallbackRead(id)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jiterr.New(jiterr.KindNotFound, "issue %s not found", id).With("id", id)
		}
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read issue %s", id)
	}
	return decodeIssue(data, fs.issuePath(id))
}

// fallbackRead tries repo history, then the main worktree's data plane.
func (fs *FileStore) fallbackRead(id string) ([]byte, error) {
	if fs.repoRoot != "" {
		rel := filepath.ToSlash(filepath.Join(filepath.Base(fs.root), IssuesDir, id+issueFileExt))
		if data, err := gitShow(fs.repoRoot, "HEAD:"+rel); err == nil {
			return data, nil
		}
	}
	if fs.mainDataPlane != "" {
		path := filepath.Join(fs.mainDataPlane, IssuesDir, id+issueFileExt)
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	return nil, os.ErrNotExist
}

func decodeIssue(data []byte, path string) (*types.Issue, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	if probe.SchemaVersion != types.IssueSchemaVersion {
		return nil, jiterr.SchemaVersionMismatch(path, probe.SchemaVersion, types.IssueSchemaVersion)
	}
	var issue types.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	return &issue, nil
}

// SaveIssue writes the issue document atomically and refreshes its entry in
// the derived index.
func (fs *FileStore) SaveIssue(issue *types.Issue) error {
	if err := atomicfile.WriteJSON(fs.issuePath(issue.ID), issue); err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "write issue %s", issue.ID)
	}
	return fs.updateIndexEntry(issue)
}

// ListIssues loads every issue document, skipping in-flight temp files.
func (fs *FileStore) ListIssues() ([]*types.Issue, error) {
	ids, err := fs.ListIDs()
	if err != nil {
		return nil, err
	}
	issues := make([]*types.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := fs.LoadIssue(id)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// ListIDs enumerates issue IDs from the issues directory.
func (fs *FileStore) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(fs.path(IssuesDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "list issues")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || atomicfile.IsTemp(name) || !strings.HasSuffix(name, issueFileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, issueFileExt))
	}
	return ids, nil
}

// ResolveID expands a short prefix to the unique full issue ID.
func (fs *FileStore) ResolveID(prefix string) (string, error) {
	ids, err := fs.ListIDs()
	if err != nil {
		return "", err
	}
	return resolvePrefix(prefix, ids)
}

// resolvePrefix implements the shared prefix-resolution rules.
func resolvePrefix(prefix string, ids []string) (string, error) {
	if len(prefix) < MinPrefixLen {
		return "", jiterr.New(jiterr.KindInvalidArgument,
			"id prefix %q is shorter than %d characters", prefix, MinPrefixLen).With("prefix", prefix)
	}
	var matches []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", jiterr.New(jiterr.KindNotFound, "no issue matches %q", prefix).With("prefix", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", jiterr.New(jiterr.KindAmbiguous,
			"%q matches %d issues", prefix, len(matches)).With("prefix", prefix)
	}
}

// LoadGates reads the gate registry, returning an empty registry when the
// file is absent.
func (fs *FileStore) LoadGates() (*GatesDoc, error) {
	path := fs.path(GatesFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &GatesDoc{SchemaVersion: types.GatesSchemaVersion}, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}
	var doc GatesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	if doc.SchemaVersion != types.GatesSchemaVersion {
		return nil, jiterr.SchemaVersionMismatch(path, doc.SchemaVersion, types.GatesSchemaVersion)
	}
	return &doc, nil
}

// SaveGates writes the gate registry atomically.
func (fs *FileStore) SaveGates(doc *GatesDoc) error {
	doc.SchemaVersion = types.GatesSchemaVersion
	if err := atomicfile.WriteJSON(fs.path(GatesFile), doc); err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "write gate registry")
	}
	return nil
}

// legacyLabelsDoc is the pre-consolidation shape: namespace names only.
type legacyLabelsDoc struct {
	Namespaces []string `json:"namespaces"`
}

// LoadLabels reads the label/type configuration. Both the consolidated
// shape and the legacy namespaces-only shape are accepted; absence yields
// the defaults.
func (fs *FileStore) LoadLabels() (*LabelsDoc, error) {
	path := fs.path(LabelsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultLabelsDoc(), nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}

	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}

	switch probe.SchemaVersion {
	case types.LabelsSchemaVersion:
		var doc LabelsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
		}
		return &doc, nil
	case 0, 1:
		// Legacy shape: only namespace names. The "type" namespace keeps
		// its unique semantics.
		var legacy legacyLabelsDoc
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, jiterr.Wrap(jiterr.KindIO, err, "parse legacy %s", path)
		}
		doc := &LabelsDoc{SchemaVersion: types.LabelsSchemaVersion}
		for _, name := range legacy.Namespaces {
			doc.Namespaces = append(doc.Namespaces, NamespaceDef{
				Name:   name,
				Unique: name == "type",
			})
		}
		return doc, nil
	default:
		return nil, jiterr.SchemaVersionMismatch(path, probe.SchemaVersion, types.LabelsSchemaVersion)
	}
}

// SaveLabels writes the configuration in the consolidated shape.
func (fs *FileStore) SaveLabels(doc *LabelsDoc) error {
	doc.SchemaVersion = types.LabelsSchemaVersion
	if err := atomicfile.WriteJSON(fs.path(LabelsFile), doc); err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "write labels config")
	}
	return nil
}

// SaveGateRun appends a gate-run record as its own document.
func (fs *FileStore) SaveGateRun(run *types.GateRun) error {
	run.SchemaVersion = types.GatesSchemaVersion
	path := fs.path(GateRunsDir, run.ID+".json")
	if err := atomicfile.WriteJSON(path, run); err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "write gate run %s", run.ID)
	}
	return nil
}

// LoadIndex reads the derived issue index.
func (fs *FileStore) LoadIndex() (*IndexDoc, error) {
	path := fs.path(IndexFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &IndexDoc{SchemaVersion: types.IndexSchemaVersion, Issues: map[string]IndexEntry{}}, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}
	var doc IndexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	if doc.SchemaVersion != types.IndexSchemaVersion {
		return nil, jiterr.SchemaVersionMismatch(path, doc.SchemaVersion, types.IndexSchemaVersion)
	}
	if doc.Issues == nil {
		doc.Issues = map[string]IndexEntry{}
	}
	return &doc, nil
}

// indexLockPath serializes every writer of the shared derived index. The
// per-issue locks protect issue documents; index.json is one file shared
// by all of them, so its load-modify-write cycle needs its own lock.
func (fs *FileStore) indexLockPath() string {
	return fs.path(IndexFile + ".lock")
}

// RebuildIndex recomputes the derived index from the issue documents.
func (fs *FileStore) RebuildIndex() error {
	return lockfile.WithExclusive(fs.indexLockPath(), fs.lockTimeout, fs.rebuildIndexLocked)
}

func (fs *FileStore) rebuildIndexLocked() error {
	issues, err := fs.ListIssues()
	if err != nil {
		return err
	}
	doc := &IndexDoc{SchemaVersion: types.IndexSchemaVersion, Issues: make(map[string]IndexEntry, len(issues))}
	for _, issue := range issues {
		doc.Issues[issue.ID] = indexEntry(issue)
	}
	if err := atomicfile.WriteJSON(fs.path(IndexFile), doc); err != nil {
		return jiterr.Wrap(jiterr.KindIO, err, "write index")
	}
	return nil
}

func (fs *FileStore) updateIndexEntry(issue *types.Issue) error {
	return lockfile.WithExclusive(fs.indexLockPath(), fs.lockTimeout, func() error {
		doc, err := fs.LoadIndex()
		if err != nil {
			// A damaged index is a view; rebuild it instead of failing the
			// write.
			return fs.rebuildIndexLocked()
		}
		doc.Issues[issue.ID] = indexEntry(issue)
		if err := atomicfile.WriteJSON(fs.path(IndexFile), doc); err != nil {
			return jiterr.Wrap(jiterr.KindIO, err, "write index")
		}
		return nil
	})
}

func indexEntry(issue *types.Issue) IndexEntry {
	return IndexEntry{
		Title:     issue.Title,
		State:     issue.State,
		Priority:  issue.Priority,
		Assignee:  issue.Assignee,
		Labels:    issue.Labels,
		CreatedAt: issue.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: issue.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// gitShow reads a blob from repository history.
func gitShow(repoRoot, spec string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "show", spec)
	cmd.Dir = repoRoot
	return cmd.Output()
}
