package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs := NewFileStore(filepath.Join(t.TempDir(), ".jit"))
	require.NoError(t, fs.Init())
	return fs
}

func TestInitCreatesSkeleton(t *testing.T) {
	fs := newTestStore(t)

	for _, name := range []string{IssuesDir, GateRunsDir, LabelsFile, GatesFile, IndexFile} {
		_, err := os.Stat(filepath.Join(fs.Root(), name))
		assert.NoError(t, err, "expected %s after init", name)
	}
}

func TestSaveLoadIssueRoundTrip(t *testing.T) {
	fs := newTestStore(t)

	issue := types.NewIssue("persist me")
	issue.Labels = []string{"type:task"}
	issue.Context = map[string]string{"hint": "x"}
	require.NoError(t, fs.SaveIssue(issue))

	loaded, err := fs.LoadIssue(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.Title, loaded.Title)
	assert.Equal(t, issue.Labels, loaded.Labels)
	assert.Equal(t, issue.Context, loaded.Context)

	// Saving refreshed the index.
	idx, err := fs.LoadIndex()
	require.NoError(t, err)
	entry, ok := idx.Issues[issue.ID]
	require.True(t, ok)
	assert.Equal(t, issue.Title, entry.Title)
	assert.Equal(t, types.StateBacklog, entry.State)
}

func TestLoadIssueNotFound(t *testing.T) {
	fs := newTestStore(t)
	_, err := fs.LoadIssue("aaaabbbbccccddddeeeeffff00001111")
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindNotFound))
}

func TestIssueSchemaVersionRefused(t *testing.T) {
	fs := newTestStore(t)
	id := "aaaabbbbccccddddeeeeffff00001111"
	doc := `{"schema_version": 7, "id": "` + id + `", "title": "future", "state": "backlog", "priority": "normal", "created_at": "2025-01-01T00:00:00Z", "updated_at": "2025-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), IssuesDir, id+".json"), []byte(doc), 0o644))

	_, err := fs.LoadIssue(id)
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindSchemaVersionMismatch))
}

func TestResolveIDPrefixRules(t *testing.T) {
	fs := newTestStore(t)

	a := types.NewIssue("a")
	a.ID = "abcd1111000000000000000000000000"
	b := types.NewIssue("b")
	b.ID = "abcd2222000000000000000000000000"
	c := types.NewIssue("c")
	c.ID = "ffff0000000000000000000000000000"
	for _, issue := range []*types.Issue{a, b, c} {
		require.NoError(t, fs.SaveIssue(issue))
	}

	t.Run("too short", func(t *testing.T) {
		_, err := fs.ResolveID("abc")
		require.Error(t, err)
		assert.True(t, jiterr.IsKind(err, jiterr.KindInvalidArgument))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := fs.ResolveID("abcd")
		require.Error(t, err)
		assert.True(t, jiterr.IsKind(err, jiterr.KindAmbiguous))
	})

	t.Run("unique", func(t *testing.T) {
		id, err := fs.ResolveID("abcd1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, id)
	})

	t.Run("exact", func(t *testing.T) {
		id, err := fs.ResolveID(c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, id)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := fs.ResolveID("0000")
		require.Error(t, err)
		assert.True(t, jiterr.IsKind(err, jiterr.KindNotFound))
	})
}

func TestGatesRegistryRoundTrip(t *testing.T) {
	fs := newTestStore(t)

	doc := &GatesDoc{Gates: []types.GateDef{
		{Key: "review", Title: "Code review", Stage: types.StagePrecheck, Mode: types.ModeManual},
		{Key: "tests", Title: "Tests pass", Stage: types.StagePostcheck, Mode: types.ModeAuto,
			Checker: types.ExecCheckerSpec("go test ./...", 300)},
	}}
	require.NoError(t, fs.SaveGates(doc))

	loaded, err := fs.LoadGates()
	require.NoError(t, err)
	require.Len(t, loaded.Gates, 2)
	assert.Equal(t, "review", loaded.Gates[0].Key)
	require.NotNil(t, loaded.Gates[1].Checker)
	assert.Equal(t, types.CheckerKindExec, loaded.Gates[1].Checker.Kind)
}

func TestLabelsConsolidatedShape(t *testing.T) {
	fs := newTestStore(t)

	doc, err := fs.LoadLabels()
	require.NoError(t, err)
	ns, ok := doc.Namespace("type")
	require.True(t, ok)
	assert.True(t, ns.Unique, "type namespace is unique by default")
}

func TestLabelsLegacyShapeAccepted(t *testing.T) {
	fs := newTestStore(t)

	legacy := `{"namespaces": ["type", "team", "area"]}`
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), LabelsFile), []byte(legacy), 0o644))

	doc, err := fs.LoadLabels()
	require.NoError(t, err)
	require.Len(t, doc.Namespaces, 3)

	ns, ok := doc.Namespace("type")
	require.True(t, ok)
	assert.True(t, ns.Unique, "legacy type namespace keeps unique semantics")

	team, ok := doc.Namespace("team")
	require.True(t, ok)
	assert.False(t, team.Unique)

	// Writers emit the consolidated shape.
	require.NoError(t, fs.SaveLabels(doc))
	reloaded, err := fs.LoadLabels()
	require.NoError(t, err)
	assert.Equal(t, types.LabelsSchemaVersion, reloaded.SchemaVersion)
}

func TestLabelsUnknownSchemaRefused(t *testing.T) {
	fs := newTestStore(t)

	bad := `{"schema_version": 9, "namespaces": []}`
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), LabelsFile), []byte(bad), 0o644))

	_, err := fs.LoadLabels()
	require.Error(t, err)
	assert.True(t, jiterr.IsKind(err, jiterr.KindSchemaVersionMismatch))
}

func TestRebuildIndexFromIssues(t *testing.T) {
	fs := newTestStore(t)

	a := types.NewIssue("first")
	b := types.NewIssue("second")
	require.NoError(t, fs.SaveIssue(a))
	require.NoError(t, fs.SaveIssue(b))

	// Corrupt the index; rebuild must restore both entries.
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), IndexFile), []byte("{}"), 0o644))
	require.NoError(t, fs.RebuildIndex())

	idx, err := fs.LoadIndex()
	require.NoError(t, err)
	assert.Len(t, idx.Issues, 2)
}

func TestConcurrentSaveIssueKeepsEveryIndexEntry(t *testing.T) {
	fs := newTestStore(t)

	const writers = 8
	issues := make([]*types.Issue, writers)
	for i := range issues {
		issues[i] = types.NewIssue("concurrent")
	}

	var wg sync.WaitGroup
	for _, issue := range issues {
		wg.Add(1)
		go func(is *types.Issue) {
			defer wg.Done()
			assert.NoError(t, fs.SaveIssue(is))
		}(issue)
	}
	wg.Wait()

	// The index load-modify-write is serialized: no writer's entry is lost.
	idx, err := fs.LoadIndex()
	require.NoError(t, err)
	require.Len(t, idx.Issues, writers)
	for _, issue := range issues {
		_, ok := idx.Issues[issue.ID]
		assert.True(t, ok, "index entry for %s survived concurrent saves", issue.ID)
	}
}

func TestSaveGateRun(t *testing.T) {
	fs := newTestStore(t)

	run := &types.GateRun{ID: "run-0001", GateKey: "tests", IssueID: "aaaabbbb", ExitStatus: 1}
	require.NoError(t, fs.SaveGateRun(run))

	_, err := os.Stat(filepath.Join(fs.Root(), GateRunsDir, "run-0001.json"))
	assert.NoError(t, err)
}

func TestMainWorktreeFallback(t *testing.T) {
	mainPlane := filepath.Join(t.TempDir(), ".jit")
	main := NewFileStore(mainPlane)
	require.NoError(t, main.Init())

	issue := types.NewIssue("shared")
	require.NoError(t, main.SaveIssue(issue))

	secondary := NewFileStore(filepath.Join(t.TempDir(), ".jit"), WithMainWorktreeFallback(mainPlane))
	require.NoError(t, secondary.Init())

	loaded, err := secondary.LoadIssue(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", loaded.Title)

	// Writers never write through the fallback.
	loaded.Title = "edited locally"
	require.NoError(t, secondary.SaveIssue(loaded))

	fromMain, err := main.LoadIssue(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", fromMain.Title)
}
