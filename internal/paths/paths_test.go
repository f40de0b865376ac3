package paths

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	return dir
}

func TestResolveOutsideGit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	p, err := Resolve(dir)
	require.NoError(t, err)

	canon, err := Canonicalize(dir)
	require.NoError(t, err)

	assert.Equal(t, canon, p.WorktreeRoot)
	assert.Equal(t, filepath.Join(canon, DataPlaneDirName), p.DataPlane)
	// Outside git the control plane collapses onto the data plane.
	assert.Equal(t, p.DataPlane, p.ControlPlane)
	assert.Empty(t, p.CommonDir)
	assert.False(t, p.IsSecondaryWorktree)
}

func TestResolveInsideGit(t *testing.T) {
	dir := initGitRepo(t)

	p, err := Resolve(dir)
	require.NoError(t, err)

	canon, err := Canonicalize(dir)
	require.NoError(t, err)

	assert.Equal(t, canon, p.WorktreeRoot)
	assert.Equal(t, filepath.Join(canon, ".git"), p.CommonDir)
	assert.Equal(t, filepath.Join(canon, ".git", ControlPlaneDirName), p.ControlPlane)
	assert.Equal(t, filepath.Join(canon, DataPlaneDirName), p.DataPlane)
	assert.False(t, p.IsSecondaryWorktree)
}

func TestResolveDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(t.TempDir(), "jit-data")
	t.Setenv(EnvDataDir, override)
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	p, err := Resolve(dir)
	require.NoError(t, err)

	canon, err := Canonicalize(override)
	require.NoError(t, err)
	assert.Equal(t, canon, p.DataPlane)
}

func TestCanonicalizeNonexistentLeaf(t *testing.T) {
	dir := t.TempDir()
	canonDir, err := Canonicalize(dir)
	require.NoError(t, err)

	got, err := Canonicalize(filepath.Join(dir, "not", "yet", "created"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canonDir, "not", "yet", "created"), got)
}

func TestLoadOrCreateIdentity(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	p, err := Resolve(dir)
	require.NoError(t, err)

	id, err := LoadOrCreateIdentity(p)
	require.NoError(t, err)
	assert.Len(t, id.WorktreeID, 12)
	assert.Equal(t, p.WorktreeRoot, id.RootPath)
	assert.Nil(t, id.RelocatedAt)

	// Second load returns the same identity.
	again, err := LoadOrCreateIdentity(p)
	require.NoError(t, err)
	assert.Equal(t, id.WorktreeID, again.WorktreeID)
	assert.Equal(t, id.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestIdentityRelocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	p, err := Resolve(dir)
	require.NoError(t, err)

	id, err := LoadOrCreateIdentity(p)
	require.NoError(t, err)

	// Simulate a moved worktree: same data plane, different root.
	moved := *p
	moved.WorktreeRoot = filepath.Join(p.WorktreeRoot, "elsewhere")

	relocated, err := LoadOrCreateIdentity(&moved)
	require.NoError(t, err)
	assert.Equal(t, id.WorktreeID, relocated.WorktreeID, "identifier never changes")
	assert.Equal(t, moved.WorktreeRoot, relocated.RootPath)
	require.NotNil(t, relocated.RelocatedAt)
}

func TestIdentitySchemaVersionRefused(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	p, err := Resolve(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.DataPlane, 0o755))

	bad := `{"schema_version": 99, "worktree_id": "abc", "root_path": "/x", "created_at": "2025-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(p.DataPlane, WorktreeFile), []byte(bad), 0o644))

	_, err = LoadOrCreateIdentity(p)
	require.Error(t, err)
}

func TestNewWorktreeIDDeterministic(t *testing.T) {
	now := time.Now()
	a := NewWorktreeID("/repo", now)
	b := NewWorktreeID("/repo", now)
	c := NewWorktreeID("/repo", now.Add(time.Nanosecond))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}
