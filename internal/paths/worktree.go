package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/erankavija/jit/internal/atomicfile"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

// WorktreeFile is the identity document inside the data plane.
const WorktreeFile = "worktree.json"

// worktreeIDLen is the short-digest length of a worktree identifier.
const worktreeIDLen = 12

// LoadOrCreateIdentity returns the worktree identity for the resolved paths,
// creating it on first use. A stored root that no longer equals the current
// canonical root means the worktree moved: the root is updated in place and
// relocated_at recorded; the identifier never changes.
func LoadOrCreateIdentity(p *Paths) (*types.WorktreeIdentity, error) {
	path := filepath.Join(p.DataPlane, WorktreeFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createIdentity(p, path)
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}

	var id types.WorktreeIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	if id.SchemaVersion != types.WorktreeSchemaVersion {
		return nil, jiterr.SchemaVersionMismatch(path, id.SchemaVersion, types.WorktreeSchemaVersion)
	}

	if id.RootPath != p.WorktreeRoot {
		now := time.Now().UTC()
		id.RootPath = p.WorktreeRoot
		id.RelocatedAt = &now
		id.Branch = p.Branch
		if err := atomicfile.WriteJSON(path, &id); err != nil {
			// Relocation bookkeeping is non-fatal.
			return &id, nil
		}
	}
	return &id, nil
}

func createIdentity(p *Paths, path string) (*types.WorktreeIdentity, error) {
	now := time.Now().UTC()
	id := &types.WorktreeIdentity{
		SchemaVersion: types.WorktreeSchemaVersion,
		WorktreeID:    NewWorktreeID(p.WorktreeRoot, now),
		Branch:        p.Branch,
		RootPath:      p.WorktreeRoot,
		CreatedAt:     now,
	}
	if err := atomicfile.WriteJSON(path, id); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "write %s", path)
	}
	return id, nil
}

// NewWorktreeID derives a short digest over the initial canonical root and
// creation instant.
func NewWorktreeID(root string, created time.Time) string {
	h := sha256.New()
	h.Write([]byte(root))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", created.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:worktreeIDLen]
}
