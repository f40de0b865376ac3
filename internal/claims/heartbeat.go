package claims

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erankavija/jit/internal/atomicfile"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/types"
)

// HeartbeatRecord is the last-liveness document kept per agent under the
// control plane, for display and staleness triage.
type HeartbeatRecord struct {
	SchemaVersion int       `json:"schema_version"`
	AgentID       string    `json:"agent_id"`
	WorktreeID    string    `json:"worktree_id,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// RecordHeartbeat writes the per-agent heartbeat file.
func (c *Coordinator) RecordHeartbeat(actor types.Actor) error {
	rec := HeartbeatRecord{
		SchemaVersion: types.ClaimsSchemaVersion,
		AgentID:       actor.AgentID,
		WorktreeID:    actor.WorktreeID,
		LastSeenAt:    c.now().UTC(),
	}
	return atomicfile.WriteJSON(c.heartbeatPath(actor.AgentID), &rec)
}

// LoadHeartbeat reads an agent's heartbeat record, nil when absent.
func (c *Coordinator) LoadHeartbeat(agentID string) (*HeartbeatRecord, error) {
	data, err := os.ReadFile(c.heartbeatPath(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read heartbeat for %s", agentID)
	}
	var rec HeartbeatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse heartbeat for %s", agentID)
	}
	return &rec, nil
}

// heartbeatPath maps an agent ID to its heartbeat file, replacing the
// identity separator with a filename-safe one.
func (c *Coordinator) heartbeatPath(agentID string) string {
	name := strings.ReplaceAll(agentID, ":", "_") + ".json"
	return filepath.Join(c.root, HeartbeatDir, name)
}
