// Package recovery reconciles on-disk state after crashes: it removes stale
// temporary files, reclaims lock files whose owning process is gone,
// verifies the derived indexes against their logs, and reports sequence
// gaps. Safe to run repeatedly; it never modifies a log.
package recovery

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/erankavija/jit/internal/atomicfile"
	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/store"
)

const (
	// TempMinAge is the staleness floor below which in-flight temp files
	// are left alone: a live writer may still own them.
	TempMinAge = 15 * time.Minute

	// LockMaxAge is the age past which a lock file is reclaimed even when
	// its owner cannot be proven dead.
	LockMaxAge = time.Hour
)

// Report summarizes one recovery pass.
type Report struct {
	TempFilesRemoved  []string       `json:"temp_files_removed,omitempty"`
	LocksReclaimed    []string       `json:"locks_reclaimed,omitempty"`
	ClaimsRebuilt     bool           `json:"claims_index_rebuilt,omitempty"`
	IssueIndexRebuilt bool           `json:"issue_index_rebuilt,omitempty"`
	DataLogGaps       []eventlog.Gap `json:"data_log_gaps,omitempty"`
	ClaimsLogGaps     []eventlog.Gap `json:"claims_log_gaps,omitempty"`
}

// Clean reports whether the pass found nothing to repair. The issue index
// refresh is unconditional and does not count.
func (r *Report) Clean() bool {
	return len(r.TempFilesRemoved) == 0 && len(r.LocksReclaimed) == 0 &&
		!r.ClaimsRebuilt &&
		len(r.DataLogGaps) == 0 && len(r.ClaimsLogGaps) == 0
}

// Recoverer runs reconciliation over one repository's planes.
type Recoverer struct {
	dataPlane    string
	controlPlane string
	files        *store.FileStore
	coordinator  *claims.Coordinator
	dataEvents   *eventlog.Log
	log          zerolog.Logger

	// pidAlive is injectable for crash simulations.
	pidAlive func(int32) bool
}

// New constructs a recoverer.
func New(dataPlane, controlPlane string, files *store.FileStore, coordinator *claims.Coordinator, dataEvents *eventlog.Log, logger zerolog.Logger) *Recoverer {
	return &Recoverer{
		dataPlane:    dataPlane,
		controlPlane: controlPlane,
		files:        files,
		coordinator:  coordinator,
		dataEvents:   dataEvents,
		log:          logger,
		pidAlive:     pidExists,
	}
}

// Run executes one idempotent recovery pass.
func (r *Recoverer) Run() (*Report, error) {
	report := &Report{}

	for _, root := range dedupe(r.dataPlane, r.controlPlane) {
		removed, err := atomicfile.RemoveStaleTemps(root, TempMinAge)
		if err != nil {
			r.log.Warn().Err(err).Str("root", root).Msg("temp cleanup failed")
		}
		report.TempFilesRemoved = append(report.TempFilesRemoved, removed...)
	}

	reclaimed, err := r.reclaimDeadLocks()
	if err != nil {
		return nil, err
	}
	report.LocksReclaimed = reclaimed

	rebuilt, err := r.verifyClaimsIndex()
	if err != nil {
		return nil, err
	}
	report.ClaimsRebuilt = rebuilt

	if r.files != nil {
		if err := r.files.RebuildIndex(); err != nil {
			r.log.Warn().Err(err).Msg("issue index rebuild failed")
		} else {
			report.IssueIndexRebuilt = true
		}
	}

	if r.dataEvents != nil {
		gaps, err := r.dataEvents.Gaps()
		if err != nil {
			return nil, err
		}
		report.DataLogGaps = gaps
	}
	if r.coordinator != nil {
		gaps, err := r.coordinator.Log().Gaps()
		if err != nil {
			return nil, err
		}
		report.ClaimsLogGaps = gaps
	}

	return report, nil
}

// reclaimDeadLocks removes lock files whose metadata names a dead PID, or
// which exceed the maximum age.
func (r *Recoverer) reclaimDeadLocks() ([]string, error) {
	locksRoot := filepath.Join(r.controlPlane, claims.LocksDir)
	var reclaimed []string

	err := filepath.WalkDir(locksRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		if r.shouldReclaim(path, d) {
			if err := os.Remove(path); err == nil {
				_ = os.Remove(path + ".meta.json") //nolint:errcheck // sidecar cleanup best-effort
				reclaimed = append(reclaimed, path)
				r.log.Info().Str("lock", path).Msg("stale lock reclaimed")
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return reclaimed, err
}

func (r *Recoverer) shouldReclaim(path string, d os.DirEntry) bool {
	if meta, err := lockfile.ReadMeta(path); err == nil {
		if !r.pidAlive(int32(meta.PID)) {
			return true
		}
		return time.Since(meta.CreatedAt) > LockMaxAge
	}
	// No readable metadata: fall back to file age.
	info, err := d.Info()
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > LockMaxAge
}

// verifyClaimsIndex cross-checks the derived index and rebuilds from the
// log on any inconsistency: unreadable file, unknown schema, duplicate
// active leases for one issue, or an active lease already expired.
func (r *Recoverer) verifyClaimsIndex() (bool, error) {
	if r.coordinator == nil {
		return false, nil
	}
	if r.coordinator.VerifyIndex() {
		return false, nil
	}
	if err := r.coordinator.Rebuild(); err != nil {
		return false, err
	}
	return true, nil
}

func dedupe(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

func pidExists(pid int32) bool {
	alive, err := process.PidExists(pid)
	if err != nil {
		// Unable to prove death; keep the lock and let the age bound decide.
		return true
	}
	return alive
}
