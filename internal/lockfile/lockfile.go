// Package lockfile implements cross-process advisory file locking with
// shared and exclusive modes, bounded timeouts, and release guaranteed on
// every exit path via Guard.
//
// Callers that take more than one lock must follow the canonical ordering:
//
//  1. the repository-wide claims coordination lock
//  2. the configuration/registry lock
//  3. per-issue locks in ascending issue-ID order
//  4. the local events-log lock, last and briefly
//
// Exclusive locks leave a metadata sidecar recording the owning PID and
// creation time so recovery can reclaim locks whose owner has died.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/erankavija/jit/internal/jiterr"
)

// DefaultTimeout bounds lock acquisition when the caller passes no positive
// timeout of its own (the CLI derives one from JIT_LOCK_TIMEOUT).
const DefaultTimeout = 5 * time.Second

// pollInterval is how often a blocked acquisition retries.
const pollInterval = 25 * time.Millisecond

// Meta is the sidecar record for an exclusive lock.
type Meta struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Guard is a held lock. Release is idempotent and safe to defer.
type Guard struct {
	path      string
	file      *os.File
	exclusive bool
	released  bool
}

// Path returns the lock file path.
func (g *Guard) Path() string { return g.path }

// Release unlocks and closes the lock file. The second and later calls are
// no-ops.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	if g.exclusive {
		_ = os.Remove(metaPath(g.path)) //nolint:errcheck // sidecar cleanup best-effort
	}
	_ = funlock(g.file)  //nolint:errcheck // unlock best-effort
	_ = g.file.Close()   //nolint:errcheck // close best-effort after unlock
}

// Exclusive acquires an exclusive lock on path, waiting up to timeout.
func Exclusive(path string, timeout time.Duration) (*Guard, error) {
	return acquire(path, true, timeout)
}

// Shared acquires a shared lock on path, waiting up to timeout.
func Shared(path string, timeout time.Duration) (*Guard, error) {
	return acquire(path, false, timeout)
}

// TryExclusive attempts an exclusive lock without blocking. A nil Guard with
// nil error means the lock is currently held elsewhere.
func TryExclusive(path string) (*Guard, error) {
	return tryAcquire(path, true)
}

// TryShared attempts a shared lock without blocking.
func TryShared(path string) (*Guard, error) {
	return tryAcquire(path, false)
}

// WithExclusive runs fn while holding the exclusive lock.
func WithExclusive(path string, timeout time.Duration, fn func() error) error {
	g, err := Exclusive(path, timeout)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// WithShared runs fn while holding the shared lock.
func WithShared(path string, timeout time.Duration, fn func() error) error {
	g, err := Shared(path, timeout)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

func acquire(path string, exclusive bool, timeout time.Duration) (*Guard, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		g, err := tryAcquire(path, exclusive)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return g, nil
		}
		if time.Now().After(deadline) {
			return nil, jiterr.LockTimeout(path, timeout)
		}
		time.Sleep(pollInterval)
	}
}

func tryAcquire(path string, exclusive bool) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "create lock directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "open lock file %s", path)
	}
	ok, err := flock(f, exclusive)
	if err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return nil, jiterr.Wrap(jiterr.KindIO, err, "lock %s", path)
	}
	if !ok {
		_ = f.Close() //nolint:errcheck // lock busy, retry later
		return nil, nil
	}
	g := &Guard{path: path, file: f, exclusive: exclusive}
	if exclusive {
		writeMeta(path)
	}
	return g, nil
}

// writeMeta records the owner for recovery. Failure to write the sidecar is
// not fatal: the lock itself is what serializes access.
func writeMeta(path string) {
	meta := Meta{PID: os.Getpid(), CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = os.WriteFile(metaPath(path), append(data, '\n'), 0o644) //nolint:errcheck // advisory sidecar
}

// ReadMeta loads the sidecar for a lock file, if present.
func ReadMeta(lockPath string) (*Meta, error) {
	data, err := os.ReadFile(metaPath(lockPath))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse lock metadata %s: %w", metaPath(lockPath), err)
	}
	return &m, nil
}

// MetaPath returns the sidecar path for a lock file.
func MetaPath(lockPath string) string { return metaPath(lockPath) }

func metaPath(lockPath string) string { return lockPath + ".meta.json" }

// ExclusiveAll acquires exclusive locks for the given issue lock paths in
// ascending path order, which for per-issue locks is ascending issue-ID
// order. On any failure every lock already held is released.
func ExclusiveAll(paths []string, timeout time.Duration) ([]*Guard, error) {
	ordered := append([]string(nil), paths...)
	sort.Strings(ordered)

	guards := make([]*Guard, 0, len(ordered))
	for _, p := range ordered {
		g, err := Exclusive(p, timeout)
		if err != nil {
			ReleaseAll(guards)
			return nil, err
		}
		guards = append(guards, g)
	}
	return guards, nil
}

// ReleaseAll releases guards in reverse acquisition order.
func ReleaseAll(guards []*Guard) {
	for i := len(guards) - 1; i >= 0; i-- {
		guards[i].Release()
	}
}
