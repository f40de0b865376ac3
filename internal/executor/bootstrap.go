package executor

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/config"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/paths"
	"github.com/erankavija/jit/internal/store"
)

// EventsFile is the data-plane event log name.
const EventsFile = "events.jsonl"

// controlEventsRel is the control-plane event log path under the control
// root.
var controlEventsRel = filepath.Join("events", "control.jsonl")

// Bootstrap assembles a fully wired Executor from the on-disk repository at
// cwd. The data plane must already exist (see Init).
func Bootstrap(cwd string, logger zerolog.Logger) (*Executor, error) {
	p, err := paths.Resolve(cwd)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p.DataPlane); os.IsNotExist(err) {
		return nil, jiterr.New(jiterr.KindNotFound,
			"no JIT repository at %s; run jit init", p.WorktreeRoot)
	}
	return bootstrapAt(p, logger)
}

// Init creates the data plane (and worktree identity) at cwd, then returns
// the wired Executor.
func Init(cwd string, logger zerolog.Logger) (*Executor, error) {
	p, err := paths.Resolve(cwd)
	if err != nil {
		return nil, err
	}
	fs := store.NewFileStore(p.DataPlane)
	if err := fs.Init(); err != nil {
		return nil, err
	}
	return bootstrapAt(p, logger)
}

func bootstrapAt(p *paths.Paths, logger zerolog.Logger) (*Executor, error) {
	cfg, err := config.Load(p.DataPlane)
	if err != nil {
		return nil, err
	}
	user, err := config.LoadUser()
	if err != nil {
		return nil, err
	}
	wt, err := paths.LoadOrCreateIdentity(p)
	if err != nil {
		return nil, err
	}

	timeout := config.LockTimeout(config.LockTimeoutDefault)

	opts := []store.Option{store.WithLockTimeout(timeout)}
	if p.IsSecondaryWorktree && cfg.Worktree.Mode != config.WorktreeOff {
		opts = append(opts,
			store.WithHistoryFallback(p.WorktreeRoot),
			store.WithMainWorktreeFallback(filepath.Join(filepath.Dir(p.CommonDir), paths.DataPlaneDirName)),
		)
	}
	fs := store.NewFileStore(p.DataPlane, opts...)
	coordinator := claims.New(p.ControlPlane, claims.Limits{
		DefaultTTL:            cfg.DefaultTTL(),
		StaleThreshold:        cfg.StaleThreshold(),
		MaxIndefinitePerAgent: cfg.Coordination.MaxIndefiniteLeasesPerAgent,
		MaxIndefinitePerRepo:  cfg.Coordination.MaxIndefiniteLeasesPerRepo,
	}, timeout, logger)

	events := eventlog.Open(filepath.Join(p.DataPlane, EventsFile), timeout)

	return New(Options{
		Store:       fs,
		Claims:      coordinator,
		Events:      events,
		Config:      cfg,
		User:        user,
		Worktree:    wt,
		ControlRoot: p.ControlPlane,
		LockTimeout: timeout,
		Logger:      logger,
	}), nil
}

// ControlEventsLog opens the control-plane event log for a control root.
func ControlEventsLog(controlRoot string) *eventlog.Log {
	return eventlog.Open(filepath.Join(controlRoot, controlEventsRel), config.LockTimeoutDefault)
}
