package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/claims"
	"github.com/erankavija/jit/internal/config"
	"github.com/erankavija/jit/internal/eventlog"
	"github.com/erankavija/jit/internal/executor"
	"github.com/erankavija/jit/internal/paths"
	"github.com/erankavija/jit/internal/recovery"
	"github.com/erankavija/jit/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run recovery checks and report repairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		rec, err := buildRecoverer(cwd)
		if err != nil {
			return err
		}
		report, err := rec.Run()
		if err != nil {
			return err
		}
		return emit(report, func() { printReport(report) })
	},
}

// buildRecoverer assembles the recovery inputs the same way Bootstrap does.
func buildRecoverer(cwd string) (*recovery.Recoverer, error) {
	p, err := paths.Resolve(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(p.DataPlane)
	if err != nil {
		return nil, err
	}
	log := logger()
	timeout := config.LockTimeout(config.LockTimeoutDefault)

	files := store.NewFileStore(p.DataPlane)
	coordinator := claims.New(p.ControlPlane, claims.Limits{
		DefaultTTL:            cfg.DefaultTTL(),
		StaleThreshold:        cfg.StaleThreshold(),
		MaxIndefinitePerAgent: cfg.Coordination.MaxIndefiniteLeasesPerAgent,
		MaxIndefinitePerRepo:  cfg.Coordination.MaxIndefiniteLeasesPerRepo,
	}, timeout, log)
	events := eventlog.Open(filepath.Join(p.DataPlane, executor.EventsFile), timeout)

	return recovery.New(p.DataPlane, p.ControlPlane, files, coordinator, events, log), nil
}

func printReport(report *recovery.Report) {
	if report.Clean() {
		fmt.Println("repository is consistent")
	}
	for _, path := range report.TempFilesRemoved {
		fmt.Printf("removed stale temp file %s\n", path)
	}
	for _, path := range report.LocksReclaimed {
		fmt.Printf("reclaimed stale lock %s\n", path)
	}
	if report.ClaimsRebuilt {
		fmt.Println("claims index rebuilt from log")
	}
	for _, gap := range report.DataLogGaps {
		fmt.Printf("data event log: missing sequences %d-%d\n", gap.From, gap.To)
	}
	for _, gap := range report.ClaimsLogGaps {
		fmt.Printf("claims log: missing sequences %d-%d\n", gap.From, gap.To)
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
