package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/erankavija/jit/internal/executor"
	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/logging"
)

var (
	// Global flags
	flagAgent   string
	flagVerbose bool
	flagJSON    bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jit",
	Short: "Repository-local work coordination for agents and humans",
	Long: `jit coordinates inter-dependent units of work across concurrent
agents without a server or database: issues with a dependency DAG, quality
gates bound to lifecycle transitions, and race-free claims backed by
append-only logs under your repository.

Core commands:
  init    Create the .jit data plane in this worktree
  issue   Create, inspect, and advance issues
  dep     Manage dependency edges
  gate    Define gates and drive per-issue gate status
  claim   Acquire, renew, release, and inspect leases
  query   Find available, blocked, or filtered issues
  doctor  Run recovery checks and report repairs`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, mapping structured errors to exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(jiterr.CategoryOf(err).ExitCode())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "Acting identity (<type>:<identifier>)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit JSON output")
}

// getExecutor bootstraps the facade from the working directory.
func getExecutor() (*executor.Executor, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return executor.Bootstrap(cwd, logger())
}

func logger() zerolog.Logger {
	return logging.New(logging.Options{Verbose: flagVerbose, JSON: flagJSON})
}

// printError renders a structured error with its context fields.
func printError(err error) {
	var e *jiterr.Error
	if flagJSON && errors.As(err, &e) {
		out := map[string]any{"kind": e.Kind, "message": e.Message}
		if len(e.Context) > 0 {
			out["context"] = e.Context
		}
		data, jerr := json.Marshal(out)
		if jerr == nil {
			fmt.Fprintln(os.Stderr, string(data))
			return
		}
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// emit prints v as JSON when --json is set, otherwise via the fallback.
func emit(v any, fallback func()) error {
	if flagJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fallback()
	return nil
}
