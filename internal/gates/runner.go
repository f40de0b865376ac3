package gates

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erankavija/jit/internal/types"
)

const (
	// excerptLimit bounds captured stdout/stderr per stream.
	excerptLimit = 4 * 1024

	// defaultCheckerTimeout applies when a checker declares none.
	defaultCheckerTimeout = 60 * time.Second

	// ReasonTimeout distinguishes a timeout failure from an exit failure.
	ReasonTimeout = "timeout"

	// ReasonSkipped marks runs whose checker variant this build cannot
	// execute.
	ReasonSkipped = "skipped"
)

// Outcome is the result of executing one checker.
type Outcome struct {
	// Status is passed, failed, or required (unchanged) for skipped runs.
	Status types.GateStatus
	// Skipped is true when the checker variant was not recognized; the
	// gate status must not change.
	Skipped bool
	// Run is the appended execution record, nil for skipped runs.
	Run *types.GateRun
}

// Runner executes auto-gate checkers.
type Runner struct {
	log zerolog.Logger
}

// NewRunner returns a checker runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Check executes the definition's checker against an issue. Exit status
// zero means passed; non-zero means failed; exceeding the declared timeout
// means failed with a distinguished reason. Unrecognized checker variants
// return skipped and do not alter gate status.
func (r *Runner) Check(def *types.GateDef, issueID string) Outcome {
	if def.Checker == nil || def.Checker.Kind != types.CheckerKindExec || def.Checker.Exec == nil {
		r.log.Debug().Str("gate", def.Key).Str("issue", issueID).
			Str("kind", checkerKind(def)).Msg("unknown checker variant, skipping")
		return Outcome{Status: types.GateRequired, Skipped: true}
	}

	spec := def.Checker.Exec
	timeout := defaultCheckerTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	// Children of the killed shell can keep the output pipes open; stop
	// waiting for them shortly after the deadline.
	cmd.WaitDelay = time.Second
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now().UTC()
	runErr := cmd.Run()
	finished := time.Now().UTC()

	run := &types.GateRun{
		SchemaVersion: types.GatesSchemaVersion,
		ID:            newRunID(),
		GateKey:       def.Key,
		IssueID:       issueID,
		StartedAt:     started,
		FinishedAt:    finished,
		StdoutExcerpt: excerpt(stdout.Bytes()),
		StderrExcerpt: excerpt(stderr.Bytes()),
	}

	status := types.GatePassed
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		status = types.GateFailed
		run.Reason = ReasonTimeout
		run.ExitStatus = -1
	case runErr != nil:
		status = types.GateFailed
		if ee, ok := runErr.(*exec.ExitError); ok {
			run.ExitStatus = ee.ExitCode()
		} else {
			run.ExitStatus = -1
			run.Reason = runErr.Error()
		}
	}

	r.log.Debug().Str("gate", def.Key).Str("issue", issueID).
		Str("status", string(status)).Int("exit", run.ExitStatus).
		Dur("elapsed", finished.Sub(started)).Msg("checker finished")
	return Outcome{Status: status, Run: run}
}

func checkerKind(def *types.GateDef) string {
	if def.Checker == nil {
		return ""
	}
	return def.Checker.Kind
}

func excerpt(b []byte) string {
	if len(b) > excerptLimit {
		b = b[:excerptLimit]
	}
	return string(b)
}

// newRunID generates a sortable gate-run identifier.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
