// Package procrun implements the subprocess runner (C2): run a prepared
// command, capture stdout/stderr/status, and raise a structured error that
// carries the argv for diagnostics. Grounded in common/src/command.rs
// (CommandExtTrait::perform / handle_output).
package procrun

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/lib/logger"
)

// Result is the captured output of a successful run.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Run executes cmd and collects its output. On spawn failure it returns a
// *flakeerrors.CommandError wrapping ErrSpawnFailure; on non-zero exit it
// returns one wrapping ErrNonZeroExit, with the full captured output and
// argv attached. Callers that tolerate non-zero exit must use Status
// instead.
func Run(ctx context.Context, cmd *exec.Cmd) (Result, error) {
	log := logger.FromContext(ctx)
	argv := append([]string{cmd.Path}, cmd.Args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.DebugContext(ctx, "exec", "argv", argv)
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{}, flakeerrors.NewExitError(argv, exitErr.ExitCode(), stdout.Bytes(), stderr.Bytes())
		}
		return Result{}, flakeerrors.NewSpawnError(argv, err)
	}
	return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// Status runs cmd and collects output the same way Run does, but does not
// treat a non-zero exit as an error — it is reported via the returned exit
// code instead. Spawn failure is still an error. This is the "lower-level
// status() variant" spec §4.2 requires for callers that accept non-zero
// exits (e.g. liveness probes).
func Status(ctx context.Context, cmd *exec.Cmd) (code int, res Result, err error) {
	log := logger.FromContext(ctx)
	argv := append([]string{cmd.Path}, cmd.Args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.DebugContext(ctx, "exec", "argv", argv, "mode", "status")
	runErr := cmd.Run()
	res = Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if runErr == nil {
		return 0, res, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), res, nil
	}
	return -1, res, flakeerrors.NewSpawnError(argv, runErr)
}
