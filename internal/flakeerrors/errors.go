// Package flakeerrors defines the sentinel error kinds exposed to pilot
// callers (spec §7), following the sentinel-error idiom used throughout the
// teacher's lib/instances/errors.go and wrapping the original Rust's
// argv-carrying CommandError (common/src/command.rs).
package flakeerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailure means the child process could not be launched at all.
	ErrSpawnFailure = errors.New("unable to launch subprocess")
	// ErrNonZeroExit means the child ran but exited non-zero.
	ErrNonZeroExit = errors.New("subprocess exited non-zero")
	// ErrIOError wraps a filesystem or config read/write failure.
	ErrIOError = errors.New("io error")
	// ErrAlreadyRunning means an ID file is present and the mode forbids reuse.
	ErrAlreadyRunning = errors.New("instance in use by another instance, consider @NAME argument")
	// ErrMaxTriesExceeded means handshake polling was exhausted.
	ErrMaxTriesExceeded = errors.New("max retries for vm connection check exceeded")
	// ErrUnknownCommand means resume was configured with an entrypoint-only target.
	ErrUnknownCommand = errors.New("resume requires an explicit target_app_path, not the image entrypoint")
	// ErrSyncFailed means rsync reported an incomplete transfer.
	ErrSyncFailed = errors.New("sync failed")
)

// CommandError is the structured error raised by the subprocess runner
// (C2). It always carries the argv of the failed invocation so the caller
// can report useful diagnostics, per spec §9 "error carrying argv".
type CommandError struct {
	Argv     []string
	Err      error
	ExitCode int // valid only when Err wraps ErrNonZeroExit
	Stdout   []byte
	Stderr   []byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%q: %v", e.Argv, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewSpawnError wraps an os/exec launch failure.
func NewSpawnError(argv []string, err error) *CommandError {
	return &CommandError{Argv: argv, Err: fmt.Errorf("%w: %v", ErrSpawnFailure, err)}
}

// NewExitError wraps a non-zero exit, carrying captured output for diagnostics.
func NewExitError(argv []string, code int, stdout, stderr []byte) *CommandError {
	return &CommandError{
		Argv:     argv,
		Err:      fmt.Errorf("%w: exit status %d", ErrNonZeroExit, code),
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// IOErrorf wraps a filesystem or config error with a "what + where" message.
func IOErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIOError}, args...)...)
}
