// Package pilotmain carries the bootstrap logic shared by both launcher
// binaries (cmd/podman-pilot, cmd/firecracker-pilot): resolving the
// invoking program's basename, and mapping a lifecycle error back onto the
// process exit code (spec §6 "Exit code").
package pilotmain

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/flakepilot/pilot/internal/flakeerrors"
)

// ResolveProgramName resolves argv[0] through PATH and returns its
// basename, the configuration key used throughout spec §4.3. Falls back to
// the raw argv[0] basename if resolution fails (e.g. when argv[0] names no
// existing executable).
func ResolveProgramName(argv0 string) string {
	resolved, err := exec.LookPath(argv0)
	if err != nil {
		resolved = argv0
	}
	return filepath.Base(resolved)
}

// Finish maps a lifecycle.Run (code, err) pair onto the process's own exit
// code: a nil error just returns code; a *flakeerrors.CommandError wrapping
// ErrNonZeroExit forwards the engine's exit code truncated to one byte, per
// spec §6; everything else is an internal error, reported on stderr with a
// generic failure code.
func Finish(code int, err error) int {
	if err == nil {
		return code & 0xff
	}

	var cmdErr *flakeerrors.CommandError
	if errors.As(err, &cmdErr) && errors.Is(cmdErr.Err, flakeerrors.ErrNonZeroExit) {
		return cmdErr.ExitCode & 0xff
	}

	switch {
	case errors.Is(err, flakeerrors.ErrAlreadyRunning):
		fmt.Fprintf(os.Stderr, "error: %v (consider the @NAME argument)\n", err)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}
