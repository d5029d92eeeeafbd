// Package lifecycle implements the instance lifecycle engine (C5): the
// create/resume/attach/GC decision tree that is identical in shape for both
// the container and VM pilots (spec §4.5), parameterized by an Engine that
// supplies the engine-specific probe/create/exec/attach operations.
// Grounded in podman-pilot/src/podman.rs::{create,start,call_instance} and
// firecracker-pilot/src/firecracker.rs::{create,start,call_instance}.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/lib/logger"
)

// Mode selects what happens when the ID file exists and the engine reports
// the instance alive.
type Mode int

const (
	// ModeOneShot fails with ErrAlreadyRunning when an instance is alive.
	ModeOneShot Mode = iota
	// ModeResume execs the target command inside the running instance.
	ModeResume
	// ModeAttach attaches stdio to the running instance.
	ModeAttach
)

// Engine supplies the operations the lifecycle decision tree needs. One
// implementation exists per engine kind (podman, firecracker); neither
// Engine nor Run know anything about containers or VMs specifically.
type Engine interface {
	// Probe reports whether the instance named by idValue is still alive.
	Probe(ctx context.Context, idValue string) bool
	// Create provisions and launches a brand-new instance, returning the
	// engine-assigned ID and the exit code of the command run as part of
	// the launch (for resume instances, the first command run inside it).
	Create(ctx context.Context) (idValue string, exitCode int, err error)
	// Exec runs the target command inside an already-running instance
	// (ModeResume).
	Exec(ctx context.Context, idValue string) (exitCode int, err error)
	// Attach attaches stdio to an already-running instance (ModeAttach).
	Attach(ctx context.Context, idValue string) (exitCode int, err error)
	// RemoveOverlay deletes any VM overlay image owned by this identity.
	// A no-op for the container engine.
	RemoveOverlay(ctx context.Context) error
}

// Run executes the decision tree of spec §4.5 for one invocation.
func Run(ctx context.Context, idFilePath string, mode Mode, resumeConfigured bool, eng Engine) (int, error) {
	log := logger.FromContext(ctx)

	raw, err := os.ReadFile(idFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return create(ctx, idFilePath, eng)
	case err != nil:
		return 1, flakeerrors.IOErrorf("reading id file %s: %v", idFilePath, err)
	}

	idValue := strings.TrimSpace(string(raw))
	if idValue == "0" {
		// Another invocation's create is mid-flight: the gate is the ID
		// file's prior existence, so this invocation loses the race.
		return 1, flakeerrors.ErrAlreadyRunning
	}

	if eng.Probe(ctx, idValue) {
		switch mode {
		case ModeResume:
			return eng.Exec(ctx, idValue)
		case ModeAttach:
			return eng.Attach(ctx, idValue)
		default:
			return 1, flakeerrors.ErrAlreadyRunning
		}
	}

	log.InfoContext(ctx, "lifecycle", "msg", "reaping dead instance", "id", idValue)
	if err := os.Remove(idFilePath); err != nil && !os.IsNotExist(err) {
		return 1, flakeerrors.IOErrorf("removing stale id file %s: %v", idFilePath, err)
	}
	if !resumeConfigured {
		if err := eng.RemoveOverlay(ctx); err != nil {
			log.WarnContext(ctx, "lifecycle", "msg", "failed to remove overlay of dead instance", "err", err)
		}
	}
	return create(ctx, idFilePath, eng)
}

// create writes the "0" gate, runs Engine.Create, and overwrites the ID
// file with the real ID on success. On failure the partial ID file is
// removed, so a subsequent invocation sees ID-file-absent again.
func create(ctx context.Context, idFilePath string, eng Engine) (int, error) {
	if err := os.WriteFile(idFilePath, []byte("0"), 0o644); err != nil {
		return 1, flakeerrors.IOErrorf("writing id file %s: %v", idFilePath, err)
	}

	idValue, exitCode, err := eng.Create(ctx)
	if err != nil {
		_ = os.Remove(idFilePath)
		return 1, err
	}

	if err := os.WriteFile(idFilePath, []byte(idValue), 0o644); err != nil {
		return exitCode, flakeerrors.IOErrorf("writing id file %s: %v", idFilePath, err)
	}
	return exitCode, nil
}
