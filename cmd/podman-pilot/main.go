// Command podman-pilot is the container launcher binary (C1-C6): resolve a
// flake's configuration from its own basename, decide create/resume/attach
// via the lifecycle engine, provision the container's overlay if it is a
// delta image, and forward the caller's arguments into it via podman.
// Grounded in podman-pilot/src/{main,podman,config}.rs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/internal/identity"
	"github.com/flakepilot/pilot/internal/lifecycle"
	"github.com/flakepilot/pilot/internal/pilotmain"
	"github.com/flakepilot/pilot/internal/pilotopts"
	"github.com/flakepilot/pilot/internal/podmanengine"
	"github.com/flakepilot/pilot/lib/logger"
	"github.com/flakepilot/pilot/lib/paths"
)

func main() {
	os.Exit(run())
}

func run() int {
	logCfg := logger.NewConfig()
	log := logger.NewSubsystemLogger(logger.SubsystemLifecycle, logCfg, nil)
	ctx := logger.AddToContext(context.Background(), log)

	program := pilotmain.ResolveProgramName(os.Args[0])

	global, err := flakeconfig.LoadGlobal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "podman-pilot: %v\n", err)
		return 1
	}
	reg := global.Registry()

	cfg, err := flakeconfig.Load(reg, program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "podman-pilot: %v\n", err)
		return 1
	}
	if cfg.Container == nil {
		fmt.Fprintf(os.Stderr, "podman-pilot: %s.yaml does not declare a container: section\n", program)
		return 1
	}

	current, err := user.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "podman-pilot: %v\n", err)
		return 1
	}

	opts := pilotopts.Parse(os.Args[1:])
	inst := identity.New(program, opts.Tag, current.Username)

	if err := paths.EnsureDir(flakedefaults.FlakesRegistry); err != nil {
		log.WarnContext(ctx, "config", "msg", "failed to create flakes registry dir", "err", err)
	}
	if err := paths.EnsureDir(reg.PodmanIDsDir); err != nil {
		fmt.Fprintf(os.Stderr, "podman-pilot: %v\n", err)
		return 1
	}
	if err := paths.EnsureDir(reg.UserRunroot(current.Username)); err != nil {
		log.WarnContext(ctx, "config", "msg", "failed to create per-user runroot", "err", err)
	}

	rt := cfg.Container.RuntimeOrDefault()
	runAs := elevate.Root
	if rt.Runas != "" {
		runAs = elevate.User{Name: rt.Runas}
	}

	eng := &podmanengine.Engine{
		Program:   program,
		Config:    cfg,
		User:      runAs,
		Forwarded: opts.Forwarded,
		Silent:    opts.Has(pilotopts.OptSilent),
	}

	idFilePath := reg.ContainerIDFile(inst.String())

	if err := lifecycle.MaybeGC(ctx, filepath.Dir(idFilePath), ".cid", eng); err != nil {
		log.WarnContext(ctx, "gc", "msg", "opportunistic gc pass failed", "err", err)
	}

	mode := lifecycle.ModeOneShot
	switch {
	case rt.Attach:
		mode = lifecycle.ModeAttach
	case rt.Resume:
		mode = lifecycle.ModeResume
	}

	code, err := lifecycle.Run(ctx, idFilePath, mode, rt.Resume, eng)
	return pilotmain.Finish(code, err)
}
