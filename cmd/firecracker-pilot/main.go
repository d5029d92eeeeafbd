// Command firecracker-pilot is the microVM launcher binary (C1-C7): resolve
// a flake's configuration from its own basename, decide create/resume/attach
// via the lifecycle engine, provision the VM's overlay image and includes,
// launch firecracker, and — for resume/force_vsock flakes — perform the
// guest-bridge handshake and forward the caller's command over vsock.
// Grounded in firecracker-pilot/src/{main,firecracker,config}.rs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/internal/identity"
	"github.com/flakepilot/pilot/internal/lifecycle"
	"github.com/flakepilot/pilot/internal/pilotmain"
	"github.com/flakepilot/pilot/internal/pilotopts"
	"github.com/flakepilot/pilot/internal/vmengine"
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
		fmt.Fprintf(os.Stderr, "firecracker-pilot: %v\n", err)
		return 1
	}
	reg := global.Registry()

	cfg, err := flakeconfig.Load(reg, program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "firecracker-pilot: %v\n", err)
		return 1
	}
	if cfg.VM == nil {
		fmt.Fprintf(os.Stderr, "firecracker-pilot: %s.yaml does not declare a vm: section\n", program)
		return 1
	}

	current, err := user.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "firecracker-pilot: %v\n", err)
		return 1
	}

	opts := pilotopts.Parse(os.Args[1:])
	inst := identity.New(program, opts.Tag, current.Username)

	if err := paths.EnsureDir(reg.FirecrackerIDsDir); err != nil {
		fmt.Fprintf(os.Stderr, "firecracker-pilot: %v\n", err)
		return 1
	}
	if err := paths.EnsureDir(reg.FirecrackerOverlayDir); err != nil {
		log.WarnContext(ctx, "config", "msg", "failed to create overlay storage dir", "err", err)
	}

	rt := cfg.VM.RuntimeOrDefault()
	runAs := elevate.Root
	if rt.Runas != "" {
		runAs = elevate.User{Name: rt.Runas}
	}

	eng := &vmengine.Engine{
		Program:   program,
		Identity:  inst.String(),
		Config:    cfg,
		Reg:       reg,
		User:      runAs,
		Forwarded: opts.Forwarded,
		PilotOpts: opts,
		Debug:     os.Getenv("PILOT_DEBUG") == "1",
	}

	idFilePath := reg.VMIDFile(inst.String())

	if err := lifecycle.MaybeGC(ctx, filepath.Dir(idFilePath), ".vmid", eng); err != nil {
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
