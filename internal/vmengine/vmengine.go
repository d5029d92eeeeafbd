// Package vmengine specializes the instance lifecycle engine (C5) and the
// GC reaper (lifecycle.Reaper) for the microVM path, wiring
// internal/guestbridge (C7) and internal/provision onto the firecracker
// monitor. Grounded in firecracker-pilot/src/firecracker.rs (create,
// run_creation, start, call_instance, vm_running, mount_vm).
package vmengine

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/internal/guestbridge"
	"github.com/flakepilot/pilot/internal/pilotopts"
	"github.com/flakepilot/pilot/internal/procrun"
	"github.com/flakepilot/pilot/internal/provision"
	"github.com/flakepilot/pilot/lib/logger"
	"github.com/flakepilot/pilot/lib/paths"
)

// Engine implements lifecycle.Engine and lifecycle.Reaper for firecracker.
type Engine struct {
	Program   string
	Identity  string
	Config    *flakeconfig.Program
	Reg       paths.Registry
	User      elevate.User
	Forwarded []string
	PilotOpts pilotopts.Parsed
	Debug     bool
}

// Probe reports whether pidStr names a live firecracker process,
// matching firecracker.rs::vm_running's kill(pid, 0) check.
func (e *Engine) Probe(ctx context.Context, pidStr string) bool {
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false
	}
	return guestbridge.Probe(pid)
}

// SocketPath returns the guest-bridge proxy socket for this identity
// (lifecycle.Reaper).
func (e *Engine) SocketPath(identity string) string {
	return e.Reg.GuestBridgeSocket(identity)
}

// RemoveOverlay deletes this identity's VM overlay image. The lifecycle
// engine only calls this when resumeConfigured is false (spec §4.5 /
// §9's second Open Question: resume VMs keep their overlay even across a
// dead-instance reap, since it holds user state).
func (e *Engine) RemoveOverlay(ctx context.Context) error {
	err := os.Remove(e.Reg.VMOverlayImage(e.Identity))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (e *Engine) targetPath() string {
	v := e.Config.VM
	if v.TargetAppPath == "" {
		return e.Program
	}
	return v.TargetAppPath
}

// Create sets up the overlay image (if configured), provisions includes
// into it, renders and launches the VM, and — for the vsock path — performs
// the handshake and runs the target command, returning the engine-assigned
// pid and the guest's exit code. Grounded in firecracker.rs::run_creation
// and ::start's branches 2/3 (branch 1, "already running", cannot occur
// here since Create only runs when no instance existed).
func (e *Engine) Create(ctx context.Context) (string, int, error) {
	log := logger.FromContext(ctx)
	v := e.Config.VM
	rt := v.RuntimeOrDefault()
	eng := rt.Firecracker
	if rt.Resume && (v.TargetAppPath == "" || v.TargetAppPath == "/") {
		return "", 1, flakeerrors.ErrUnknownCommand
	}

	overlayImage := e.Reg.VMOverlayImage(e.Identity)
	if eng.OverlaySize != "" {
		if err := e.ensureOverlayImage(ctx, overlayImage, eng.OverlaySize, rt.Resume); err != nil {
			return "", 1, err
		}
		if err := e.provisionIncludes(ctx, eng, overlayImage); err != nil {
			return "", 1, err
		}
	}

	tmpl, err := guestbridge.LoadTemplate(flakedefaults.FirecrackerTemplate)
	if err != nil {
		return "", 1, err
	}
	useVsock := rt.Resume || rt.ForceVsock
	cfg := guestbridge.BuildConfig(tmpl, guestbridge.TemplateOptions{
		Identity:      e.Identity,
		EngineSection: eng,
		TargetCmdline: append([]string{e.targetPath()}, e.Forwarded...),
		Resume:        rt.Resume,
		ForceVsock:    rt.ForceVsock,
		Debug:         e.Debug,
	}, overlayImage)

	cfgFile, err := os.CreateTemp("", "flake-vm-config-*.json")
	if err != nil {
		return "", 1, flakeerrors.IOErrorf("creating vm config temp file: %v", err)
	}
	defer os.Remove(cfgFile.Name())
	if err := json.NewEncoder(cfgFile).Encode(cfg); err != nil {
		cfgFile.Close()
		return "", 1, flakeerrors.IOErrorf("encoding vm config: %v", err)
	}
	cfgFile.Close()

	if !useVsock {
		log.InfoContext(ctx, "firecracker", "msg", "starting VM in blocking mode")
		return e.launchBlocking(ctx, cfgFile.Name())
	}

	proc, err := guestbridge.Launch(ctx, e.User, flakedefaults.FirecrackerBinary, cfgFile.Name(), "")
	if err != nil {
		return "", 1, err
	}
	pid := strconv.Itoa(proc.Pid)

	sock := e.Reg.GuestBridgeSocket(e.Identity)
	if err := waitForHandshake(ctx, sock); err != nil {
		return pid, 1, err
	}
	code, err := e.runCommand(ctx, sock, proc.Pid)
	return pid, code, err
}

// launchBlocking runs firecracker in the foreground (no vsock bridge — the
// VM's own console carries stdio), forwarding its exit code as the guest's,
// matching firecracker.rs::call_instance(is_blocking=true).
func (e *Engine) launchBlocking(ctx context.Context, configPath string) (string, int, error) {
	cmd := e.User.Command(ctx, flakedefaults.FirecrackerBinary, "--no-api", "--config-file", configPath)
	code, _, err := procrun.Status(ctx, cmd)
	pid := ""
	if cmd.Process != nil {
		pid = strconv.Itoa(cmd.Process.Pid)
	}
	return pid, code, err
}

// ensureOverlayImage creates and formats a sparse ext2 image of the
// configured size, unless this is a resume VM whose overlay already exists
// (spec §3 "Overlay image": resume overlays are never auto-recreated since
// they hold user state), matching firecracker.rs::run_creation's
// seek-then-write-last-byte + mkfs.ext2 sequence.
func (e *Engine) ensureOverlayImage(ctx context.Context, path, sizeSpec string, resume bool) error {
	if resume {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(sizeSpec)); err != nil {
		return flakeerrors.IOErrorf("parsing overlay_size %q: %v", sizeSpec, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return flakeerrors.IOErrorf("creating overlay image %s: %v", path, err)
	}
	if _, err := f.Seek(int64(size.Bytes())-1, io.SeekStart); err != nil {
		f.Close()
		return flakeerrors.IOErrorf("sizing overlay image %s: %v", path, err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		f.Close()
		return flakeerrors.IOErrorf("sizing overlay image %s: %v", path, err)
	}
	f.Close()

	if _, err := procrun.Run(ctx, e.User.Command(ctx, "mkfs.ext2", "-F", path)); err != nil {
		return err
	}
	return nil
}

// provisionIncludes loop-mounts the rootfs image and the overlay device
// under a scratch tree and applies include.tar/include.path into the
// merged view, matching firecracker.rs::run_creation's mount_vm +
// IO::sync_includes + umount_vm sequence. Runs only when there is
// something to include — an overlay-less VM or one with no includes skips
// provisioning entirely, as in the original.
func (e *Engine) provisionIncludes(ctx context.Context, eng flakeconfig.EngineSection, overlayImage string) error {
	inc := e.Config.Include
	if len(inc.Tar) == 0 && len(inc.Path) == 0 {
		return nil
	}

	tmpRoot, err := os.MkdirTemp("", "flake-vm-provision-*")
	if err != nil {
		return flakeerrors.IOErrorf("creating provisioning scratch dir: %v", err)
	}
	defer os.RemoveAll(tmpRoot)

	tree := provision.Tree{Root: tmpRoot}
	opts := provision.Options{
		Tree: tree,
		User: e.User,
		LowerMount: func(ctx context.Context) (func(context.Context) error, error) {
			return mountLoop(ctx, e.User, eng.RootfsImagePath, tree.Image())
		},
		UpperCarrier: func(ctx context.Context) (func(context.Context) error, error) {
			return mountLoop(ctx, e.User, overlayImage, tree.OverlayCarrier())
		},
		Include:         provision.NewIncludeSection(inc.Tar, inc.Path),
		IgnoreSyncError: e.PilotOpts.Has(pilotopts.OptIgnoreSyncError),
	}
	return provision.Run(ctx, opts)
}

func mountLoop(ctx context.Context, user elevate.User, imagePath, target string) (func(context.Context) error, error) {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, flakeerrors.IOErrorf("mkdir %s: %v", target, err)
	}
	if _, err := procrun.Run(ctx, user.Command(ctx, "mount", "-o", "loop", imagePath, target)); err != nil {
		return nil, flakeerrors.IOErrorf("loop-mounting %s at %s: %v", imagePath, target, err)
	}
	return func(ctx context.Context) error {
		_, err := procrun.Run(ctx, user.Command(ctx, "umount", target))
		return err
	}, nil
}

// waitForHandshake polls for the guest-bridge socket and CONNECT/OK
// handshake within the shared retry budget, matching
// firecracker.rs::check_connected (the original folds "socket appeared" and
// "handshake answered OK" into one retry loop rather than two).
func waitForHandshake(ctx context.Context, sockPath string) error {
	for i := 0; i < flakedefaults.Retries; i++ {
		if conn, err := guestbridge.Handshake(sockPath, flakedefaults.VMPort); err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(flakedefaults.VMWaitTimeout):
		}
	}
	return flakeerrors.ErrMaxTriesExceeded
}

// runCommand drives one full guest-bridge command exchange (lifecycle's
// "already running" resume/attach paths call this too, via Exec/Attach
// below), matching firecracker.rs::execute_command_at_instance. The vsock
// protocol carries no explicit exit-status message (spec §6 "Guest wire
// protocol"), so success is reported as 0 and any transport failure as 1.
func (e *Engine) runCommand(ctx context.Context, sockPath string, pid int) (int, error) {
	argv := append([]string{e.targetPath()}, e.Forwarded...)
	port := guestbridge.ExecPort(e.PilotOpts, pid)
	if err := guestbridge.ExecuteCommand(ctx, sockPath, argv, pid, port); err != nil {
		return 1, err
	}
	return 0, nil
}

// Exec runs the target command inside an already-running VM
// (lifecycle.ModeResume), matching firecracker.rs::start's branch 1.
func (e *Engine) Exec(ctx context.Context, pidStr string) (int, error) {
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 1, flakeerrors.IOErrorf("parsing vm pid %q: %v", pidStr, err)
	}
	sock := e.Reg.GuestBridgeSocket(e.Identity)
	if err := waitForHandshake(ctx, sock); err != nil {
		return 1, err
	}
	return e.runCommand(ctx, sock, pid)
}

// Attach attaches stdio to an already-running VM (lifecycle.ModeAttach).
// The guest bridge has no separate attach primitive distinct from running a
// command; an interactive shell is simply the target command run attached
// to the caller's stdio, which runCommand already does via PumpStdio.
func (e *Engine) Attach(ctx context.Context, pidStr string) (int, error) {
	return e.Exec(ctx, pidStr)
}
