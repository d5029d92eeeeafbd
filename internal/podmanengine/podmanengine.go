// Package podmanengine specializes the instance lifecycle engine (C5) and
// the GC reaper (lifecycle.Reaper) for the container path, wiring
// internal/provision's delta/host-dependency pipeline onto podman's own
// storage driver. Grounded throughout in podman-pilot/src/podman.rs
// (create, run_podman_creation, start, call_instance, container_running,
// mount_container, sync_host).
package podmanengine

import (
	"context"
	"strings"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/internal/procrun"
	"github.com/flakepilot/pilot/internal/provision"
	"github.com/flakepilot/pilot/lib/logger"
)

// sleepForever is the entrypoint argument used to keep a resume container
// alive indefinitely, matching podman.rs::create's literal comment: "I will
// be dead by the time this sleep ends".
const sleepForever = "4294967295d"

// Engine implements lifecycle.Engine and lifecycle.Reaper for podman.
type Engine struct {
	Program   string
	Config    *flakeconfig.Program
	User      elevate.User
	Forwarded []string
	Silent    bool
}

// Probe reports whether cid names a running container, via
// podman.rs::container_running's `podman inspect --format {{.State.Running}}`.
func (e *Engine) Probe(ctx context.Context, cid string) bool {
	cmd := e.User.Command(ctx, "podman", "inspect", "--format", "{{.State.Running}}", cid)
	res, err := procrun.Run(ctx, cmd)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(res.Stdout)) == "true"
}

// SocketPath containers have no guest-bridge socket (lifecycle.Reaper).
func (e *Engine) SocketPath(identity string) string { return "" }

// RemoveOverlay containers have no VM overlay image (lifecycle.Engine).
func (e *Engine) RemoveOverlay(ctx context.Context) error { return nil }

func (e *Engine) targetPath() string {
	c := e.Config.Container
	if c.TargetAppPath == "" {
		return e.Program
	}
	return c.TargetAppPath
}

// Create runs `podman create`, provisions delta layers / host dependencies
// / includes if configured, then starts the container — blocking for a
// one-shot flake, or starting-then-exec'ing for a resume flake — returning
// the engine-assigned cid and the guest's exit code.
func (e *Engine) Create(ctx context.Context) (string, int, error) {
	log := logger.FromContext(ctx)
	c := e.Config.Container
	rt := c.RuntimeOrDefault()
	target := c.TargetAppPath
	if target == "" {
		target = "/"
	}
	if rt.Resume && target == "/" {
		return "", 1, flakeerrors.ErrUnknownCommand
	}

	args := []string{"create"}
	hasRuntimeArgs := len(rt.Podman) > 0
	for _, a := range flakeconfig.ExpandEnvRefs(rt.Podman) {
		args = append(args, strings.SplitN(a, " ", 2)...)
	}
	if !hasRuntimeArgs {
		if !rt.Resume {
			args = append(args, "--rm")
		}
		args = append(args, "--tty", "--interactive")
	}
	if target != "/" {
		if rt.Resume {
			args = append(args, "--entrypoint", "sleep")
		} else {
			args = append(args, "--entrypoint", target)
		}
	}

	imageName := c.BaseContainer
	if imageName == "" {
		imageName = c.Name
	}
	args = append(args, imageName)

	if rt.Resume {
		args = append(args, sleepForever)
	} else {
		args = append(args, e.Forwarded...)
	}

	log.DebugContext(ctx, "podman", "msg", "creating container", "args", args)
	res, err := procrun.Run(ctx, e.User.Command(ctx, "podman", args...))
	if err != nil {
		return "", 1, err
	}
	cid := strings.TrimSpace(string(res.Stdout))

	hasIncludes := len(e.Config.Include.Tar) > 0 || len(e.Config.Include.Path) > 0
	if c.IsDeltaContainer() || c.CheckHostDependencies || hasIncludes {
		if err := e.provision(ctx, cid); err != nil {
			_ = e.remove(ctx, cid)
			return "", 1, err
		}
	}

	code, err := e.startAfterCreate(ctx, cid, rt)
	return cid, code, err
}

// provision mounts the freshly-created container and runs the delta-layer
// and host-dependency pipeline against its own merged view, matching
// podman.rs::run_podman_creation's mount_container/sync_host/update_removed_files
// sequence.
func (e *Engine) provision(ctx context.Context, cid string) error {
	c := e.Config.Container
	merged, unmount, err := mountContainer(ctx, e.User, cid)
	if err != nil {
		return err
	}
	defer func() { _ = unmount(ctx) }()

	var layers []provision.Layer
	if c.IsDeltaContainer() {
		names := append(append([]string{}, c.Layers...), c.Name)
		for _, name := range names {
			name := name
			layers = append(layers, provision.Layer{
				Name: name,
				Mount: func(ctx context.Context) (string, func(context.Context) error, error) {
					return mountImage(ctx, e.User, name)
				},
			})
		}
	}

	return provision.RunContainer(ctx, provision.ContainerOptions{
		User:                  e.User,
		MergedRoot:            merged,
		Layers:                layers,
		Include:               provision.NewIncludeSection(e.Config.Include.Tar, e.Config.Include.Path),
		CheckHostDependencies: c.CheckHostDependencies,
	})
}

// mountContainer exposes the freshly-created instance container's merged
// filesystem as a host path via `podman mount`, returning an unmount closure
// (podman.rs::mount_container(as_image=false) / umount_container).
func mountContainer(ctx context.Context, user elevate.User, cid string) (string, func(context.Context) error, error) {
	res, err := procrun.Run(ctx, user.Command(ctx, "podman", "mount", cid))
	if err != nil {
		return "", nil, flakeerrors.IOErrorf("mounting container %s: %v", cid, err)
	}
	mountPoint := strings.TrimSpace(string(res.Stdout))
	unmount := func(ctx context.Context) error {
		_, err := procrun.Run(ctx, user.Command(ctx, "podman", "umount", cid))
		return err
	}
	return mountPoint, unmount, nil
}

// mountImage exposes a delta layer — an image, not a container — as a host
// path via `podman image mount`, returning an unmount closure. Delta layers
// are never instantiated as containers, so `podman mount` (which operates
// on containers) doesn't apply here; podman.rs::mount_container(as_image=true)
// issues `podman image mount`/`podman image umount` for exactly this reason.
func mountImage(ctx context.Context, user elevate.User, name string) (string, func(context.Context) error, error) {
	res, err := procrun.Run(ctx, user.Command(ctx, "podman", "image", "mount", name))
	if err != nil {
		return "", nil, flakeerrors.IOErrorf("mounting layer %s: %v", name, err)
	}
	mountPoint := strings.TrimSpace(string(res.Stdout))
	unmount := func(ctx context.Context) error {
		_, err := procrun.Run(ctx, user.Command(ctx, "podman", "image", "umount", name))
		return err
	}
	return mountPoint, unmount, nil
}

// startAfterCreate runs the just-created (not-yet-running) container,
// matching podman.rs::start's branches 3/4 (the "already running" branches
// 1/2 are handled by lifecycle.Run's resume/attach exec paths instead,
// since by construction Create only runs when no instance existed yet).
func (e *Engine) startAfterCreate(ctx context.Context, cid string, rt flakeconfig.ContainerRuntime) (int, error) {
	if rt.Resume {
		if _, err := procrun.Run(ctx, e.User.Command(ctx, "podman", "start", cid)); err != nil {
			return 1, err
		}
		return e.execTarget(ctx, cid)
	}
	code, _, err := procrun.Status(ctx, e.User.Command(ctx, "podman", "start", "--attach", "--interactive", cid))
	return code, err
}

// Exec runs the target command inside an already-running instance
// (lifecycle.ModeResume), matching podman.rs::call_instance's "exec" action.
func (e *Engine) Exec(ctx context.Context, cid string) (int, error) {
	return e.execTarget(ctx, cid)
}

func (e *Engine) execTarget(ctx context.Context, cid string) (int, error) {
	args := []string{"exec", "--tty", "--interactive", cid, e.targetPath()}
	args = append(args, e.Forwarded...)
	code, _, err := procrun.Status(ctx, e.User.Command(ctx, "podman", args...))
	return code, err
}

// Attach attaches stdio to an already-running instance (lifecycle.ModeAttach),
// matching podman.rs::call_instance's "attach" action.
func (e *Engine) Attach(ctx context.Context, cid string) (int, error) {
	code, _, err := procrun.Status(ctx, e.User.Command(ctx, "podman", "attach", cid))
	return code, err
}

func (e *Engine) remove(ctx context.Context, cid string) error {
	_, err := procrun.Run(ctx, e.User.Command(ctx, "podman", "rm", "-f", cid))
	return err
}
