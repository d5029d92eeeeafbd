package sci

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/flakepilot/pilot/lib/logger"
)

// SystemInitPath is the well-known systemd binary path that, when it is the
// requested command, causes the guest init to replace itself (exec) rather
// than spawn-and-wait, mirroring sci/main.rs's `args[0] ==
// "/usr/lib/systemd/systemd"` check.
const SystemInitPath = "/usr/lib/systemd/systemd"

// Boot runs the full guest-init sequence for one VM boot (spec §4.8,
// grounded in sci/main.rs's main()): parse the kernel cmdline, mount the
// basic filesystems, optionally assemble and switch into an overlay root
// backed by the overlay_root= block device, then either serve the vsock command loop (resume mode) or execute
// the one-shot command directly and reboot.
func Boot(ctx context.Context) {
	log := logger.FromContext(ctx)

	cmdline, err := ParseCmdline()
	if err != nil {
		log.ErrorContext(ctx, "init", "msg", "failed to read /proc/cmdline", "err", err)
		Reboot(false, false)
		return
	}

	if err := MountBasicFS("/"); err != nil {
		log.ErrorContext(ctx, "init", "msg", "failed to mount basic filesystems", "err", err)
	}

	ok := true
	if cmdline.OverlayRoot != "" {
		ok = setupOverlayRoot(ctx, cmdline)
	}

	if !ok {
		Reboot(false, cmdline.Debug)
		return
	}

	switch cmdline.Run {
	case "":
		log.ErrorContext(ctx, "init", "msg", "no run= cmdline parameter")
		Reboot(false, cmdline.Debug)
	case "vsock":
		if err := tryModprobe("vhost_vsock"); err != nil {
			log.WarnContext(ctx, "init", "msg", "loading vhost transport failed", "err", err)
		}
		if err := ServeVsock(ctx); err != nil {
			log.ErrorContext(ctx, "init", "msg", "vsock server exited", "err", err)
		}
		Reboot(false, cmdline.Debug)
	default:
		ok := runOneShot(ctx, ShellSplit(cmdline.Run))
		Reboot(ok, cmdline.Debug)
	}
}

// setupOverlayRoot mounts the overlay device, assembles the overlayfs, moves
// /run into it, and switches into the new root, per sci/main.rs's
// overlay_root= branch.
func setupOverlayRoot(ctx context.Context, cmdline Cmdline) bool {
	log := logger.FromContext(ctx)

	merged, err := SetupOverlay(cmdline.OverlayRoot)
	if err != nil {
		log.ErrorContext(ctx, "init", "msg", "failed to set up overlay", "err", err)
		return false
	}
	if err := MoveRunIntoNewRoot(merged); err != nil {
		log.ErrorContext(ctx, "init", "msg", "failed to move /run into overlay", "err", err)
		return false
	}
	if err := SwitchRoot(merged); err != nil {
		log.ErrorContext(ctx, "init", "msg", "failed to switch into overlay root", "err", err)
		return false
	}
	// switch/pivot drops the old mounts; re-establish them inside the new root.
	if err := MountBasicFS("/"); err != nil {
		log.WarnContext(ctx, "init", "msg", "failed to re-mount basic filesystems after switch", "err", err)
	}
	return true
}

// runOneShot executes a single command directly (the non-vsock run= path),
// replacing the init process if it is the system init, else spawning and
// waiting, per sci/main.rs's do_exec branch.
func runOneShot(ctx context.Context, argv []string) bool {
	log := logger.FromContext(ctx)
	if len(argv) == 0 || argv[0] == "" {
		log.ErrorContext(ctx, "init", "msg", "no command to execute")
		return false
	}

	if filepath.Clean(argv[0]) == SystemInitPath {
		log.InfoContext(ctx, "init", "msg", "replacing process image", "argv", argv)
		if err := unix.Exec(argv[0], argv, os.Environ()); err != nil {
			log.ErrorContext(ctx, "init", "msg", "exec replace failed", "err", err)
			return false
		}
		return true // unreachable on success
	}

	log.InfoContext(ctx, "init", "msg", "running command", "argv", argv)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.WarnContext(ctx, "init", "msg", "command exited non-zero", "argv", argv, "err", err)
		return false
	}
	return true
}
