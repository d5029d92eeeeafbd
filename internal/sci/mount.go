package sci

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MountBasicFS mounts /proc, /sys, /dev and /dev/pts under root, skipping any
// that are already mounted (sci/main.rs::mount_basic_fs checks /proc/mounts
// first; we instead tolerate EBUSY, which the kernel returns for an already
// active same-source mount).
func MountBasicFS(root string) error {
	type spec struct {
		source, target, fstype string
		flags                  uintptr
	}
	specs := []spec{
		{"proc", "proc", "proc", 0},
		{"sysfs", "sys", "sysfs", 0},
		{"devtmpfs", "dev", "devtmpfs", 0},
		{"devpts", "dev/pts", "devpts", 0},
	}
	for _, s := range specs {
		target := filepath.Join(root, s.target)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", target, err)
		}
		if err := unix.Mount(s.source, target, s.fstype, s.flags, ""); err != nil {
			if err == unix.EBUSY {
				continue
			}
			return fmt.Errorf("mount %s on %s: %w", s.fstype, target, err)
		}
	}
	return nil
}

// overlayDirs are created under the overlay mount point prior to assembling
// the overlayfs, following sci/main.rs's rootfs/rootfs_upper/rootfs_work
// naming under /overlayroot.
const (
	overlayMountPoint = "/overlayroot"
	overlayLower      = "/"
	overlayMerged     = overlayMountPoint + "/rootfs"
	overlayUpper      = overlayMountPoint + "/rootfs_upper"
	overlayWork       = overlayMountPoint + "/rootfs_work"
)

// SetupOverlay mounts the already-formatted ext2 overlay block device as the
// carrier of the new root's upper layer, returning the merged root path ready for switch/pivot. device
// is the kernel cmdline's overlay_root= value, e.g. "/dev/vdb".
func SetupOverlay(device string) (string, error) {
	if err := tryModprobe("overlay"); err != nil {
		// overlay may already be built in; proceed regardless.
		_ = err
	}

	if err := os.MkdirAll(overlayMountPoint, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", overlayMountPoint, err)
	}
	if err := unix.Mount(device, overlayMountPoint, "ext2", 0, ""); err != nil {
		return "", fmt.Errorf("mount overlay device %s: %w", device, err)
	}

	for _, d := range []string{overlayMerged, overlayUpper, overlayWork} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", d, err)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", overlayLower, overlayUpper, overlayWork)
	if err := unix.Mount("overlay", overlayMerged, "overlay", 0, opts); err != nil {
		return "", fmt.Errorf("mount overlayfs at %s: %w", overlayMerged, err)
	}
	return overlayMerged, nil
}

// MoveRunIntoNewRoot relocates /run into the new root before switch/pivot, so
// sockets and runtime state created before this point survive the root
// change. Falls back to a fresh tmpfs if the bind/move mount fails (e.g. /run
// wasn't its own mount in the initramfs), matching sci/main.rs::move_mounts.
func MoveRunIntoNewRoot(newRoot string) error {
	target := filepath.Join(newRoot, "run")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", target, err)
	}
	if err := unix.Mount("/run", target, "", unix.MS_MOVE, ""); err == nil {
		return nil
	}
	return unix.Mount("tmpfs", target, "tmpfs", 0, "")
}

// SwitchRoot replaces the current root filesystem with newRoot using
// pivot_root, then chdirs into it and lazily detaches the old root. Unlike
// switch_root(8) it does not unlink the old root's contents, since the
// initramfs here is tmpfs-backed and simply becomes unreachable once
// detached.
func SwitchRoot(newRoot string) error {
	if err := unix.Mount(newRoot, newRoot, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind-mount %s onto itself: %w", newRoot, err)
	}
	oldRoot := filepath.Join(newRoot, ".old_root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", oldRoot, err)
	}
	if err := unix.PivotRoot(newRoot, oldRoot); err != nil {
		return fmt.Errorf("pivot_root %s %s: %w", newRoot, oldRoot, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	_ = unix.Unmount("/.old_root", unix.MNT_DETACH)
	return nil
}

func tryModprobe(module string) error {
	if _, err := os.Stat("/sbin/modprobe"); err != nil {
		return err
	}
	cmd := exec.Command("/sbin/modprobe", module)
	return cmd.Run()
}
