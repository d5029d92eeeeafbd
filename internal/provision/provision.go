// Package provision implements the provisioning pipeline (C6): assemble a
// writable overlay over a base image, apply delta layers and include
// bundles in order, and sync named host files into the merged view. Runs
// only on the lifecycle engine's create path (spec §4.6).
//
// Grounded in podman-pilot/src/podman.rs (mount_container, sync_host,
// update_removed_files, gc helpers) and firecracker-pilot/src/firecracker.rs
// (mount_vm) for the two engines' lower/upper mount strategies, and in
// common/src/io.rs (IO::sync_data / sync_includes) for the rsync/tar
// wrapper idiom.
package provision

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gvisor.dev/gvisor/pkg/cleanup"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/internal/procrun"
	"github.com/flakepilot/pilot/lib/logger"
)

// Tree computes the subpaths of a provisioning mount tree (spec §3
// "Provisioning mount tree"): a scratch directory that exists only for the
// duration of one provisioning run and is always torn down, success or
// failure.
type Tree struct {
	Root string
}

func (t Tree) Image() string          { return filepath.Join(t.Root, flakedefaults.ImageRoot) }
func (t Tree) OverlayCarrier() string { return filepath.Join(t.Root, flakedefaults.ImageOverlay) }
func (t Tree) MergedRoot() string     { return filepath.Join(t.Root, flakedefaults.OverlayRoot) }
func (t Tree) Upper() string          { return filepath.Join(t.Root, flakedefaults.OverlayUpper) }
func (t Tree) Work() string           { return filepath.Join(t.Root, flakedefaults.OverlayWork) }

// Layer is one image to apply over the merged overlay: mount it, rsync its
// content in, record its "removed" list, then unmount. The main image is
// always the last Layer in the slice passed to Run (spec §4.6 step 6).
type Layer struct {
	Name  string
	Mount func(ctx context.Context) (mountedPath string, unmount func(context.Context) error, err error)
}

// Options parameterizes one provisioning run of Run, the VM path (the
// container path uses RunContainer and ContainerOptions instead).
// LowerMount and UpperCarrier are supplied by the caller as loopback
// mounts of the rootfs image and the overlay image.
type Options struct {
	Tree Tree
	User elevate.User

	// LowerMount mounts the provisioning base (the VM rootfs image) at
	// Tree.Image().
	LowerMount func(ctx context.Context) (unmount func(context.Context) error, err error)
	// UpperCarrier prepares the writable carrier for the overlay upper+work
	// dirs (the mounted ext2 overlay image).
	UpperCarrier func(ctx context.Context) (unmount func(context.Context) error, err error)

	Layers  []Layer
	Include pilotIncludeSection

	CheckHostDependencies bool
	IgnoreSyncError       bool
}

// pilotIncludeSection mirrors flakeconfig.IncludeSection without importing
// that package, keeping provision engine-and-config agnostic.
type pilotIncludeSection struct {
	Tar  []string
	Path []string
}

// NewIncludeSection builds the section provision.Options expects.
func NewIncludeSection(tar, path []string) pilotIncludeSection {
	return pilotIncludeSection{Tar: tar, Path: path}
}

// Run executes the 8-step pipeline of spec §4.6. On any failure, every
// mount acquired so far is released (in reverse order) before the error is
// returned; on success the same teardown still runs, since the mount tree
// is scratch space only — the true persisted state is the engine's own
// container storage or the VM's overlay image file, not this temp view.
func Run(ctx context.Context, opts Options) error {
	log := logger.FromContext(ctx)
	cu := cleanup.Make(func() {})
	defer cu.Clean()

	for _, dir := range []string{opts.Tree.Root, opts.Tree.Image(), opts.Tree.OverlayCarrier()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return flakeerrors.IOErrorf("creating provisioning dir %s: %v", dir, err)
		}
	}

	// Step 1: mount lower.
	unmountLower, err := opts.LowerMount(ctx)
	if err != nil {
		return flakeerrors.IOErrorf("mounting lower image: %v", err)
	}
	cu.Add(func() { _ = unmountLower(ctx) })

	// Step 2: mount upper carrier.
	unmountUpper, err := opts.UpperCarrier(ctx)
	if err != nil {
		return flakeerrors.IOErrorf("mounting overlay carrier: %v", err)
	}
	cu.Add(func() { _ = unmountUpper(ctx) })

	// Step 3: assemble overlay.
	for _, dir := range []string{opts.Tree.MergedRoot(), opts.Tree.Upper(), opts.Tree.Work()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return flakeerrors.IOErrorf("creating overlay dir %s: %v", dir, err)
		}
	}
	unmountOverlay, err := mountOverlay(ctx, opts.User, opts.Tree)
	if err != nil {
		return err
	}
	cu.Add(func() { _ = unmountOverlay(ctx) })

	removed := newRemovedAccumulator()

	// Steps 4-5: system host dependencies + removed-file list for the base.
	if opts.CheckHostDependencies {
		if err := syncSystemHostDependencies(ctx, opts.User, opts.Tree.MergedRoot(), opts.IgnoreSyncError); err != nil {
			return err
		}
	}
	if err := removed.collectFrom(opts.Tree.Image()); err != nil {
		log.WarnContext(ctx, "provision", "msg", "reading removed-file list", "err", err)
	}

	// Step 6: delta layers, in order, main image last.
	for _, layer := range opts.Layers {
		mounted, unmount, err := layer.Mount(ctx)
		if err != nil {
			return flakeerrors.IOErrorf("mounting layer %s: %v", layer.Name, err)
		}
		if err := removed.collectFrom(mounted); err != nil {
			log.WarnContext(ctx, "provision", "msg", "reading layer removed-file list", "layer", layer.Name, "err", err)
		}
		syncErr := rsync(ctx, opts.User, mounted+"/", opts.Tree.MergedRoot()+"/", nil)
		unmountErr := unmount(ctx)
		if syncErr != nil {
			return wrapSyncError(syncErr, opts.IgnoreSyncError)
		}
		if unmountErr != nil {
			return flakeerrors.IOErrorf("unmounting layer %s: %v", layer.Name, unmountErr)
		}
	}

	// Step 6 (cont'd): sync accumulated removed files once more.
	if len(removed.paths) > 0 {
		if err := syncRemovedFiles(ctx, opts.User, removed.paths, opts.Tree.MergedRoot()); err != nil {
			return wrapSyncError(err, opts.IgnoreSyncError)
		}
	}

	// Step 7: includes.
	if err := applyIncludes(ctx, opts.User, opts.Tree.MergedRoot(), opts.Include); err != nil {
		return wrapSyncError(err, opts.IgnoreSyncError)
	}

	// Step 8: unmount happens via cu.Clean() on return (success or failure).
	return nil
}

func wrapSyncError(err error, ignore bool) error {
	if ignore {
		return nil
	}
	return err
}

func mountOverlay(ctx context.Context, user elevate.User, tree Tree) (func(context.Context) error, error) {
	opts := "lowerdir=" + tree.Image() + ",upperdir=" + tree.Upper() + ",workdir=" + tree.Work()
	cmd := user.Command(ctx, "mount", "-t", "overlay", "-o", opts, "overlay", tree.MergedRoot())
	if _, err := procrun.Run(ctx, cmd); err != nil {
		return nil, flakeerrors.IOErrorf("mounting overlay at %s: %v", tree.MergedRoot(), err)
	}
	return func(ctx context.Context) error {
		cmd := user.Command(ctx, "umount", tree.MergedRoot())
		_, err := procrun.Run(ctx, cmd)
		return err
	}, nil
}

// syncSystemHostDependencies runs the guest's "systemfiles" script (if
// present) and rsyncs every path it lists, via --files-from, from host /
// into the merged overlay (spec §4.6 step 4).
func syncSystemHostDependencies(ctx context.Context, user elevate.User, merged string, ignoreSyncError bool) error {
	script, err := securejoin.SecureJoin(merged, flakedefaults.SystemHostDependencies)
	if err != nil {
		return flakeerrors.IOErrorf("resolving systemfiles path: %v", err)
	}
	if _, statErr := os.Stat(script); statErr != nil {
		return nil
	}

	cmd := user.Command(ctx, script)
	res, err := procrun.Run(ctx, cmd)
	if err != nil {
		if ignoreSyncError {
			return nil
		}
		return flakeerrors.IOErrorf("running systemfiles script: %v", err)
	}

	listFile, err := os.CreateTemp("", "flake-host-deps-*")
	if err != nil {
		return flakeerrors.IOErrorf("creating host-dependency list: %v", err)
	}
	defer os.Remove(listFile.Name())
	if _, err := listFile.Write(res.Stdout); err != nil {
		return flakeerrors.IOErrorf("writing host-dependency list: %v", err)
	}
	listFile.Close()

	return rsync(ctx, user, "/", merged+"/", []string{"--files-from=" + listFile.Name()})
}

// syncRemovedFiles rsyncs the accumulated "removed" list from host / into
// the merged overlay, tolerating missing source files (spec §4.6 step 5/6).
func syncRemovedFiles(ctx context.Context, user elevate.User, removed []string, merged string) error {
	listFile, err := os.CreateTemp("", "flake-removed-*")
	if err != nil {
		return flakeerrors.IOErrorf("creating removed-file list: %v", err)
	}
	defer os.Remove(listFile.Name())
	w := bufio.NewWriter(listFile)
	for _, p := range removed {
		w.WriteString(p)
		w.WriteByte('\n')
	}
	w.Flush()
	listFile.Close()

	return rsync(ctx, user, "/", merged+"/", []string{"--files-from=" + listFile.Name(), "--ignore-missing-args"})
}

// applyIncludes extracts each include.tar into the merged overlay, then
// rsyncs each include.path from host into the same relative location,
// creating intermediate directories (--mkpath), after layering so a tar can
// deliberately override a layer (spec §4.6 step 7).
func applyIncludes(ctx context.Context, user elevate.User, merged string, inc pilotIncludeSection) error {
	for _, tar := range inc.Tar {
		cmd := user.Command(ctx, "tar", "-C", merged, "-xf", tar)
		if _, err := procrun.Run(ctx, cmd); err != nil {
			return flakeerrors.IOErrorf("extracting include tar %s: %v", tar, err)
		}
	}
	for _, p := range inc.Path {
		dst, err := securejoin.SecureJoin(merged, p)
		if err != nil {
			return flakeerrors.IOErrorf("resolving include path %s: %v", p, err)
		}
		if err := rsync(ctx, user, p, dst, []string{"--mkpath"}); err != nil {
			return err
		}
	}
	return nil
}

// rsync runs "rsync -av [opts...] src dst" via the given elevation user,
// matching common/src/io.rs::IO::sync_data. A non-zero exit is
// ErrSyncFailed.
func rsync(ctx context.Context, user elevate.User, src, dst string, opts []string) error {
	args := append([]string{"-av"}, opts...)
	args = append(args, src, dst)
	cmd := user.Command(ctx, "rsync", args...)
	if _, err := procrun.Run(ctx, cmd); err != nil {
		return flakeerrors.IOErrorf("%w: %v", flakeerrors.ErrSyncFailed, err)
	}
	return nil
}

// removedAccumulator collects the union of every layer's "removed" list
// (spec's HostDependencies well-known file), in encounter order.
type removedAccumulator struct {
	paths []string
	seen  map[string]bool
}

func newRemovedAccumulator() *removedAccumulator {
	return &removedAccumulator{seen: make(map[string]bool)}
}

func (r *removedAccumulator) collectFrom(imageRoot string) error {
	listPath, err := securejoin.SecureJoin(imageRoot, flakedefaults.HostDependencies)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(listPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || r.seen[line] {
			continue
		}
		r.seen[line] = true
		r.paths = append(r.paths, line)
	}
	return nil
}
