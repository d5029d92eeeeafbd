package provision

import (
	"context"

	"github.com/flakepilot/pilot/internal/elevate"
	"github.com/flakepilot/pilot/lib/logger"
)

// ContainerOptions parameterizes RunContainer: the container engine's own
// storage already provides the merged overlay view (spec §4.6 step 2 "use
// the container engine's own storage"), so there is no local overlayfs to
// assemble — only delta-layer rsync, host-dependency sync, and includes
// run against the already-mounted MergedRoot.
type ContainerOptions struct {
	User       elevate.User
	MergedRoot string

	Layers  []Layer
	Include pilotIncludeSection

	CheckHostDependencies bool
	IgnoreSyncError       bool
}

// RunContainer implements spec §4.6 steps 4-7 for the container engine,
// grounded in podman-pilot/src/podman.rs::run_podman_creation: the instance
// is already mounted by the caller (via `podman mount`), so this only
// layers deltas over it, syncs host dependencies, and applies includes.
func RunContainer(ctx context.Context, opts ContainerOptions) error {
	log := logger.FromContext(ctx)
	removed := newRemovedAccumulator()

	if opts.CheckHostDependencies {
		if err := syncSystemHostDependencies(ctx, opts.User, opts.MergedRoot, opts.IgnoreSyncError); err != nil {
			return err
		}
	}
	if err := removed.collectFrom(opts.MergedRoot); err != nil {
		log.WarnContext(ctx, "provision", "msg", "reading instance removed-file list", "err", err)
	}

	for _, layer := range opts.Layers {
		mounted, unmount, err := layer.Mount(ctx)
		if err != nil {
			return err
		}
		if err := removed.collectFrom(mounted); err != nil {
			log.WarnContext(ctx, "provision", "msg", "reading layer removed-file list", "layer", layer.Name, "err", err)
		}
		syncErr := rsync(ctx, opts.User, mounted+"/", opts.MergedRoot+"/", nil)
		unmountErr := unmount(ctx)
		if syncErr != nil {
			return wrapSyncError(syncErr, opts.IgnoreSyncError)
		}
		if unmountErr != nil {
			return unmountErr
		}
	}

	if len(removed.paths) > 0 {
		if err := syncRemovedFiles(ctx, opts.User, removed.paths, opts.MergedRoot); err != nil {
			return wrapSyncError(err, opts.IgnoreSyncError)
		}
	}

	if err := applyIncludes(ctx, opts.User, opts.MergedRoot, opts.Include); err != nil {
		return wrapSyncError(err, opts.IgnoreSyncError)
	}
	return nil
}
