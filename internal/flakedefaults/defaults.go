// Package flakedefaults carries the compiled-in constants of the flake pilot
// system: paths and tunables that apply when neither the global nor the
// per-program configuration overrides them.
package flakedefaults

import "time"

const (
	// FlakesConfig is the system-wide global configuration path.
	FlakesConfig = "/etc/flakes.yml"
	// FlakesDir is the default root for per-program configuration.
	FlakesDir = "/usr/share/flakes"
	// PodmanIDsDir is the default directory for container .cid files.
	PodmanIDsDir = "/tmp/flakes"
	// FirecrackerIDsDir is the default directory for VM .vmid files.
	FirecrackerIDsDir = "/tmp/flakes"
	// FlakesStorage is the storage configuration override path.
	FlakesStorage = "/etc/flakes/storage.conf"
	// FlakesRegistry is the default registry storage root.
	FlakesRegistry = "/usr/share/flakes/storage"
	// FlakesRegistryRunroot is the per-user engine runroot base.
	FlakesRegistryRunroot = "/run/flakes"

	// HostDependencies is the well-known file name listing files the guest
	// image requires copied in from the host.
	HostDependencies = "removed"
	// SystemHostDependencies is a script whose stdout lists the same.
	SystemHostDependencies = "systemfiles"
	// SystemHostDependenciesLibs is the library-specific counterpart.
	SystemHostDependenciesLibs = "systemfiles.libs"

	// PodmanPath is the default podman binary location.
	PodmanPath = "/usr/bin/podman"

	// FirecrackerBinary is the default firecracker monitor binary name.
	FirecrackerBinary = "firecracker"
	// ImageRoot is the provisioning mount-tree subpath for the mounted lower image.
	ImageRoot = "image"
	// ImageOverlay is the provisioning mount-tree subpath for the overlay carrier.
	ImageOverlay = "overlayroot"
	// OverlayRoot is the merged overlay view, relative to the mount tree.
	OverlayRoot = "overlayroot/rootfs"
	// OverlayUpper is the overlay upper directory, relative to the mount tree.
	OverlayUpper = "overlayroot/rootfs_upper"
	// OverlayWork is the overlay work directory, relative to the mount tree.
	OverlayWork = "overlayroot/rootfs_work"

	// FirecrackerOverlayDir is the default directory for VM overlay images.
	FirecrackerOverlayDir = "/var/lib/firecracker/storage"
	// FirecrackerTemplate is the default path to the VM JSON config template.
	FirecrackerTemplate = "/etc/flakes/firecracker.json"
	// FirecrackerVsockPrefix prefixes the per-instance vsock proxy socket name.
	FirecrackerVsockPrefix = "/run/sci_cmd_"
	// FirecrackerVsockPortStart is the base port added to the pid to pick a
	// per-command listener port when %port:N is not given.
	FirecrackerVsockPortStart = 49200

	// GCThreshold is the ID-file count above which opportunistic GC runs.
	GCThreshold = 20

	// VMCID is the guest's vsock context ID.
	VMCID = 3
	// VMPort is the guest vsock listener port served by the guest init.
	VMPort = 52
	// HostCID is the host's vsock context ID, dialed back by the guest for
	// per-command data channels.
	HostCID = 2

	// Retries is the default handshake poll attempt count.
	Retries = 60
	// VMWaitTimeout is the interval between handshake poll attempts.
	VMWaitTimeout = time.Second
)
