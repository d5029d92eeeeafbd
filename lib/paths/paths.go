// Package paths centralizes the on-disk layout of a flake pilot registry (C4).
//
// Layout:
//
//	/etc/flakes.yml                         -- global config, system-wide
//	~/.config/flakes.yml                    -- global config, per-user
//	{flakes_dir}/{program}.yaml             -- per-program master config
//	{flakes_dir}/{program}.d/*.yaml         -- per-program config fragments
//	{podman_ids_dir}/{identity}.cid         -- container instance ID file
//	{firecracker_ids_dir}/{identity}.vmid   -- VM instance ID file
//	{overlay_dir}/{identity}.ext2           -- VM overlay image
//	/run/sci_cmd_{identity}.sock            -- guest-bridge proxy socket
//	{registry_runroot}/{user}/              -- per-user engine runroot
package paths

import (
	"os"
	"path/filepath"
)

// Registry computes on-disk paths for a flake pilot deployment. All fields
// are resolved once at construction time; nothing here reads configuration
// lazily.
type Registry struct {
	FlakesDir            string
	PodmanIDsDir         string
	FirecrackerIDsDir    string
	FirecrackerOverlayDir string
	RegistryRunroot      string
}

// ConfigFile returns the master YAML config path for a program.
func (r Registry) ConfigFile(program string) string {
	return filepath.Join(r.FlakesDir, program+".yaml")
}

// ConfigFragmentDir returns the directory of sibling YAML fragments for a program.
func (r Registry) ConfigFragmentDir(program string) string {
	return filepath.Join(r.FlakesDir, program+".d")
}

// ContainerIDFile returns the .cid file path for an instance identity.
func (r Registry) ContainerIDFile(identity string) string {
	return filepath.Join(r.PodmanIDsDir, identity+".cid")
}

// VMIDFile returns the .vmid file path for an instance identity.
func (r Registry) VMIDFile(identity string) string {
	return filepath.Join(r.FirecrackerIDsDir, identity+".vmid")
}

// VMOverlayImage returns the ext2 overlay image path for an instance identity.
func (r Registry) VMOverlayImage(identity string) string {
	return filepath.Join(r.FirecrackerOverlayDir, identity+".ext2")
}

// GuestBridgeSocket returns the vsock proxy socket path for an instance identity.
func (r Registry) GuestBridgeSocket(identity string) string {
	return filepath.Join("/run", "sci_cmd_"+identity+".sock")
}

// UserRunroot returns the per-user engine runroot directory.
func (r Registry) UserRunroot(user string) string {
	return filepath.Join(r.RegistryRunroot, user)
}

// EnsureDir creates dir with mode 0777 if it does not already exist, matching
// the registry's world-writable-by-design directories (spec §4.4); a missing
// parent is an error, not created recursively.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.Mkdir(dir, 0o777)
}
