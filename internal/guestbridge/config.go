// Package guestbridge implements the host side of the guest bridge (C7):
// building the VM monitor's JSON configuration, launching it, performing the
// vsock handshake, and shuttling one command's stdio through a per-command
// unix-domain socket. Grounded in firecracker-pilot/src/firecracker.rs
// (FireCrackerConfig, create_firecracker_config, check_connected,
// send_command_to_instance, stream_listener/stream_io).
package guestbridge

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/internal/pilotopts"
)

// VMConfig mirrors the VM monitor's JSON configuration file (spec §6 "VM
// JSON template"). Field names follow the monitor's on-disk schema, not Go
// convention, hence the explicit json tags throughout.
type VMConfig struct {
	BootSource        BootSource          `json:"boot-source"`
	Drives            []Drive             `json:"drives"`
	NetworkInterfaces []NetworkInterface  `json:"network-interfaces"`
	MachineConfig     MachineConfig       `json:"machine-config"`
	Vsock             Vsock               `json:"vsock"`
}

type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	InitrdPath      string `json:"initrd_path,omitempty"`
	BootArgs        string `json:"boot_args"`
}

type Drive struct {
	DriveID       string `json:"drive_id"`
	PathOnHost    string `json:"path_on_host"`
	IsRootDevice  bool   `json:"is_root_device"`
	IsReadOnly    bool   `json:"is_read_only"`
	CacheType     string `json:"cache_type"`
}

type NetworkInterface struct {
	IfaceID    string `json:"iface_id"`
	GuestMAC   string `json:"guest_mac"`
	HostDevName string `json:"host_dev_name"`
}

type MachineConfig struct {
	VcpuCount  int64 `json:"vcpu_count"`
	MemSizeMib int64 `json:"mem_size_mib"`
}

type Vsock struct {
	GuestCID uint32 `json:"guest_cid"`
	UDSPath  string `json:"uds_path"`
}

// TemplateOptions parameterizes BuildConfig. Debug enables PILOT_DEBUG=1 in
// the boot args and keeps any console= boot arg intact even in vsock mode
// (spec §4.7).
type TemplateOptions struct {
	Identity      string
	EngineSection flakeconfig.EngineSection
	TargetCmdline []string // the guest-side argv, passed through without %VAR substitution
	Resume        bool
	ForceVsock    bool
	Debug         bool
}

// LoadTemplate reads the VM monitor's JSON config template from disk.
func LoadTemplate(path string) (VMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VMConfig{}, flakeerrors.IOErrorf("reading vm config template %s: %v", path, err)
	}
	var cfg VMConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return VMConfig{}, flakeerrors.IOErrorf("parsing vm config template %s: %v", path, err)
	}
	return cfg, nil
}

// BuildConfig fills in a loaded template with this instance's settings,
// following create_firecracker_config's field-by-field assignment.
func BuildConfig(tmpl VMConfig, opts TemplateOptions, overlayImage string) VMConfig {
	cfg := tmpl

	cfg.BootSource.KernelImagePath = opts.EngineSection.KernelImagePath
	if opts.EngineSection.InitrdPath != "" {
		cfg.BootSource.InitrdPath = opts.EngineSection.InitrdPath
	}

	useVsock := opts.Resume || opts.ForceVsock
	hasOverlay := opts.EngineSection.OverlaySize != ""

	var extra []string
	if opts.Debug {
		extra = append(extra, "PILOT_DEBUG=1")
	}
	if hasOverlay {
		extra = append(extra, "overlay_root=/dev/vdb")
	}
	for _, boot := range flakeconfig.ExpandEnvRefs(opts.EngineSection.BootArgs) {
		if useVsock && !opts.Debug && strings.HasPrefix(boot, "console=") {
			// In resume/force_vsock mode stdio is carried over the vsock
			// proxy, so no serial console is attached (spec §4.7) — unless
			// debug wants it for visibility.
			extra = append(extra, "console=")
		} else {
			extra = append(extra, boot)
		}
	}
	if cfg.BootSource.BootArgs != "" {
		cfg.BootSource.BootArgs += " "
	}
	cfg.BootSource.BootArgs += strings.Join(extra, " ")

	if useVsock {
		cfg.BootSource.BootArgs += " run=vsock"
	} else {
		cfg.BootSource.BootArgs += ` run="` + pilotopts.Parsed{Forwarded: opts.TargetCmdline}.KernelCmdline() + `"`
	}

	if len(cfg.Drives) > 0 {
		cfg.Drives[0].PathOnHost = opts.EngineSection.RootfsImagePath
	}
	if hasOverlay {
		cfg.Drives = append(cfg.Drives, Drive{
			DriveID:      "overlay",
			PathOnHost:   overlayImage,
			IsRootDevice: false,
			IsReadOnly:   false,
			CacheType:    string(opts.EngineSection.EffectiveCacheType()),
		})
	}

	if len(cfg.NetworkInterfaces) > 0 {
		cfg.NetworkInterfaces[0].HostDevName = "tap-" + opts.Identity
	}

	cfg.Vsock.GuestCID = flakedefaults.VMCID
	cfg.Vsock.UDSPath = flakedefaults.FirecrackerVsockPrefix + opts.Identity + ".sock"

	if opts.EngineSection.MemSizeMib != 0 {
		cfg.MachineConfig.MemSizeMib = opts.EngineSection.MemSizeMib
	}
	if opts.EngineSection.VcpuCount != 0 {
		cfg.MachineConfig.VcpuCount = opts.EngineSection.VcpuCount
	}
	return cfg
}

// ExecPort picks the per-command listener port: VSOCK_PORT_START + pid, or
// the explicit %port:N override (spec §4.7, original's get_exec_port).
func ExecPort(pilotOpts pilotopts.Parsed, pid int) uint32 {
	if v, ok := pilotOpts.Options["%port"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return flakedefaults.FirecrackerVsockPortStart + uint32(pid)
}
