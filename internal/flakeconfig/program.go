package flakeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gopkg.in/yaml.v3"

	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/lib/paths"
)

// IncludeSection lists the tarballs and host paths projected into the guest
// filesystem at provisioning time (spec §3 "include set").
type IncludeSection struct {
	Tar  []string `yaml:"tar,omitempty"`
	Path []string `yaml:"path,omitempty"`
}

// CacheType is the VM drive cache mode.
type CacheType string

const (
	CacheWriteback CacheType = "Writeback"
	CacheUnsafe    CacheType = "Unsafe"
)

// ContainerRuntime is the optional runtime section of a container flake.
type ContainerRuntime struct {
	Runas  string   `yaml:"runas,omitempty"`
	Resume bool     `yaml:"resume,omitempty"`
	Attach bool     `yaml:"attach,omitempty"`
	Podman []string `yaml:"podman,omitempty"`
}

// ContainerSection describes a podman-engine flake (spec's "container:" key).
type ContainerSection struct {
	Name                  string            `yaml:"name"`
	TargetAppPath         string            `yaml:"target_app_path,omitempty"`
	HostAppPath           string            `yaml:"host_app_path"`
	BaseContainer         string            `yaml:"base_container,omitempty"`
	CheckHostDependencies bool              `yaml:"check_host_dependencies,omitempty"`
	Layers                []string          `yaml:"layers,omitempty"`
	Runtime               *ContainerRuntime `yaml:"runtime,omitempty"`
}

// IsDeltaContainer reports whether this flake layers onto a base image.
func (c *ContainerSection) IsDeltaContainer() bool { return c.BaseContainer != "" }

// RuntimeOrDefault returns the runtime section, or its zero value.
func (c *ContainerSection) RuntimeOrDefault() ContainerRuntime {
	if c.Runtime == nil {
		return ContainerRuntime{}
	}
	return *c.Runtime
}

// EngineSection is the VM-only engine configuration (spec's VM-only section).
type EngineSection struct {
	OverlaySize     string    `yaml:"overlay_size,omitempty"`
	CacheType       CacheType `yaml:"cache_type,omitempty"`
	MemSizeMib      int64     `yaml:"mem_size_mib,omitempty"`
	VcpuCount       int64     `yaml:"vcpu_count,omitempty"`
	RootfsImagePath string    `yaml:"rootfs_image_path"`
	KernelImagePath string    `yaml:"kernel_image_path"`
	InitrdPath      string    `yaml:"initrd_path,omitempty"`
	BootArgs        []string  `yaml:"boot_args,omitempty"`
}

// EffectiveCacheType returns CacheType, defaulting to Writeback.
func (e EngineSection) EffectiveCacheType() CacheType {
	if e.CacheType == "" {
		return CacheWriteback
	}
	return e.CacheType
}

// VMRuntime is the mandatory-ish runtime section of a VM flake.
type VMRuntime struct {
	Runas       string        `yaml:"runas,omitempty"`
	Resume      bool          `yaml:"resume,omitempty"`
	Attach      bool          `yaml:"attach,omitempty"`
	ForceVsock  bool          `yaml:"force_vsock,omitempty"`
	Firecracker EngineSection `yaml:"firecracker"`
}

// VMSection describes a firecracker-engine flake (spec's "vm:" key).
type VMSection struct {
	Name          string     `yaml:"name"`
	TargetAppPath string     `yaml:"target_app_path,omitempty"`
	HostAppPath   string     `yaml:"host_app_path"`
	Runtime       *VMRuntime `yaml:"runtime,omitempty"`
}

func (v *VMSection) RuntimeOrDefault() VMRuntime {
	if v.Runtime == nil {
		return VMRuntime{}
	}
	return *v.Runtime
}

// Program is the fully parsed per-program configuration (spec §3, §4.3).
// Exactly one of Container/VM is populated, depending on which pilot binary
// loaded it.
type Program struct {
	Container *ContainerSection `yaml:"container,omitempty"`
	VM        *VMSection        `yaml:"vm,omitempty"`
	Include   IncludeSection    `yaml:"include,omitempty"`
}

// Validate checks the invariants from spec §3: name non-empty,
// target_app_path is "/" or absolute, and resume+entrypoint-only is invalid
// (ErrUnknownCommand, refused at config time per spec §7).
func (p *Program) Validate() error {
	switch {
	case p.Container != nil:
		c := p.Container
		if c.Name == "" {
			return flakeerrors.IOErrorf("container.name must not be empty")
		}
		if err := validateTargetPath(c.TargetAppPath); err != nil {
			return err
		}
		rt := c.RuntimeOrDefault()
		if rt.Resume && (c.TargetAppPath == "" || c.TargetAppPath == "/") {
			return fmt.Errorf("%w: container %q", flakeerrors.ErrUnknownCommand, c.Name)
		}
	case p.VM != nil:
		v := p.VM
		if v.Name == "" {
			return flakeerrors.IOErrorf("vm.name must not be empty")
		}
		if err := validateTargetPath(v.TargetAppPath); err != nil {
			return err
		}
		rt := v.RuntimeOrDefault()
		if rt.Resume && (v.TargetAppPath == "" || v.TargetAppPath == "/") {
			return fmt.Errorf("%w: vm %q", flakeerrors.ErrUnknownCommand, v.Name)
		}
	default:
		return flakeerrors.IOErrorf("configuration must declare exactly one of container: or vm:")
	}
	return nil
}

func validateTargetPath(p string) error {
	if p == "" || p == "/" || filepath.IsAbs(p) {
		return nil
	}
	return flakeerrors.IOErrorf("target_app_path %q must be \"/\" or absolute", p)
}

// Load reads <flakes_dir>/<program>.yaml plus every file in
// <flakes_dir>/<program>.d/ (sorted lexicographically), concatenates their
// raw text, and parses the result through the permissive-then-strict
// pipeline (mergeProgram below). Missing both the master file renders this
// a fatal configuration error, per spec §4.3.
func Load(reg paths.Registry, program string) (*Program, error) {
	masterPath := reg.ConfigFile(program)
	master, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, flakeerrors.IOErrorf("reading program config %s: %v", masterPath, err)
	}

	fragmentDir := reg.ConfigFragmentDir(program)
	fragments, err := sortedFragmentPaths(fragmentDir)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	full.Write(master)
	for _, f := range fragments {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, flakeerrors.IOErrorf("reading config fragment %s: %v", f, err)
		}
		full.WriteByte('\n')
		full.Write(data)
	}

	cfg, err := mergeProgram(full.String())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sortedFragmentPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, flakeerrors.IOErrorf("reading config fragment dir %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		p, err := securejoin.SecureJoin(dir, n)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

// mergeProgram implements the two-phase reparse described in spec §4.3:
// a permissive pass collapses duplicate top-level keys to their last
// occurrence, then the deduplicated document is re-emitted and parsed
// strictly into Program. This is what lets program.yaml and program.d/*.yaml
// fragments override master fields without the strict decoder choking on
// duplicate keys.
func mergeProgram(concatenated string) (*Program, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(concatenated), &doc); err != nil {
		return nil, flakeerrors.IOErrorf("parsing program config: %v", err)
	}
	if len(doc.Content) == 0 {
		return nil, flakeerrors.IOErrorf("program config is empty")
	}
	root := doc.Content[0]
	deduped := dedupeTopLevel(root)

	buf, err := yaml.Marshal(deduped)
	if err != nil {
		return nil, flakeerrors.IOErrorf("re-emitting program config: %v", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(buf)))
	dec.KnownFields(true)
	var cfg Program
	if err := dec.Decode(&cfg); err != nil {
		return nil, flakeerrors.IOErrorf("strict-parsing program config: %v", err)
	}
	return &cfg, nil
}

// dedupeTopLevel keeps only the last occurrence of each key in a top-level
// YAML mapping, preserving first-seen key ordering for a stable re-emit.
// Non-mapping documents are returned unchanged.
func dedupeTopLevel(n *yaml.Node) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return n
	}
	type pair struct{ key, value *yaml.Node }
	last := make(map[string]pair)
	var order []string
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		value := n.Content[i+1]
		if _, seen := last[key.Value]; !seen {
			order = append(order, key.Value)
		}
		last[key.Value] = pair{key, value}
	}
	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range order {
		p := last[name]
		merged.Content = append(merged.Content, p.key, p.value)
	}
	return merged
}
