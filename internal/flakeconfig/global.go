// Package flakeconfig implements the configuration loader (C3): the global
// flakes.yml lookup and the per-program YAML-plus-fragments pipeline.
// Grounded in common/src/config.rs (global) and podman-pilot/firecracker-pilot
// src/config.rs (per-program, permissive-then-strict reparse).
package flakeconfig

import (
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/lib/paths"
)

// Global mirrors common/src/config.rs's FlakesConfig.generic section. Unset
// fields fall back to flakedefaults at read time (via Registry below), not
// at parse time, so a half-populated flakes.yml is legal.
type Global struct {
	FlakesDir            string `yaml:"flakes_dir"`
	PodmanIDsDir         string `yaml:"podman_ids_dir"`
	FirecrackerIDsDir    string `yaml:"firecracker_ids_dir"`
}

type globalFile struct {
	Generic Global `yaml:"generic"`
}

// LoadGlobal reads the system-wide or per-user flakes.yml, matching
// read_flakes_config: root reads the compiled-in system path, anyone else
// reads ~/.config/flakes.yml. A missing file is not an error at this layer;
// it yields all-default Global, exactly as common/src/config.rs does.
func LoadGlobal() (Global, error) {
	path, err := globalConfigPath()
	if err != nil {
		return Global{}, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Global{}, nil
	}
	if err != nil {
		return Global{}, err
	}
	var file globalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Global{}, err
	}
	return file.Generic, nil
}

func globalConfigPath() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", err
	}
	if current.Username == "root" {
		return flakedefaults.FlakesConfig, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "flakes.yml"), nil
}

// Registry builds the on-disk path resolver (C4) from this global config,
// applying flakedefaults for anything left unset.
func (g Global) Registry() paths.Registry {
	r := paths.Registry{
		FlakesDir:             g.FlakesDir,
		PodmanIDsDir:          g.PodmanIDsDir,
		FirecrackerIDsDir:     g.FirecrackerIDsDir,
		FirecrackerOverlayDir: flakedefaults.FirecrackerOverlayDir,
		RegistryRunroot:       flakedefaults.FlakesRegistryRunroot,
	}
	if r.FlakesDir == "" {
		r.FlakesDir = flakedefaults.FlakesDir
	}
	if r.PodmanIDsDir == "" {
		r.PodmanIDsDir = flakedefaults.PodmanIDsDir
	}
	if r.FirecrackerIDsDir == "" {
		r.FirecrackerIDsDir = flakedefaults.FirecrackerIDsDir
	}
	return r
}
