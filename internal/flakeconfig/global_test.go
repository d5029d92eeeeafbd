package flakeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flakepilot/pilot/internal/flakedefaults"
)

func TestRegistryAppliesDefaultsWhenUnset(t *testing.T) {
	g := Global{}
	reg := g.Registry()
	assert.Equal(t, flakedefaults.FlakesDir, reg.FlakesDir)
	assert.Equal(t, flakedefaults.PodmanIDsDir, reg.PodmanIDsDir)
	assert.Equal(t, flakedefaults.FirecrackerIDsDir, reg.FirecrackerIDsDir)
	assert.Equal(t, flakedefaults.FirecrackerOverlayDir, reg.FirecrackerOverlayDir)
	assert.Equal(t, flakedefaults.FlakesRegistryRunroot, reg.RegistryRunroot)
}

func TestRegistryPreservesExplicitValues(t *testing.T) {
	g := Global{
		FlakesDir:         "/custom/flakes",
		PodmanIDsDir:      "/custom/podman-ids",
		FirecrackerIDsDir: "/custom/vm-ids",
	}
	reg := g.Registry()
	assert.Equal(t, "/custom/flakes", reg.FlakesDir)
	assert.Equal(t, "/custom/podman-ids", reg.PodmanIDsDir)
	assert.Equal(t, "/custom/vm-ids", reg.FirecrackerIDsDir)
}
