package podmanengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flakepilot/pilot/internal/flakeconfig"
)

func TestTargetPathDefaultsToProgram(t *testing.T) {
	e := &Engine{
		Program: "redis",
		Config:  &flakeconfig.Program{Container: &flakeconfig.ContainerSection{Name: "redis"}},
	}
	assert.Equal(t, "redis", e.targetPath())
}

func TestTargetPathUsesExplicitAppPath(t *testing.T) {
	e := &Engine{
		Program: "redis",
		Config: &flakeconfig.Program{Container: &flakeconfig.ContainerSection{
			Name:          "redis",
			TargetAppPath: "/usr/bin/redis-server",
		}},
	}
	assert.Equal(t, "/usr/bin/redis-server", e.targetPath())
}

func TestSocketPathIsAlwaysEmpty(t *testing.T) {
	e := &Engine{}
	assert.Equal(t, "", e.SocketPath("any_identity"))
}

func TestRemoveOverlayIsNoop(t *testing.T) {
	e := &Engine{}
	assert.NoError(t, e.RemoveOverlay(nil))
}
