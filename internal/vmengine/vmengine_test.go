package vmengine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakepilot/pilot/internal/flakeconfig"
	"github.com/flakepilot/pilot/lib/paths"
)

func TestTargetPathDefaultsToProgram(t *testing.T) {
	e := &Engine{
		Program: "jupyter",
		Config:  &flakeconfig.Program{VM: &flakeconfig.VMSection{Name: "jupyter"}},
	}
	assert.Equal(t, "jupyter", e.targetPath())
}

func TestTargetPathUsesExplicitAppPath(t *testing.T) {
	e := &Engine{
		Program: "jupyter",
		Config: &flakeconfig.Program{VM: &flakeconfig.VMSection{
			Name:          "jupyter",
			TargetAppPath: "/opt/jupyter/bin/start",
		}},
	}
	assert.Equal(t, "/opt/jupyter/bin/start", e.targetPath())
}

func TestProbeRejectsNonNumericPid(t *testing.T) {
	e := &Engine{}
	assert.False(t, e.Probe(context.Background(), "not-a-pid"))
}

func TestSocketPathDelegatesToRegistry(t *testing.T) {
	reg := paths.Registry{}
	e := &Engine{Identity: "jupyter_root", Reg: reg}
	assert.Equal(t, reg.GuestBridgeSocket("jupyter_root"), e.SocketPath("jupyter_root"))
}

func TestRemoveOverlayDeletesImage(t *testing.T) {
	dir := t.TempDir()
	reg := paths.Registry{FirecrackerOverlayDir: dir}
	e := &Engine{Identity: "jupyter_root", Reg: reg}

	imagePath := reg.VMOverlayImage("jupyter_root")
	require.NoError(t, os.WriteFile(imagePath, []byte("x"), 0o644))

	require.NoError(t, e.RemoveOverlay(context.Background()))
	_, err := os.Stat(imagePath)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveOverlayToleratesMissingImage(t *testing.T) {
	dir := t.TempDir()
	reg := paths.Registry{FirecrackerOverlayDir: dir}
	e := &Engine{Identity: "jupyter_root", Reg: reg}
	assert.NoError(t, e.RemoveOverlay(context.Background()))
}
