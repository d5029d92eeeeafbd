package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() Registry {
	return Registry{
		FlakesDir:             "/usr/share/flakes",
		PodmanIDsDir:          "/tmp/flakes",
		FirecrackerIDsDir:     "/tmp/flakes",
		FirecrackerOverlayDir: "/var/lib/firecracker/storage",
		RegistryRunroot:       "/run/flakes",
	}
}

func TestRegistryPaths(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, "/usr/share/flakes/redis.yaml", r.ConfigFile("redis"))
	assert.Equal(t, "/usr/share/flakes/redis.d", r.ConfigFragmentDir("redis"))
	assert.Equal(t, "/tmp/flakes/redis_root.cid", r.ContainerIDFile("redis_root"))
	assert.Equal(t, "/tmp/flakes/jupyter_root.vmid", r.VMIDFile("jupyter_root"))
	assert.Equal(t, "/var/lib/firecracker/storage/jupyter_root.ext2", r.VMOverlayImage("jupyter_root"))
	assert.Equal(t, "/run/sci_cmd_jupyter_root.sock", r.GuestBridgeSocket("jupyter_root"))
	assert.Equal(t, "/run/flakes/alice", r.UserRunroot("alice"))
}

func TestEnsureDirCreatesMissingDir(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "fresh")

	require.NoError(t, EnsureDir(target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDirToleratesExistingDir(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, EnsureDir(base))
	require.NoError(t, EnsureDir(base))
}

func TestEnsureDirFailsWithoutParent(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "missing-parent", "child")
	assert.Error(t, EnsureDir(target))
}
