package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakepilot/pilot/internal/flakedefaults"
)

type fakeReaper struct {
	alive  map[string]bool
	socket map[string]string
}

func (r *fakeReaper) Probe(ctx context.Context, idValue string) bool { return r.alive[idValue] }

func (r *fakeReaper) SocketPath(identity string) string { return r.socket[identity] }

func writeIDFiles(t *testing.T, dir string, n int, ext string) {
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("instance-%d%s", i, ext)
		id := fmt.Sprintf("id-%d", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(id), 0o644))
	}
}

func TestMaybeGCSkipsWhenUnderThreshold(t *testing.T) {
	dir := t.TempDir()
	writeIDFiles(t, dir, flakedefaults.GCThreshold, ".cid")
	reaper := &fakeReaper{alive: map[string]bool{}}

	require.NoError(t, MaybeGC(context.Background(), dir, ".cid", reaper))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, flakedefaults.GCThreshold)
}

func TestMaybeGCReapsDeadInstancesOverThreshold(t *testing.T) {
	dir := t.TempDir()
	n := flakedefaults.GCThreshold + 1
	writeIDFiles(t, dir, n, ".cid")
	// All instances report dead except instance-0.
	reaper := &fakeReaper{alive: map[string]bool{"id-0": true}}

	require.NoError(t, MaybeGC(context.Background(), dir, ".cid", reaper))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "instance-0.cid", entries[0].Name())
}

func TestMaybeGCRemovesSocketForReapedIdentity(t *testing.T) {
	dir := t.TempDir()
	n := flakedefaults.GCThreshold + 1
	writeIDFiles(t, dir, n, ".vmid")

	sockDir := t.TempDir()
	sockPath := filepath.Join(sockDir, "instance-1.sock")
	require.NoError(t, os.WriteFile(sockPath, []byte{}, 0o644))

	reaper := &fakeReaper{
		alive:  map[string]bool{},
		socket: map[string]string{"instance-1": sockPath},
	}

	require.NoError(t, MaybeGC(context.Background(), dir, ".vmid", reaper))

	_, err := os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestMaybeGCLeavesInFlightGateAlone(t *testing.T) {
	dir := t.TempDir()
	n := flakedefaults.GCThreshold + 1
	writeIDFiles(t, dir, n, ".cid")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instance-0.cid"), []byte("0"), 0o644))
	reaper := &fakeReaper{alive: map[string]bool{}}

	require.NoError(t, MaybeGC(context.Background(), dir, ".cid", reaper))

	_, err := os.Stat(filepath.Join(dir, "instance-0.cid"))
	assert.NoError(t, err, "in-flight gate (value \"0\") must never be reaped")
}

func TestMaybeGCMissingDirIsNotAnError(t *testing.T) {
	reaper := &fakeReaper{}
	err := MaybeGC(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), ".cid", reaper)
	assert.NoError(t, err)
}
