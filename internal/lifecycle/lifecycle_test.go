package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakepilot/pilot/internal/flakeerrors"
)

// fakeEngine is a scriptable Engine for exercising Run's decision tree
// without a real podman/firecracker backend.
type fakeEngine struct {
	probeAlive    bool
	createID      string
	createCode    int
	createErr     error
	execCode      int
	execErr       error
	attachCode    int
	attachErr     error
	removeOverlay error

	createCalls int
	execCalls   int
	attachCalls int
	removeCalls int
}

func (f *fakeEngine) Probe(ctx context.Context, idValue string) bool { return f.probeAlive }

func (f *fakeEngine) Create(ctx context.Context) (string, int, error) {
	f.createCalls++
	return f.createID, f.createCode, f.createErr
}

func (f *fakeEngine) Exec(ctx context.Context, idValue string) (int, error) {
	f.execCalls++
	return f.execCode, f.execErr
}

func (f *fakeEngine) Attach(ctx context.Context, idValue string) (int, error) {
	f.attachCalls++
	return f.attachCode, f.attachErr
}

func (f *fakeEngine) RemoveOverlay(ctx context.Context) error {
	f.removeCalls++
	return f.removeOverlay
}

func idPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "identity.cid")
}

func TestRunCreatesWhenIDFileAbsent(t *testing.T) {
	eng := &fakeEngine{createID: "abc123", createCode: 0}
	path := idPath(t)

	code, err := Run(context.Background(), path, ModeOneShot, false, eng)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, eng.createCalls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(data))
}

func TestRunGateBlocksConcurrentCreate(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))
	eng := &fakeEngine{}

	_, err := Run(context.Background(), path, ModeOneShot, false, eng)
	assert.ErrorIs(t, err, flakeerrors.ErrAlreadyRunning)
	assert.Equal(t, 0, eng.createCalls)
}

func TestRunOneShotAlreadyRunningFails(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("existing-id"), 0o644))
	eng := &fakeEngine{probeAlive: true}

	_, err := Run(context.Background(), path, ModeOneShot, true, eng)
	assert.ErrorIs(t, err, flakeerrors.ErrAlreadyRunning)
}

func TestRunResumeExecsRunningInstance(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("existing-id"), 0o644))
	eng := &fakeEngine{probeAlive: true, execCode: 7}

	code, err := Run(context.Background(), path, ModeResume, true, eng)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, 1, eng.execCalls)
	assert.Equal(t, 0, eng.createCalls)
}

func TestRunAttachAttachesRunningInstance(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("existing-id"), 0o644))
	eng := &fakeEngine{probeAlive: true, attachCode: 3}

	code, err := Run(context.Background(), path, ModeAttach, true, eng)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, 1, eng.attachCalls)
}

func TestRunReapsDeadInstanceAndRecreates(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale-id"), 0o644))
	eng := &fakeEngine{probeAlive: false, createID: "new-id", createCode: 0}

	code, err := Run(context.Background(), path, ModeOneShot, false, eng)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, eng.createCalls)
	assert.Equal(t, 1, eng.removeCalls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new-id", string(data))
}

func TestRunReapDoesNotRemoveOverlayWhenResumeConfigured(t *testing.T) {
	path := idPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale-id"), 0o644))
	eng := &fakeEngine{probeAlive: false, createID: "new-id"}

	_, err := Run(context.Background(), path, ModeOneShot, true, eng)
	require.NoError(t, err)
	assert.Equal(t, 0, eng.removeCalls)
}

func TestRunCreateFailureLeavesNoIDFile(t *testing.T) {
	path := idPath(t)
	eng := &fakeEngine{createErr: flakeerrors.ErrSyncFailed}

	code, err := Run(context.Background(), path, ModeOneShot, false, eng)
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, flakeerrors.ErrSyncFailed)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
