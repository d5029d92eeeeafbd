package flakeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakepilot/pilot/internal/flakeerrors"
	"github.com/flakepilot/pilot/lib/paths"
)

func TestValidateContainer(t *testing.T) {
	t.Run("empty name rejected", func(t *testing.T) {
		p := &Program{Container: &ContainerSection{}}
		assert.Error(t, p.Validate())
	})

	t.Run("relative target_app_path rejected", func(t *testing.T) {
		p := &Program{Container: &ContainerSection{Name: "redis", TargetAppPath: "bin/redis"}}
		assert.Error(t, p.Validate())
	})

	t.Run("root target_app_path ok when not resuming", func(t *testing.T) {
		p := &Program{Container: &ContainerSection{Name: "redis", TargetAppPath: "/"}}
		assert.NoError(t, p.Validate())
	})

	t.Run("resume with unresolved entrypoint is ErrUnknownCommand", func(t *testing.T) {
		p := &Program{Container: &ContainerSection{
			Name:    "redis",
			Runtime: &ContainerRuntime{Resume: true},
		}}
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, flakeerrors.ErrUnknownCommand)
	})

	t.Run("resume with explicit target ok", func(t *testing.T) {
		p := &Program{Container: &ContainerSection{
			Name:          "redis",
			TargetAppPath: "/usr/bin/redis-server",
			Runtime:       &ContainerRuntime{Resume: true},
		}}
		assert.NoError(t, p.Validate())
	})
}

func TestValidateVM(t *testing.T) {
	t.Run("empty name rejected", func(t *testing.T) {
		p := &Program{VM: &VMSection{}}
		assert.Error(t, p.Validate())
	})

	t.Run("resume with unresolved entrypoint is ErrUnknownCommand", func(t *testing.T) {
		p := &Program{VM: &VMSection{
			Name:    "jupyter",
			Runtime: &VMRuntime{Resume: true},
		}}
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, flakeerrors.ErrUnknownCommand)
	})
}

func TestValidateNeitherSectionPresent(t *testing.T) {
	p := &Program{}
	assert.Error(t, p.Validate())
}

func TestMergeProgramDedupesTopLevelKeys(t *testing.T) {
	doc := `
container:
  name: first
  target_app_path: /bin/one
container:
  name: second
  target_app_path: /bin/two
`
	cfg, err := mergeProgram(doc)
	require.NoError(t, err)
	require.NotNil(t, cfg.Container)
	assert.Equal(t, "second", cfg.Container.Name)
	assert.Equal(t, "/bin/two", cfg.Container.TargetAppPath)
}

func TestMergeProgramStrictRejectsUnknownFields(t *testing.T) {
	doc := `
container:
  name: redis
  bogus_field: true
`
	_, err := mergeProgram(doc)
	assert.Error(t, err)
}

func TestMergeProgramEmptyDocument(t *testing.T) {
	_, err := mergeProgram("")
	assert.Error(t, err)
}

func TestLoadMasterPlusFragmentOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis.yaml"), []byte(`
container:
  name: redis
  target_app_path: /usr/bin/redis-server
`), 0o644))

	fragDir := filepath.Join(dir, "redis.d")
	require.NoError(t, os.Mkdir(fragDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fragDir, "10-override.yaml"), []byte(`
container:
  name: redis
  target_app_path: /usr/bin/redis-server
  check_host_dependencies: true
`), 0o644))

	reg := paths.Registry{FlakesDir: dir}
	cfg, err := Load(reg, "redis")
	require.NoError(t, err)
	require.NotNil(t, cfg.Container)
	assert.True(t, cfg.Container.CheckHostDependencies)
}

func TestLoadMissingMasterIsFatal(t *testing.T) {
	dir := t.TempDir()
	reg := paths.Registry{FlakesDir: dir}
	_, err := Load(reg, "missing")
	assert.Error(t, err)
}
