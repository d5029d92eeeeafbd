package flakeerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpawnErrorWraps(t *testing.T) {
	err := NewSpawnError([]string{"podman", "create"}, errors.New("exec: not found"))
	assert.ErrorIs(t, err, ErrSpawnFailure)
	assert.Contains(t, err.Error(), "podman")
}

func TestNewExitErrorCarriesExitCode(t *testing.T) {
	err := NewExitError([]string{"podman", "start", "cid"}, 17, []byte("out"), []byte("err"))
	assert.ErrorIs(t, err, ErrNonZeroExit)
	assert.Equal(t, 17, err.ExitCode)
	assert.Equal(t, []byte("out"), err.Stdout)
}

func TestCommandErrorUnwrap(t *testing.T) {
	err := NewExitError([]string{"rsync"}, 1, nil, nil)
	var target *CommandError
	require.ErrorAs(t, err, &target)
	assert.Same(t, err, target)
	assert.ErrorIs(t, errors.Unwrap(err), ErrNonZeroExit)
}

func TestIOErrorfWrapsErrIOError(t *testing.T) {
	err := IOErrorf("reading %s: %v", "/etc/flakes.yml", errors.New("not found"))
	assert.ErrorIs(t, err, ErrIOError)
	assert.Contains(t, err.Error(), "/etc/flakes.yml")
}
