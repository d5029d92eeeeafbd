package pilotmain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flakepilot/pilot/internal/flakeerrors"
)

func TestFinishNilErrorReturnsCode(t *testing.T) {
	assert.Equal(t, 0, Finish(0, nil))
	assert.Equal(t, 7, Finish(7, nil))
}

func TestFinishTruncatesCodeToByte(t *testing.T) {
	assert.Equal(t, 256&0xff, Finish(256, nil))
}

func TestFinishNonZeroExitForwardsEngineCode(t *testing.T) {
	err := flakeerrors.NewExitError([]string{"podman", "start"}, 42, nil, nil)
	assert.Equal(t, 42, Finish(1, err))
}

func TestFinishAlreadyRunningReturnsGenericFailure(t *testing.T) {
	assert.Equal(t, 1, Finish(1, flakeerrors.ErrAlreadyRunning))
}

func TestFinishGenericErrorReturnsOne(t *testing.T) {
	assert.Equal(t, 1, Finish(1, errors.New("boom")))
}

func TestResolveProgramNameFallsBackToBasename(t *testing.T) {
	assert.Equal(t, "nonexistent-binary-xyz", ResolveProgramName("/does/not/exist/nonexistent-binary-xyz"))
}
