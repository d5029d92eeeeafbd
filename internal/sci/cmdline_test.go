package sci

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCmdlineStringVsockMode(t *testing.T) {
	c := parseCmdlineString(`console=ttyS0 overlay_root=/dev/vdb run=vsock PILOT_DEBUG=1`)
	assert.Equal(t, "vsock", c.Run)
	assert.Equal(t, "/dev/vdb", c.OverlayRoot)
	assert.True(t, c.Debug)
}

func TestParseCmdlineStringQuotedRunValue(t *testing.T) {
	c := parseCmdlineString(`console=ttyS0 run="/bin/app --flag value" quiet`)
	assert.Equal(t, "/bin/app --flag value", c.Run)
	assert.False(t, c.Debug)
}

func TestParseCmdlineStringNoOverlay(t *testing.T) {
	c := parseCmdlineString(`run=vsock`)
	assert.Empty(t, c.OverlayRoot)
}

func TestSplitCmdlineTokensPreservesQuotedSpaces(t *testing.T) {
	tokens := splitCmdlineTokens(`a=1 run="b c d" e=2`)
	assert.Equal(t, []string{"a=1", `run="b c d"`, "e=2"}, tokens)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "hello world", unquote(`"hello world"`))
	assert.Equal(t, "bare", unquote("bare"))
	assert.Equal(t, `"`, unquote(`"`))
}

func TestShellSplit(t *testing.T) {
	assert.Equal(t, []string{"/bin/app", "--flag", "value with spaces"}, ShellSplit(`/bin/app --flag "value with spaces"`))
}
