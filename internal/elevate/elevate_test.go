package elevate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandRootOmitsUserFlag(t *testing.T) {
	cmd := Root.Command(context.Background(), "podman", "create", "redis")
	assert.Equal(t, []string{"sudo", "--preserve-env", "podman", "create", "redis"}, cmd.Args)
}

func TestCommandNamedUserIncludesUserFlag(t *testing.T) {
	u := User{Name: "appuser"}
	cmd := u.Command(context.Background(), "podman", "start", "cid")
	assert.Equal(t, []string{"sudo", "--preserve-env", "--user", "appuser", "podman", "start", "cid"}, cmd.Args)
}

func TestArgvMatchesCommand(t *testing.T) {
	u := User{Name: "appuser"}
	assert.Equal(t, []string{"sudo", "--preserve-env", "--user", "appuser", "mkfs.ext2", "-F", "/tmp/x"},
		u.Argv("mkfs.ext2", "-F", "/tmp/x"))
}

func TestArgvRootOmitsUserFlag(t *testing.T) {
	assert.Equal(t, []string{"sudo", "--preserve-env", "rsync", "-av"}, Root.Argv("rsync", "-av"))
}
