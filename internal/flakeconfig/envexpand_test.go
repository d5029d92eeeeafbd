package flakeconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvRefs(t *testing.T) {
	t.Setenv("PILOT_TEST_VAR", "replaced")

	cases := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "set variable is substituted",
			args: []string{"--label=%PILOT_TEST_VAR"},
			want: []string{"--label=replaced"},
		},
		{
			name: "unset variable is left intact",
			args: []string{"--label=%PILOT_DEFINITELY_UNSET_VAR"},
			want: []string{"--label=%PILOT_DEFINITELY_UNSET_VAR"},
		},
		{
			name: "no reference passes through unchanged",
			args: []string{"--rm", "--tty"},
			want: []string{"--rm", "--tty"},
		},
		{
			name: "multiple references in one token",
			args: []string{"%PILOT_TEST_VAR-%PILOT_TEST_VAR"},
			want: []string{"replaced-replaced"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExpandEnvRefs(tc.args))
		})
	}
}

func TestExpandEnvRefsEmptyInput(t *testing.T) {
	assert.Empty(t, ExpandEnvRefs(nil))
}

func TestExpandEnvRefsDoesNotMutateEnvironment(t *testing.T) {
	ExpandEnvRefs([]string{"--label=%PILOT_DEFINITELY_UNSET_VAR"})
	_, ok := os.LookupEnv("PILOT_DEFINITELY_UNSET_VAR")
	assert.False(t, ok)
}
