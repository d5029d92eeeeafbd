package flakeconfig

import (
	"os"
	"regexp"
)

// varRef matches a %VAR reference inside an engine pass-through argument
// (spec §3 "engine pass-through arguments, with %VAR substitution from the
// environment"). There is no original_source equivalent to pin the exact
// syntax against — the Rust sources never implement this bullet — so the
// shape chosen here is the smallest one consistent with the prose: a bare
// `%` sigil followed by a shell-identifier-style name, substituted from the
// process environment, left untouched when the variable is unset.
var varRef = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnvRefs applies %VAR substitution to a slice of pass-through
// arguments (ContainerRuntime.Podman, EngineSection.BootArgs), in place of
// any unset reference, which is left as written rather than collapsed to
// the empty string — pass-through arguments are shell-like tokens handed
// straight to podman/firecracker, and silently dropping an unresolved
// reference could turn one flag into an unrelated one.
func ExpandEnvRefs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = varRef.ReplaceAllStringFunc(a, func(m string) string {
			name := m[1:]
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			return m
		})
	}
	return out
}
