// Package sci implements the guest-side half of the guest bridge (C8): the
// PID-1 init that runs inside every flake VM. Grounded in
// firecracker-pilot/guestvm-tools/sci/src/main.rs.
package sci

import (
	"os"
	"strings"

	"github.com/u-root/u-root/pkg/shlex"
)

// Cmdline is the subset of /proc/cmdline this init cares about.
type Cmdline struct {
	Run         string // "vsock" or a quoted command line
	OverlayRoot string // e.g. "/dev/vdb", empty if no overlay configured
	Debug       bool
}

// ParseCmdline reads /proc/cmdline and extracts the run=, overlay_root= and
// PILOT_DEBUG tokens (sci/main.rs's argument scan at the top of main()).
func ParseCmdline() (Cmdline, error) {
	raw, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return Cmdline{}, err
	}
	return parseCmdlineString(string(raw)), nil
}

func parseCmdlineString(s string) Cmdline {
	var c Cmdline
	for _, tok := range splitCmdlineTokens(s) {
		switch {
		case strings.HasPrefix(tok, "run="):
			c.Run = unquote(strings.TrimPrefix(tok, "run="))
		case strings.HasPrefix(tok, "overlay_root="):
			c.OverlayRoot = strings.TrimPrefix(tok, "overlay_root=")
		case tok == "PILOT_DEBUG=1":
			c.Debug = true
		}
	}
	return c
}

// splitCmdlineTokens splits /proc/cmdline on spaces that are not inside a
// double-quoted run="..." value, since that value itself contains
// space-separated guest argv.
func splitCmdlineTokens(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			cur.WriteByte(ch)
		case ch == ' ' && !inQuotes:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// ShellSplit word-splits a command line the way sci/main.rs's
// shell_words::split does, via u-root's shlex package: fields separated by
// whitespace, with single or double quotes grouping a field that contains
// whitespace.
func ShellSplit(s string) []string {
	return shlex.Split(s)
}
