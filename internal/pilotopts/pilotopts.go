// Package pilotopts implements the invocation-argument triage described in
// spec §6: argv is split into zero or more @TAG tokens, pilot options of the
// form %name[:value], and the remaining tokens forwarded to the guest
// command. Grounded in common/src/lookup.rs (get_run_cmdline,
// get_pilot_run_options) and firecracker.rs::get_meta_name, which folds
// every @arg token into the instance name rather than just the first.
package pilotopts

import "strings"

// Recognized pilot option names (spec §6). Unrecognized %-tokens are still
// captured into Options, matching the original's unconditional insert, but
// have no defined effect.
const (
	OptSilent           = "%silent"
	OptInteractive      = "%interactive"
	OptPort             = "%port"
	OptRemove           = "%remove"
	OptIgnoreSyncError  = "%ignore_sync_error"
)

// Parsed holds the triage result of one invocation's argv (excluding argv[0]).
type Parsed struct {
	Tag       string            // every @TAG token, joined by '@' in invocation order
	Options   map[string]string // pilot options, keyed by name with the leading % kept
	Forwarded []string          // tokens to pass through to the guest command
}

// Parse triages args (argv[1:]) per spec §6.
func Parse(args []string) Parsed {
	p := Parsed{Options: make(map[string]string)}
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "@"):
			tag := strings.TrimPrefix(arg, "@")
			if p.Tag == "" {
				p.Tag = tag
			} else {
				p.Tag += "@" + tag
			}
		case strings.HasPrefix(arg, "%"):
			name, value, found := strings.Cut(arg, ":")
			if !found {
				name, value = arg, ""
			}
			p.Options[name] = value
		default:
			p.Forwarded = append(p.Forwarded, arg)
		}
	}
	return p
}

// Has reports whether a pilot option (e.g. OptSilent, leading % included)
// was given.
func (p Parsed) Has(name string) bool {
	_, ok := p.Options[name]
	return ok
}

// KernelCmdline renders the forwarded tokens for inclusion in a VM kernel
// boot-args string, escaping every '-' as '\-' per the original's
// quote_for_kernel_cmdline behavior.
func (p Parsed) KernelCmdline() string {
	escaped := make([]string, len(p.Forwarded))
	for i, tok := range p.Forwarded {
		escaped[i] = strings.ReplaceAll(tok, "-", "\\-")
	}
	return strings.Join(escaped, " ")
}
