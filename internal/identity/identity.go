// Package identity derives the stable (program, tag, user) tuple that names
// a single flake pilot instance (spec §3 "Instance identity").
package identity

import "strings"

// Identity is a pure, deterministic function of the invoking program's
// basename, the ordered @TAG tokens captured from argv (already folded into
// one string by pilotopts.Parsed.Tag), and the caller's user name. Two
// invocations with distinct Identity values never touch the same ID file,
// socket, or overlay image.
type Identity struct {
	Program string
	Tag     string // empty when no @TAG was given
	User    string
}

// New builds an Identity. program must already be a basename (no path
// separators); user is the caller's resolved user name.
func New(program, tag, user string) Identity {
	return Identity{Program: program, Tag: tag, User: user}
}

// String renders the identity into the filename-safe form used to build
// ID-file, socket, and overlay-image paths: "<program>[@<tag>]_<user>".
func (id Identity) String() string {
	var b strings.Builder
	b.WriteString(id.Program)
	if id.Tag != "" {
		b.WriteByte('@')
		b.WriteString(id.Tag)
	}
	b.WriteByte('_')
	b.WriteString(id.User)
	return b.String()
}
