// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cellpath implements hop-list path values used throughout the
// build engine: logical SphereFS paths (with their `$@#~` prefixes) and
// plain relative paths alike are represented the same way so the rest of
// the system never has to special-case string manipulation.
package cellpath

import "strings"

// Path is an ordered sequence of hops plus a trailing-separator flag.
//
// A hop never contains "/". Path is a value type: all mutating-looking
// operations return a new Path.
type Path struct {
	hops []string
	dir  bool // true if the path ends in "/" (directory-ness)
}

// Parse splits a slash-separated string into a Path. Empty hops produced
// by a leading "/" or repeated "//" are dropped; a leading "/" leaves no
// mark on the Path (see Rooted).
func Parse(s string) Path {
	if s == "" {
		return Path{}
	}
	dir := strings.HasSuffix(s, "/")
	raw := strings.Split(s, "/")
	hops := make([]string, 0, len(raw))
	for _, h := range raw {
		if h != "" {
			hops = append(hops, h)
		}
	}
	return Path{hops: hops, dir: dir}
}

// New builds a Path from explicit hops.
func New(hops ...string) Path {
	out := make([]string, len(hops))
	copy(out, hops)
	return Path{hops: out}
}

// String renders the path back to a slash-separated string.
func (p Path) String() string {
	s := strings.Join(p.hops, "/")
	if p.dir && s != "" && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// Hops returns a copy of the hop list.
func (p Path) Hops() []string {
	out := make([]string, len(p.hops))
	copy(out, p.hops)
	return out
}

// IsDir reports the trailing-separator flag.
func (p Path) IsDir() bool { return p.dir }

// AsDir returns a copy of p with the directory flag set.
func (p Path) AsDir() Path {
	p.dir = true
	return p
}

// Empty reports whether the path has no hops.
func (p Path) Empty() bool { return len(p.hops) == 0 }

// First returns the first hop, or "" if the path is empty.
func (p Path) First() string {
	if len(p.hops) == 0 {
		return ""
	}
	return p.hops[0]
}

// Base returns the last hop, or "" if the path is empty.
func (p Path) Base() string {
	if len(p.hops) == 0 {
		return ""
	}
	return p.hops[len(p.hops)-1]
}

// Ext returns the extension of the last hop, including the leading dot,
// or "" if there is none.
func (p Path) Ext() string {
	b := p.Base()
	if i := strings.LastIndexByte(b, '.'); i > 0 {
		return b[i:]
	}
	return ""
}

// Dir returns p with its last hop removed, marked as a directory.
func (p Path) Dir() Path {
	if len(p.hops) == 0 {
		return p
	}
	cp := p.Hops()
	return Path{hops: cp[:len(cp)-1], dir: true}
}

// Append pushes one or more hops onto the end of p, splitting any "/" they
// contain, and returns the result.
func (p Path) Append(hops ...string) Path {
	out := p.Hops()
	for _, h := range hops {
		for _, part := range strings.Split(h, "/") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return Path{hops: out, dir: p.dir}
}

// Insert inserts hops at the given index.
func (p Path) Insert(index int, hops ...string) Path {
	out := p.Hops()
	if index < 0 || index > len(out) {
		index = len(out)
	}
	merged := make([]string, 0, len(out)+len(hops))
	merged = append(merged, out[:index]...)
	merged = append(merged, hops...)
	merged = append(merged, out[index:]...)
	return Path{hops: merged, dir: p.dir}
}

// RemoveAt removes the hop at the given index, if in range.
func (p Path) RemoveAt(index int) Path {
	out := p.Hops()
	if index < 0 || index >= len(out) {
		return p
	}
	merged := make([]string, 0, len(out)-1)
	merged = append(merged, out[:index]...)
	merged = append(merged, out[index+1:]...)
	return Path{hops: merged, dir: p.dir}
}

// Rebase prepends base's hops onto p, i.e. computes base/p.
func (p Path) Rebase(base Path) Path {
	out := make([]string, 0, len(base.hops)+len(p.hops))
	out = append(out, base.hops...)
	out = append(out, p.hops...)
	return Path{hops: out, dir: p.dir}
}

// Relativize subtracts base's common prefix from p. If p and base do not
// share their first hop, p is returned unchanged.
func Relativize(p, base Path) Path {
	if len(base.hops) == 0 || len(p.hops) == 0 || p.hops[0] != base.hops[0] {
		return p
	}
	i := 0
	for i < len(base.hops) && i < len(p.hops) && p.hops[i] == base.hops[i] {
		i++
	}
	return Path{hops: p.Hops()[i:], dir: p.dir}
}

// collapseErr is the sentinel returned by Collapse when folding would climb
// past the first hop ("hard stop at root").
type collapseErr struct{ msg string }

func (e *collapseErr) Error() string { return e.msg }

// ErrEscapesRoot is returned by Collapse when ".." would climb above the
// first hop of the path.
var ErrEscapesRoot error = &collapseErr{"path escapes its root"}

// Collapse folds "." and ".." segments. A ".." that would climb above the
// first hop is rejected with ErrEscapesRoot, leaving the path unchanged in
// the returned value (callers must check the error). Collapse is
// idempotent: Collapse(Collapse(p)) == Collapse(p) for any non-escaping p.
func (p Path) Collapse() (Path, error) {
	out := make([]string, 0, len(p.hops))
	for _, h := range p.hops {
		switch h {
		case ".":
			// drop
		case "..":
			if len(out) == 0 {
				return p, ErrEscapesRoot
			}
			out = out[:len(out)-1]
		default:
			out = append(out, h)
		}
	}
	return Path{hops: out, dir: p.dir}, nil
}

// Rooted reports whether p begins with a SphereFS prefix hop ("$", "@",
// "#", or "~"). It does not detect platform-absolute paths: Parse drops
// the empty hop a leading "/" produces, so that case is rejected
// separately by spherefs.Resolve via filepath.IsAbs on the raw string.
func (p Path) Rooted() bool {
	if len(p.hops) == 0 {
		return false
	}
	switch p.hops[0] {
	case "$", "@", "#", "~":
		return true
	}
	return false
}

// Equal reports structural equality of two paths (hops and dir flag).
func (p Path) Equal(o Path) bool {
	if p.dir != o.dir || len(p.hops) != len(o.hops) {
		return false
	}
	for i := range p.hops {
		if p.hops[i] != o.hops[i] {
			return false
		}
	}
	return true
}

// Less provides a total order over paths by their string form.
func Less(a, b Path) bool { return a.String() < b.String() }
