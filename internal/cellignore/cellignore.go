// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cellignore implements an optional ".cellignore" exclusion list
// consulted by recursive files() walks: a single file at the source root,
// parsed with gitignore pattern syntax, since SphereFS has no
// ".git"-rooted repo-boundary concept to search up from.
package cellignore

import (
	"strings"

	"gopkg.in/src-d/go-git.v4/plumbing/format/gitignore"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/fsio"
)

const ignoreFile = "$/.cellignore"

// Matcher answers whether a logical path is excluded from a recursive
// files() descent. A zero Matcher (no ".cellignore" present) excludes
// nothing.
type Matcher struct {
	m gitignore.Matcher
}

// Load reads "$/.cellignore" if present and compiles it into a Matcher.
func Load(fs *fsio.FS) (*Matcher, error) {
	if !fs.Exists(ignoreFile) {
		return &Matcher{}, nil
	}
	b, err := fs.Read(ignoreFile)
	if err != nil {
		return nil, errors.Annotate(err, "reading %q", ignoreFile).Err()
	}

	var pats []gitignore.Pattern
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pats = append(pats, gitignore.ParsePattern(line, nil))
	}
	return &Matcher{m: gitignore.NewMatcher(pats)}, nil
}

// Match reports whether the logical path (relative to the source root,
// e.g. "src/build/tmp") is excluded. isDir distinguishes directory
// patterns ("foo/") from file patterns, matching gitignore.Matcher's
// contract.
func (m *Matcher) Match(relLogical string, isDir bool) bool {
	if m == nil || m.m == nil {
		return false
	}
	var parts []string
	for _, p := range strings.Split(relLogical, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return false
	}
	return m.m.Match(parts, isDir)
}
