// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package spherefs implements the SphereFS sandbox: a prefix-routed
// resolver that maps logical `$@#~` paths onto real directories on disk,
// rejecting any path that would resolve outside its configured root.
package spherefs

import (
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/cellpath"
)

// sandboxViolationTag lets callers test "was this a sandbox violation"
// without a type assertion.
var sandboxViolationTag = errors.BoolTag{Key: errors.NewTagKey("sphere fs sandbox violation")}

// IsSandboxViolation reports whether err (or something it annotates) is a
// sandbox violation raised by Resolve.
func IsSandboxViolation(err error) bool { return sandboxViolationTag.In(err) }

func violation(logical, reason string) error {
	return errors.Reason("sandbox violation: %q: %s", logical, reason).Tag(sandboxViolationTag).Err()
}

// FS is an immutable SphereFS resolver over four real roots.
type FS struct {
	sourceRoot string // $/
	outputRoot string // @/
	systemRoot string // #/
	userRoot   string // ~/ ; empty means unconfigured
}

// Config supplies the real directories backing each logical root.
type Config struct {
	SourceRoot string
	OutputRoot string
	SystemRoot string
	UserRoot   string // optional
}

// New constructs an FS. SourceRoot and OutputRoot are required.
func New(cfg Config) (*FS, error) {
	if cfg.SourceRoot == "" || cfg.OutputRoot == "" {
		return nil, errors.Reason("spherefs: source root and output root are required").Err()
	}
	abs := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		return filepath.Abs(p)
	}
	var err error
	fs := &FS{}
	if fs.sourceRoot, err = abs(cfg.SourceRoot); err != nil {
		return nil, errors.Annotate(err, "bad source root").Err()
	}
	if fs.outputRoot, err = abs(cfg.OutputRoot); err != nil {
		return nil, errors.Annotate(err, "bad output root").Err()
	}
	if fs.systemRoot, err = abs(cfg.SystemRoot); err != nil {
		return nil, errors.Annotate(err, "bad system root").Err()
	}
	if fs.userRoot, err = abs(cfg.UserRoot); err != nil {
		return nil, errors.Annotate(err, "bad user root").Err()
	}
	return fs, nil
}

// SourceRoot returns the real directory backing "$/".
func (fs *FS) SourceRoot() string { return fs.sourceRoot }

// OutputRoot returns the real directory backing "@/".
func (fs *FS) OutputRoot() string { return fs.outputRoot }

// HasUserRoot reports whether "~/" is configured.
func (fs *FS) HasUserRoot() bool { return fs.userRoot != "" }

// Resolve maps a logical path to a real, sandboxed filesystem path.
//
// Implements prefix routing, collapse, and escape detection as one
// five-step pass.
func (fs *FS) Resolve(logical string) (string, error) {
	p := cellpath.Parse(logical)

	// Step 2: platform-absolute logical paths are always rejected, even
	// before root selection.
	if filepath.IsAbs(logical) {
		return "", violation(logical, "platform-absolute paths are not allowed")
	}

	var root, rest string
	switch p.First() {
	case "$":
		root, rest = fs.sourceRoot, tailString(p)
	case "@":
		root, rest = fs.outputRoot, tailString(p)
	case "#":
		if fs.systemRoot == "" {
			return "", violation(logical, "no system root is configured")
		}
		root, rest = fs.systemRoot, tailString(p)
	case "~":
		if fs.userRoot == "" {
			return "", violation(logical, "no user root is configured")
		}
		root, rest = fs.userRoot, tailString(p)
	default:
		// Step 4: anything else is $/-relative.
		root, rest = fs.sourceRoot, p.String()
	}

	restPath, err := cellpath.Parse(rest).Collapse()
	if err != nil {
		return "", violation(logical, "path climbs above its root")
	}
	for _, h := range restPath.Hops() {
		if h == ".." {
			return "", violation(logical, "path climbs above its root")
		}
	}

	real := filepath.Join(root, filepath.FromSlash(restPath.String()))
	// Belt-and-suspenders: Collapse already rejects escaping "..", but
	// confirm the joined result still lives under root (e.g. root itself
	// could be "/" in degenerate configs).
	relCheck, err := filepath.Rel(root, real)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", violation(logical, "path climbs above its root")
	}
	return real, nil
}

func tailString(p cellpath.Path) string {
	hops := p.Hops()
	if len(hops) == 0 {
		return ""
	}
	rest := cellpath.New(hops[1:]...)
	if p.IsDir() {
		rest = rest.AsDir()
	}
	return rest.String()
}

// Stat is a thin existence/metadata check used by higher layers that must
// distinguish "doesn't exist" from other resolution failures.
func (fs *FS) Stat(logical string) (os.FileInfo, error) {
	real, err := fs.Resolve(logical)
	if err != nil {
		return nil, err
	}
	return os.Stat(real)
}
