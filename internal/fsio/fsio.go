// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fsio is the thin, sandboxing file I/O façade the loader, DSL
// bindings, graph and driver use for logical paths: every method resolves
// through spherefs before touching disk. Two places call os directly:
// the DSL's FileStream opens the file with os.OpenFile after resolving
// its path through spherefs, and pkgwriter creates its archive at a real,
// unsandboxed path.
package fsio

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/spherefs"
)

// FS is a sandboxed file I/O façade: every method takes a logical path and
// resolves it through spherefs before touching disk.
type FS struct {
	sphere *spherefs.FS
}

// New wraps a spherefs.FS.
func New(sphere *spherefs.FS) *FS { return &FS{sphere: sphere} }

// Sphere returns the underlying resolver, for components (like the DSL)
// that need direct path resolution alongside I/O.
func (fs *FS) Sphere() *spherefs.FS { return fs.sphere }

// Read slurps the whole file named by the logical path.
func (fs *FS) Read(logical string) ([]byte, error) {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadFile(real)
	if err != nil {
		return nil, errors.Annotate(err, "reading %q", logical).Err()
	}
	return b, nil
}

// Write spews bytes to the logical path, creating intermediate directories.
func (fs *FS) Write(logical string, data []byte) error {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		return errors.Annotate(err, "creating parent directory of %q", logical).Err()
	}
	if err := ioutil.WriteFile(real, data, 0644); err != nil {
		return errors.Annotate(err, "writing %q", logical).Err()
	}
	return nil
}

// Exists reports whether the logical path names an existing file or
// directory. Sandbox violations are treated as non-existence (the caller
// should surface the violation separately if it cares).
func (fs *FS) Exists(logical string) bool {
	_, err := fs.sphere.Stat(logical)
	return err == nil
}

// Stat resolves and stats the logical path.
func (fs *FS) Stat(logical string) (os.FileInfo, error) {
	return fs.sphere.Stat(logical)
}

// ModTime returns the mtime of logical, or the zero time if it doesn't
// exist.
func (fs *FS) ModTime(logical string) time.Time {
	fi, err := fs.sphere.Stat(logical)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Copy byte-copies src to dst, implicitly creating dst's parent
// directories. If overwrite is false and dst exists, it is an error.
func (fs *FS) Copy(src, dst string, overwrite bool) error {
	srcReal, err := fs.sphere.Resolve(src)
	if err != nil {
		return err
	}
	dstReal, err := fs.sphere.Resolve(dst)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(dstReal); err == nil {
			return errors.Reason("copy: %q already exists", dst).Err()
		}
	}
	if err := os.MkdirAll(filepath.Dir(dstReal), 0755); err != nil {
		return errors.Annotate(err, "creating parent directory of %q", dst).Err()
	}
	in, err := os.Open(srcReal)
	if err != nil {
		return errors.Annotate(err, "opening %q", src).Err()
	}
	defer in.Close()
	out, err := os.OpenFile(dstReal, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Annotate(err, "creating %q", dst).Err()
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Annotate(err, "copying %q to %q", src, dst).Err()
	}
	return errors.Annotate(out.Close(), "closing %q", dst).Err()
}

// Touch sets the mtime (and atime) of logical to now.
func (fs *FS) Touch(logical string) error {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return err
	}
	now := time.Now()
	return errors.Annotate(os.Chtimes(real, now, now), "touching %q", logical).Err()
}

// MkdirAll creates the directory named by the logical path and any needed
// parents.
func (fs *FS) MkdirAll(logical string) error {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return err
	}
	return errors.Annotate(os.MkdirAll(real, 0755), "mkdir %q", logical).Err()
}

// RmdirAll removes the directory named by the logical path, recursively.
func (fs *FS) RmdirAll(logical string) error {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return err
	}
	return errors.Annotate(os.RemoveAll(real), "rmdir %q", logical).Err()
}

// Unlink removes a single file.
func (fs *FS) Unlink(logical string) error {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "unlinking %q", logical).Err()
	}
	return nil
}

// Rename moves src to dst.
func (fs *FS) Rename(src, dst string) error {
	srcReal, err := fs.sphere.Resolve(src)
	if err != nil {
		return err
	}
	dstReal, err := fs.sphere.Resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstReal), 0755); err != nil {
		return errors.Annotate(err, "creating parent directory of %q", dst).Err()
	}
	return errors.Annotate(os.Rename(srcReal, dstReal), "renaming %q to %q", src, dst).Err()
}

// Entry describes one child of a listed directory.
type Entry struct {
	Name  string
	IsDir bool
}

// List returns the immediate children of the logical directory.
func (fs *FS) List(logical string) ([]Entry, error) {
	real, err := fs.sphere.Resolve(logical)
	if err != nil {
		return nil, err
	}
	infos, err := ioutil.ReadDir(real)
	if err != nil {
		return nil, errors.Annotate(err, "listing %q", logical).Err()
	}
	out := make([]Entry, len(infos))
	for i, fi := range infos {
		out[i] = Entry{Name: fi.Name(), IsDir: fi.IsDir()}
	}
	return out, nil
}
