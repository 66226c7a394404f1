// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pkgwriter implements the package writer collaborator: open a
// gzip-compressed tar archive, add files to it by logical source path,
// close it. Built on the standard library's archive/tar and compress/gzip
// since no archive-format library is available to reach for instead.
package pkgwriter

import (
	"archive/tar"
	"compress/gzip"
	"os"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/fsio"
)

// Writer accumulates entries into a single gzipped tar archive.
type Writer struct {
	f      *os.File
	gz     *gzip.Writer
	tw     *tar.Writer
	closed bool
}

// Open creates (or truncates) path and returns a Writer ready for AddFile
// calls.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Annotate(err, "creating %q", path).Err()
	}
	gz := gzip.NewWriter(f)
	return &Writer{f: f, gz: gz, tw: tar.NewWriter(gz)}, nil
}

// AddFile copies the file named by logicalSrc (resolved through fs) into
// the archive under archiveName, byte-identical to the source.
func (w *Writer) AddFile(fs *fsio.FS, logicalSrc, archiveName string) error {
	b, err := fs.Read(logicalSrc)
	if err != nil {
		return errors.Annotate(err, "reading %q for packaging", logicalSrc).Err()
	}
	hdr := &tar.Header{
		Name: archiveName,
		Mode: 0644,
		Size: int64(len(b)),
	}
	if fi, err := fs.Stat(logicalSrc); err == nil {
		hdr.ModTime = fi.ModTime()
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return errors.Annotate(err, "writing archive header for %q", archiveName).Err()
	}
	if _, err := w.tw.Write(b); err != nil {
		return errors.Annotate(err, "writing archive entry %q", archiveName).Err()
	}
	return nil
}

// Close flushes and closes the archive. Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.tw.Close(); err != nil {
		w.gz.Close()
		w.f.Close()
		return errors.Annotate(err, "closing tar writer").Err()
	}
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return errors.Annotate(err, "closing gzip writer").Err()
	}
	if err := w.f.Close(); err != nil {
		return errors.Annotate(err, "closing package file").Err()
	}
	return nil
}
