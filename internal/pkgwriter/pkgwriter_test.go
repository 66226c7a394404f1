// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pkgwriter

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/spherefs"
)

func newTestFS(t *testing.T) *fsio.FS {
	tmp, err := ioutil.TempDir("", "pkgwriter_test")
	So(err, ShouldBeNil)
	Reset(func() { os.RemoveAll(tmp) })

	src := filepath.Join(tmp, "src")
	out := filepath.Join(tmp, "out")
	So(os.MkdirAll(src, 0755), ShouldBeNil)
	So(os.MkdirAll(out, 0755), ShouldBeNil)

	sphere, err := spherefs.New(spherefs.Config{SourceRoot: src, OutputRoot: out})
	So(err, ShouldBeNil)
	return fsio.New(sphere)
}

func readEntries(t *testing.T, path string) map[string]string {
	f, err := os.Open(path)
	So(err, ShouldBeNil)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	So(err, ShouldBeNil)
	tr := tar.NewReader(gz)

	out := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		So(err, ShouldBeNil)
		b, err := ioutil.ReadAll(tr)
		So(err, ShouldBeNil)
		out[hdr.Name] = string(b)
	}
	return out
}

func TestPkgWriter(t *testing.T) {
	t.Parallel()

	Convey("AddFile writes readable gzip+tar entries", t, func() {
		fs := newTestFS(t)
		So(fs.Write("@/game.json", []byte(`{"name":"demo"}`)), ShouldBeNil)
		So(fs.Write("@/scripts/main.js", []byte("print('hi');")), ShouldBeNil)

		tmp, err := ioutil.TempDir("", "pkgwriter_out")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tmp) })
		archivePath := filepath.Join(tmp, "game.cell")

		w, err := Open(archivePath)
		So(err, ShouldBeNil)
		So(w.AddFile(fs, "@/game.json", "game.json"), ShouldBeNil)
		So(w.AddFile(fs, "@/scripts/main.js", "scripts/main.js"), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		entries := readEntries(t, archivePath)
		So(entries["game.json"], ShouldEqual, `{"name":"demo"}`)
		So(entries["scripts/main.js"], ShouldEqual, "print('hi');")
	})

	Convey("Close is idempotent", t, func() {
		tmp, err := ioutil.TempDir("", "pkgwriter_close")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tmp) })

		w, err := Open(filepath.Join(tmp, "a.cell"))
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)
		So(w.Close(), ShouldBeNil)
	})

	Convey("AddFile on a missing source returns an error", t, func() {
		fs := newTestFS(t)
		tmp, err := ioutil.TempDir("", "pkgwriter_missing")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tmp) })

		w, err := Open(filepath.Join(tmp, "a.cell"))
		So(err, ShouldBeNil)
		defer w.Close()

		err = w.AddFile(fs, "@/nope.txt", "nope.txt")
		So(err, ShouldNotBeNil)
	})
}
