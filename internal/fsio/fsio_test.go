// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fsio

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sphere-build/cell/internal/spherefs"
)

func newTestFS(t *testing.T) (*FS, string) {
	tmp, err := ioutil.TempDir("", "fsio_test")
	So(err, ShouldBeNil)
	Reset(func() { os.RemoveAll(tmp) })

	src := filepath.Join(tmp, "src")
	out := filepath.Join(tmp, "out")
	So(os.MkdirAll(src, 0755), ShouldBeNil)
	So(os.MkdirAll(out, 0755), ShouldBeNil)

	sphere, err := spherefs.New(spherefs.Config{SourceRoot: src, OutputRoot: out})
	So(err, ShouldBeNil)
	return New(sphere), tmp
}

func TestFSIO(t *testing.T) {
	t.Parallel()

	Convey("Write then Read round-trips", t, func() {
		fs, _ := newTestFS(t)
		So(fs.Write("$/a/b.txt", []byte("hello")), ShouldBeNil)
		b, err := fs.Read("$/a/b.txt")
		So(err, ShouldBeNil)
		So(string(b), ShouldEqual, "hello")
	})

	Convey("Copy is byte-for-byte and creates intermediate directories", t, func() {
		fs, _ := newTestFS(t)
		So(fs.Write("$/src.txt", []byte("payload")), ShouldBeNil)
		So(fs.Copy("$/src.txt", "@/deep/dir/dst.txt", true), ShouldBeNil)
		b, err := fs.Read("@/deep/dir/dst.txt")
		So(err, ShouldBeNil)
		So(string(b), ShouldEqual, "payload")
	})

	Convey("Copy without overwrite fails if destination exists", t, func() {
		fs, _ := newTestFS(t)
		So(fs.Write("$/src.txt", []byte("a")), ShouldBeNil)
		So(fs.Write("@/dst.txt", []byte("b")), ShouldBeNil)
		err := fs.Copy("$/src.txt", "@/dst.txt", false)
		So(err, ShouldNotBeNil)
	})

	Convey("Exists reflects the real filesystem", t, func() {
		fs, _ := newTestFS(t)
		So(fs.Exists("$/nope.txt"), ShouldBeFalse)
		So(fs.Write("$/nope.txt", nil), ShouldBeNil)
		So(fs.Exists("$/nope.txt"), ShouldBeTrue)
	})

	Convey("Unlink is idempotent on missing files", t, func() {
		fs, _ := newTestFS(t)
		So(fs.Unlink("$/missing.txt"), ShouldBeNil)
	})
}
