// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cellignore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/spherefs"
)

func newTestFS(t *testing.T) *fsio.FS {
	tmp, err := ioutil.TempDir("", "cellignore_test")
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

func TestCellIgnore(t *testing.T) {
	t.Parallel()

	Convey("missing .cellignore excludes nothing", t, func() {
		fs := newTestFS(t)
		m, err := Load(fs)
		So(err, ShouldBeNil)
		So(m.Match("build/tmp.o", false), ShouldBeFalse)
	})

	Convey("a file pattern excludes matching files", t, func() {
		fs := newTestFS(t)
		So(fs.Write("$/.cellignore", []byte("*.o\n# comment\n\nbuild/\n")), ShouldBeNil)
		m, err := Load(fs)
		So(err, ShouldBeNil)

		So(m.Match("foo.o", false), ShouldBeTrue)
		So(m.Match("foo.js", false), ShouldBeFalse)
		So(m.Match("build", true), ShouldBeTrue)
	})

	Convey("nil Matcher excludes nothing", t, func() {
		var m *Matcher
		So(m.Match("anything", false), ShouldBeFalse)
	})
}
