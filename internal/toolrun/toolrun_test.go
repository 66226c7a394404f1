// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package toolrun

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/jsbridge"
	"github.com/sphere-build/cell/internal/spherefs"
	"github.com/sphere-build/cell/internal/visor"
)

func TestJSTool(t *testing.T) {
	t.Parallel()

	Convey("With a sandboxed FS and bridge", t, func() {
		tmp, err := ioutil.TempDir("", "toolrun_test")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tmp) })

		src := filepath.Join(tmp, "src")
		out := filepath.Join(tmp, "out")
		So(os.MkdirAll(src, 0755), ShouldBeNil)
		So(os.MkdirAll(out, 0755), ShouldBeNil)

		sphere, err := spherefs.New(spherefs.Config{SourceRoot: src, OutputRoot: out})
		So(err, ShouldBeNil)
		fs := fsio.New(sphere)
		bridge := jsbridge.New()
		v := visor.New(context.Background())

		Convey("a no-op callback still ensures the parent directory exists", func() {
			vm := bridge.Runtime()
			val, err := vm.RunString(`(function(outPath, inPaths) {})`)
			So(err, ShouldBeNil)
			cb, ok := goja.AssertFunction(val)
			So(ok, ShouldBeTrue)

			jt := &JSTool{Bridge: bridge, Callback: cb}
			So(jt.Invoke(context.Background(), v, fs, "@/nested/out.txt", nil), ShouldBeNil)
			So(fs.Exists("@/nested"), ShouldBeTrue)
		})

		Convey("a throwing callback surfaces as an error", func() {
			vm := bridge.Runtime()
			val, err := vm.RunString(`(function() { throw new Error("boom"); })`)
			So(err, ShouldBeNil)
			cb, ok := goja.AssertFunction(val)
			So(ok, ShouldBeTrue)

			jt := &JSTool{Bridge: bridge, Callback: cb}
			err = jt.Invoke(context.Background(), v, fs, "@/out.txt", nil)
			So(err, ShouldNotBeNil)
		})
	})
}
