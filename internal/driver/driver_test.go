// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package driver

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/testing/assertions"
)

const minimalScript = `
Sphere.Game.Name = "Demo";
Sphere.Game.Author = "Tester";
Sphere.Game.Summary = "a test game";
Sphere.Game.Resolution = "320x240";

var src = files("main.js")[0];
var out = install("scripts", src)[0];
Sphere.Game.Main = out.OutputPath;
`

func newTestDirs(t *testing.T) (src, out string) {
	tmp, err := ioutil.TempDir("", "driver_test")
	So(err, ShouldBeNil)
	Reset(func() { os.RemoveAll(tmp) })

	src = filepath.Join(tmp, "src")
	out = filepath.Join(tmp, "out")
	So(os.MkdirAll(src, 0755), ShouldBeNil)
	So(os.MkdirAll(out, 0755), ShouldBeNil)
	return src, out
}

func writeScript(t *testing.T, srcDir, body string) {
	So(ioutil.WriteFile(filepath.Join(srcDir, "Cellscript.js"), []byte(body), 0644), ShouldBeNil)
	So(ioutil.WriteFile(filepath.Join(srcDir, "main.js"), []byte("print('hi');"), 0644), ShouldBeNil)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	Convey("a minimal script produces game.json, game.sgm and artifacts.json", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		result, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldBeNil)
		So(result.NumErrors, ShouldEqual, 0)

		b, err := ioutil.ReadFile(filepath.Join(out, "game.json"))
		So(err, ShouldBeNil)
		var manifest map[string]interface{}
		So(json.Unmarshal(b, &manifest), ShouldBeNil)
		So(manifest["name"], ShouldEqual, "Demo")

		_, err = os.Stat(filepath.Join(out, "game.sgm"))
		So(err, ShouldBeNil)
		_, err = os.Stat(filepath.Join(out, "scripts", "main.js"))
		So(err, ShouldBeNil)

		artifacts, err := ioutil.ReadFile(filepath.Join(out, "artifacts.json"))
		So(err, ShouldBeNil)
		var list []string
		So(json.Unmarshal(artifacts, &list), ShouldBeNil)
		So(list, ShouldContain, "game.json")
		So(list, ShouldContain, "game.sgm")
	})

	Convey("-debug also writes sources.json", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		result, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out, Debug: true})
		So(err, ShouldBeNil)
		So(result.NumErrors, ShouldEqual, 0)

		_, err = os.Stat(filepath.Join(out, "sources.json"))
		So(err, ShouldBeNil)
	})

	Convey("a script error leaves no game.json or game.sgm behind", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, `error("something went wrong");`)

		result, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldNotBeNil)
		So(result.NumErrors, ShouldBeGreaterThan, 0)

		_, err = os.Stat(filepath.Join(out, "game.json"))
		So(os.IsNotExist(err), ShouldBeTrue)
	})

	Convey("two targets claiming the same output path is reported as a conflict", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, `
var a = files("main.js")[0];
install("scripts", a);
install("scripts", a);
`)
		_, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldNotBeNil)
	})

	Convey("rebuilding without -rebuild leaves an up-to-date target alone", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		_, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldBeNil)

		before, err := os.Stat(filepath.Join(out, "scripts", "main.js"))
		So(err, ShouldBeNil)

		_, err = Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldBeNil)

		after, err := os.Stat(filepath.Join(out, "scripts", "main.js"))
		So(err, ShouldBeNil)
		So(after.ModTime(), ShouldEqual, before.ModTime())
	})

	Convey("a missing build script is reported before any JS executes", t, func() {
		src, out := newTestDirs(t)
		_, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, assertions.ShouldErrLike, "no build script found")
	})

	Convey("Duration is measured through the context clock, not wall time", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		tc := testclock.New(testclock.TestRecentTimeUTC)
		ctx := clock.Set(context.Background(), tc)

		result, err := Build(ctx, Options{SourceDir: src, OutputDir: out})
		So(err, ShouldBeNil)
		So(result.Duration, ShouldEqual, 0)
	})
}

func TestClean(t *testing.T) {
	t.Parallel()

	Convey("Clean removes every listed artifact and the ledger itself", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		_, err := Build(context.Background(), Options{SourceDir: src, OutputDir: out})
		So(err, ShouldBeNil)

		So(Clean(context.Background(), out), ShouldBeNil)

		_, err = os.Stat(filepath.Join(out, "game.json"))
		So(os.IsNotExist(err), ShouldBeTrue)
		_, err = os.Stat(filepath.Join(out, "artifacts.json"))
		So(os.IsNotExist(err), ShouldBeTrue)
	})
}

func TestPackage(t *testing.T) {
	t.Parallel()

	Convey("Package builds then archives every subfile target plus the manifests", t, func() {
		src, out := newTestDirs(t)
		writeScript(t, src, minimalScript)

		archivePath := filepath.Join(out, "..", "game.cell")
		result, err := Package(context.Background(), Options{SourceDir: src, OutputDir: out}, archivePath)
		So(err, ShouldBeNil)
		So(result.NumErrors, ShouldEqual, 0)

		_, err = os.Stat(archivePath)
		So(err, ShouldBeNil)
	})
}
