// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package graph

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/spherefs"
	"github.com/sphere-build/cell/internal/visor"
)

type fakeTool struct {
	invoked int
	write   []byte
	fail    bool
}

func (f *fakeTool) Invoke(ctx context.Context, v *visor.Visor, fs *fsio.FS, outPath string, inPaths []string) error {
	f.invoked++
	if f.fail {
		return errFake
	}
	if f.write == nil {
		return nil
	}
	return fs.Write(outPath, f.write)
}

var errFake = &testErr{"fake tool failure"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func newTestEnv(t *testing.T) (*fsio.FS, *visor.Visor) {
	tmp, err := ioutil.TempDir("", "graph_test")
	So(err, ShouldBeNil)
	Reset(func() { os.RemoveAll(tmp) })

	src := filepath.Join(tmp, "src")
	out := filepath.Join(tmp, "out")
	So(os.MkdirAll(src, 0755), ShouldBeNil)
	So(os.MkdirAll(out, 0755), ShouldBeNil)

	sphere, err := spherefs.New(spherefs.Config{SourceRoot: src, OutputRoot: out})
	So(err, ShouldBeNil)
	return fsio.New(sphere), visor.New(context.Background())
}

func TestConflictDetection(t *testing.T) {
	t.Parallel()

	Convey("duplicate output paths are reported exactly once each", t, func() {
		g := &Graph{}
		g.Add(NewTarget("a", "@/x.txt", nil, nil))
		g.Add(NewTarget("b", "@/x.txt", nil, nil))
		g.Add(NewTarget("c", "@/y.txt", nil, nil))
		g.Add(NewTarget("d", "@/y.txt", nil, nil))
		g.Add(NewTarget("e", "@/y.txt", nil, nil))

		err := g.DetectConflicts()
		So(err, ShouldNotBeNil)
		ce := err.(*ConflictError)
		So(ce.Groups, ShouldResemble, map[string]int{"@/x.txt": 2, "@/y.txt": 3})
	})

	Convey("no conflicts when all output paths are distinct", t, func() {
		g := &Graph{}
		g.Add(NewTarget("a", "@/x.txt", nil, nil))
		g.Add(NewTarget("b", "@/y.txt", nil, nil))
		So(g.DetectConflicts(), ShouldBeNil)
	})
}

func TestBuild(t *testing.T) {
	t.Parallel()

	Convey("a leaf target with a missing file fails", t, func() {
		fs, v := newTestEnv(t)
		b := &Builder{FS: fs, Visor: v}
		leaf := NewTarget("missing", "$/missing.txt", nil, nil)

		So(b.Build(context.Background(), leaf, false), ShouldBeNil)
		So(leaf.Failed(), ShouldBeTrue)
		So(v.NumErrors(), ShouldEqual, 1)
	})

	Convey("a tool target builds once and is memoized", t, func() {
		fs, v := newTestEnv(t)
		So(fs.Write("$/src.txt", []byte("A")), ShouldBeNil)
		b := &Builder{FS: fs, Visor: v}

		leaf := NewTarget("src.txt", "$/src.txt", nil, nil)
		tool := &fakeTool{write: []byte("A")}
		out := NewTarget("out.txt", "@/out.txt", NewTool("installing", tool), []*Target{leaf})

		So(b.Build(context.Background(), out, false), ShouldBeNil)
		So(out.Built, ShouldBeTrue)
		So(tool.invoked, ShouldEqual, 1)

		// Rebuilding without rebuildAll should be a no-op (memoized via Built).
		So(b.Build(context.Background(), out, false), ShouldBeNil)
		So(tool.invoked, ShouldEqual, 1)
	})

	Convey("a tool that writes nothing fails with 'not found after build'", t, func() {
		fs, v := newTestEnv(t)
		So(fs.Write("$/src.txt", []byte("A")), ShouldBeNil)
		b := &Builder{FS: fs, Visor: v}

		leaf := NewTarget("src.txt", "$/src.txt", nil, nil)
		tool := &fakeTool{} // writes nothing
		out := NewTarget("out.bin", "@/out.bin", NewTool("building", tool), []*Target{leaf})

		So(b.Build(context.Background(), out, false), ShouldBeNil)
		So(out.Failed(), ShouldBeTrue)
		So(fs.Exists("@/out.bin"), ShouldBeFalse)
	})

	Convey("a failing tool deletes any partial output", t, func() {
		fs, v := newTestEnv(t)
		So(fs.Write("$/src.txt", []byte("A")), ShouldBeNil)
		So(fs.Write("@/out.txt", []byte("stale")), ShouldBeNil)
		b := &Builder{FS: fs, Visor: v}

		leaf := NewTarget("src.txt", "$/src.txt", nil, nil)
		tool := &fakeTool{fail: true}
		out := NewTarget("out.txt", "@/out.txt", NewTool("installing", tool), []*Target{leaf})

		// The stale output is newer than its source, so force the tool to run.
		So(b.Build(context.Background(), out, true), ShouldBeNil)
		So(out.Failed(), ShouldBeTrue)
		So(fs.Exists("@/out.txt"), ShouldBeFalse)
	})
}
