// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package visor

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVisor(t *testing.T) {
	t.Parallel()

	Convey("Nested scopes tag messages", t, func() {
		v := New(context.Background())
		v.BeginOp("installing %q", "a.txt")
		v.Error("boom")
		v.EndOp()

		So(v.NumErrors(), ShouldEqual, 1)
		msgs := v.Messages()
		So(msgs, ShouldHaveLength, 1)
		So(msgs[0].Scopes, ShouldResemble, []string{`installing "a.txt"`})
	})

	Convey("Warnings and errors count independently", t, func() {
		v := New(context.Background())
		v.Warn("careful")
		v.Warn("careful again")
		v.Error("nope")
		So(v.NumWarns(), ShouldEqual, 2)
		So(v.NumErrors(), ShouldEqual, 1)
	})

	Convey("Artifact list de-duplicates", t, func() {
		v := New(context.Background())
		v.AddArtifact("a.txt")
		v.AddArtifact("b.txt")
		v.AddArtifact("a.txt")
		So(v.Filenames(), ShouldResemble, []string{"a.txt", "b.txt"})
	})
}
