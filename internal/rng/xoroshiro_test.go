// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rng

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRNG(t *testing.T) {
	t.Parallel()

	Convey("the same seed produces the same sequence", t, func() {
		a := FromSeed(12345)
		b := FromSeed(12345)
		for i := 0; i < 10; i++ {
			So(a.NextUint64(), ShouldEqual, b.NextUint64())
		}
	})

	Convey("state can be saved and restored to resume the sequence", t, func() {
		a := FromSeed(42)
		_ = a.NextUint64()
		saved := a.State()

		want := a.NextUint64()
		got := FromState(saved).NextUint64()
		So(got, ShouldEqual, want)
	})

	Convey("NextFloat64 stays in [0, 1)", t, func() {
		r := FromSeed(7)
		for i := 0; i < 100; i++ {
			f := r.NextFloat64()
			So(f, ShouldBeGreaterThanOrEqualTo, 0)
			So(f, ShouldBeLessThan, 1)
		}
	})
}
