// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.chromium.org/luci/common/errors"
)

func TestHandleErr(t *testing.T) {
	t.Parallel()

	Convey("nil error exits 0", t, func() {
		So(handleErr(context.Background(), nil), ShouldEqual, 0)
	})

	Convey("a canceled context exits 4", t, func() {
		err := errors.Annotate(context.Canceled, "waiting for build").Err()
		So(handleErr(context.Background(), err), ShouldEqual, 4)
	})

	Convey("a CLI usage error exits 2", t, func() {
		So(handleErr(context.Background(), errBadFlag("-define", "missing '='")), ShouldEqual, 2)
	})

	Convey("any other error exits 1", t, func() {
		So(handleErr(context.Background(), errors.Reason("build failed").Err()), ShouldEqual, 1)
	})
}
