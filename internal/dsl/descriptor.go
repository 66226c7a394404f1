// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dsl

import (
	"regexp"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/visor"
)

// Descriptor is the mutable game manifest object scripts populate via
// Sphere.Game.*.
type Descriptor struct {
	Name       string
	Author     string
	Summary    string
	Resolution string // "WxH"
	Main       string // logical path of the runtime entry point
	SaveID     string
}

var resolutionRE = regexp.MustCompile(`^\d+x\d+$`)

// Validate applies the descriptor's defaulting and fatal-error rules.
// exists reports whether a logical path names an existing file (used to
// check Main); resolveUnderOutput reports whether a logical path resolves
// within "@/".
func (d *Descriptor) Validate(v *visor.Visor, exists func(string) bool, resolveUnderOutput func(string) bool) error {
	if d.Name == "" {
		v.Warn("game.json: \"name\" is missing, using a placeholder")
		d.Name = "Untitled"
	}
	if d.Author == "" {
		v.Warn("game.json: \"author\" is missing, using a placeholder")
		d.Author = "Unknown"
	}
	if d.Summary == "" {
		v.Warn("game.json: \"summary\" is missing, using a placeholder")
		d.Summary = "(no description)"
	}
	if !resolutionRE.MatchString(d.Resolution) {
		return errors.Reason(`game.json: "resolution" must match ^\d+x\d+$, got %q`, d.Resolution).Err()
	}
	if d.Main == "" {
		return errors.Reason(`game.json: "main" is required`).Err()
	}
	if !resolveUnderOutput(d.Main) {
		return errors.Reason(`game.json: "main" must resolve within "@/", got %q`, d.Main).Err()
	}
	if !exists(d.Main) {
		return errors.Reason(`game.json: "main" names a file that does not exist: %q`, d.Main).Err()
	}
	return nil
}
