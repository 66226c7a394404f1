// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/flag/stringmapflag"
	"go.chromium.org/luci/common/logging"

	"github.com/sphere-build/cell/internal/driver"
)

var cmdBuild = &subcommands.Command{
	UsageLine: "build <source-dir> <output-dir> [script]",
	ShortDesc: "builds a Sphere-v2 game package from a Cellscript",
	LongDesc: `Builds a Sphere-v2 game package from a Cellscript.

Evaluates the build script (Cellscript.mjs or Cellscript.js by default, or
the given script filename) in the context of <source-dir>, then builds
every target it declares whose output lies under <output-dir>. On success,
writes game.json, game.sgm, and (with -debug) sources.json; on any build
error, those manifests are removed so a broken package is never produced.
`,
	CommandRun: func() subcommands.CommandRun {
		c := &cmdBuildRun{}
		c.init()
		return c
	},
}

type cmdBuildRun struct {
	commandBase

	sourceDir string
	outputDir string
	script    string

	rebuild bool
	debug   bool
	clean   bool
	defines stringmapflag.Value
}

func (c *cmdBuildRun) init() {
	c.commandBase.init(c.exec, 2, []*string{&c.sourceDir, &c.outputDir, &c.script})
	c.Flags.BoolVar(&c.rebuild, "rebuild", false, "Rebuild every target even if it looks up to date.")
	c.Flags.BoolVar(&c.debug, "debug", false, "Also write sources.json, a source map for debuggers.")
	c.Flags.BoolVar(&c.clean, "clean", false, "Run a clean before building, removing the prior build's artifacts first.")
	c.Flags.Var(&c.defines, "define", "Build-time constant to expose as Sphere.Defines, in key=value form. May be repeated.")
}

func (c *cmdBuildRun) exec(ctx context.Context) error {
	if c.clean {
		if err := driver.Clean(ctx, c.outputDir); err != nil {
			logging.Warningf(ctx, "clean before build: %s", err)
		}
	}

	result, err := driver.Build(ctx, driver.Options{
		SourceDir:  c.sourceDir,
		OutputDir:  c.outputDir,
		Script:     c.script,
		RebuildAll: c.rebuild,
		Debug:      c.debug,
		Defines:    map[string]string(c.defines),
	})
	if result != nil {
		logging.Infof(ctx, "build run %s: %d error(s), %d warning(s)", result.BuildRunID, result.NumErrors, result.NumWarns)
	}
	return err
}
