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

var cmdPackage = &subcommands.Command{
	UsageLine: "package <source-dir> <output-dir> <archive-path>",
	ShortDesc: "builds a Sphere-v2 game and archives it",
	LongDesc: `Builds a Sphere-v2 game, same as "build", then walks every built
target under <output-dir> plus the emitted manifests and writes them to
<archive-path> as a single archive.
`,
	CommandRun: func() subcommands.CommandRun {
		c := &cmdPackageRun{}
		c.init()
		return c
	},
}

type cmdPackageRun struct {
	commandBase

	sourceDir   string
	outputDir   string
	archivePath string

	rebuild bool
	debug   bool
	defines stringmapflag.Value
}

func (c *cmdPackageRun) init() {
	c.commandBase.init(c.exec, 3, []*string{&c.sourceDir, &c.outputDir, &c.archivePath})
	c.Flags.BoolVar(&c.rebuild, "rebuild", false, "Rebuild every target even if it looks up to date.")
	c.Flags.BoolVar(&c.debug, "debug", false, "Also write sources.json, a source map for debuggers.")
	c.Flags.Var(&c.defines, "define", "Build-time constant to expose as Sphere.Defines, in key=value form. May be repeated.")
}

func (c *cmdPackageRun) exec(ctx context.Context) error {
	result, err := driver.Package(ctx, driver.Options{
		SourceDir:  c.sourceDir,
		OutputDir:  c.outputDir,
		RebuildAll: c.rebuild,
		Debug:      c.debug,
		Defines:    map[string]string(c.defines),
	}, c.archivePath)
	if result != nil {
		logging.Infof(ctx, "build run %s: %d error(s), %d warning(s)", result.BuildRunID, result.NumErrors, result.NumWarns)
	}
	return err
}
