// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"github.com/maruel/subcommands"

	"github.com/sphere-build/cell/internal/driver"
)

var cmdClean = &subcommands.Command{
	UsageLine: "clean <output-dir>",
	ShortDesc: "removes a previous build's artifacts",
	LongDesc: `Removes every file named in <output-dir>/artifacts.json, then removes
artifacts.json itself.
`,
	CommandRun: func() subcommands.CommandRun {
		c := &cmdCleanRun{}
		c.init()
		return c
	},
}

type cmdCleanRun struct {
	commandBase

	outputDir string
}

func (c *cmdCleanRun) init() {
	c.commandBase.init(c.exec, 1, []*string{&c.outputDir})
}

func (c *cmdCleanRun) exec(ctx context.Context) error {
	return driver.Clean(ctx, c.outputDir)
}
