// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command cell is the Sphere-v2 build and packaging compiler: it evaluates
// a Cellscript against a source tree and produces a playable game package
// under an output directory.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"
)

func main() {
	app := &cli.Application{
		Name:  "cell",
		Title: "Sphere-v2 build and packaging compiler",
		Context: func(ctx context.Context) context.Context {
			return gologger.StdConfig.Use(ctx)
		},
		Commands: []*subcommands.Command{
			cmdBuild,
			cmdPackage,
			cmdClean,
			subcommands.CmdHelp,
		},
	}
	os.Exit(subcommands.Run(app, nil))
}
