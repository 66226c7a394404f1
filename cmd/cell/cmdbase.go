// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"
)

// execCb executes a subcommand's work, after flags and positional
// arguments have been parsed.
type execCb func(ctx context.Context) error

// commandBase defines flags and positional-argument handling shared by
// every cell subcommand.
type commandBase struct {
	subcommands.CommandRunBase

	exec    execCb
	minArgs int
	posArgs []*string // length is the max number of positional arguments

	logConfig logging.Config // -log-level
}

// init registers flags common to every subcommand. minArgs may be less
// than len(posArgs) to allow trailing optional positionals (e.g. cell
// build's optional script filename).
func (c *commandBase) init(exec execCb, minArgs int, posArgs []*string) {
	c.exec = exec
	c.minArgs = minArgs
	c.posArgs = posArgs

	c.logConfig.Level = logging.Info
	c.logConfig.AddFlags(&c.Flags)
}

// ModifyContext implements cli.ContextModificator.
func (c *commandBase) ModifyContext(ctx context.Context) context.Context {
	return c.logConfig.Set(ctx)
}

// Run implements subcommands.CommandRun.
func (c *commandBase) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)

	if len(args) < c.minArgs || len(args) > len(c.posArgs) {
		return handleErr(ctx, errors.Reason(
			"expected %d to %d positional argument(s), got %d", c.minArgs, len(c.posArgs), len(args)).Tag(isCLIError).Err())
	}
	for i, arg := range args {
		*c.posArgs[i] = arg
	}

	ctx, cancel := context.WithCancel(ctx)
	signals.HandleInterrupt(cancel)

	if err := c.exec(ctx); err != nil {
		return handleErr(ctx, err)
	}
	return 0
}

// isCLIError tags errors caused by bad CLI invocation rather than a build
// failure, so handleErr can report them without a stack trace.
var isCLIError = errors.BoolTag{Key: errors.NewTagKey("bad CLI invocation")}

func errBadFlag(flag, msg string) error {
	return errors.Reason("bad %q: %s", flag, msg).Tag(isCLIError).Err()
}

// handleErr prints err appropriately and returns the process exit code.
func handleErr(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Contains(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 4
	case isCLIError.In(err):
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		return 2
	default:
		logging.Errorf(ctx, "%s", err)
		logging.Errorf(ctx, "Full context:")
		errors.Log(ctx, err)
		return 1
	}
}
