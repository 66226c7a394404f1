// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package visor implements the build diagnostics collaborator: a stack of
// nested operation scopes, error/warning counters, and the artifact list
// persisted across runs. It emits structured log lines the way any
// go.chromium.org/luci/common/logging consumer does, but additionally
// accumulates the user-facing build report across the whole run.
package visor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.chromium.org/luci/common/logging"
)

// Severity distinguishes warnings from errors in the message log.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Message is one reported diagnostic, tagged with the scope stack active
// when it was emitted.
type Message struct {
	Scopes   []string
	Severity Severity
	Text     string
}

// Visor is the nested-operation diagnostics and artifact-tracking
// collaborator.
type Visor struct {
	ctx context.Context

	mu        sync.Mutex
	scopes    []string
	messages  []Message
	numErrors int
	numWarns  int
	artifacts []string
	seen      map[string]bool
}

// New returns a Visor that logs through ctx using go.chromium.org/luci's
// structured logging, the context-carried logger a gologger-configured
// CLI invocation wires up.
func New(ctx context.Context) *Visor {
	return &Visor{ctx: ctx, seen: map[string]bool{}}
}

// BeginOp pushes a new nested operation scope.
func (v *Visor) BeginOp(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scopes = append(v.scopes, fmt.Sprintf(format, args...))
}

// EndOp pops the current operation scope.
func (v *Visor) EndOp() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.scopes) > 0 {
		v.scopes = v.scopes[:len(v.scopes)-1]
	}
}

// scopePrefix renders the active scope stack for a message, e.g.
// `[installing "a.txt"] [transpiling "x.mjs"]`.
func (v *Visor) scopePrefix() string {
	if len(v.scopes) == 0 {
		return ""
	}
	parts := make([]string, len(v.scopes))
	for i, s := range v.scopes {
		parts[i] = "[" + s + "]"
	}
	return strings.Join(parts, " ") + " "
}

// Error records an error message tagged with the current scope stack and
// increments the error counter.
func (v *Visor) Error(format string, args ...interface{}) {
	v.record(SeverityError, format, args...)
}

// Warn records a warning message and increments the warning counter.
func (v *Visor) Warn(format string, args ...interface{}) {
	v.record(SeverityWarning, format, args...)
}

func (v *Visor) record(sev Severity, format string, args ...interface{}) {
	v.mu.Lock()
	text := fmt.Sprintf(format, args...)
	msg := Message{Scopes: append([]string(nil), v.scopes...), Severity: sev, Text: text}
	v.messages = append(v.messages, msg)
	if sev == SeverityError {
		v.numErrors++
	} else {
		v.numWarns++
	}
	v.mu.Unlock()

	line := v.scopePrefix() + text
	if sev == SeverityError {
		logging.Errorf(v.ctx, "%s", line)
	} else {
		logging.Warningf(v.ctx, "%s", line)
	}
}

// Print emits an informational line, not counted as an error or warning.
func (v *Visor) Print(format string, args ...interface{}) {
	logging.Infof(v.ctx, "%s%s", v.scopePrefix(), fmt.Sprintf(format, args...))
}

// NumErrors returns the total error count so far.
func (v *Visor) NumErrors() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.numErrors
}

// NumWarns returns the total warning count so far.
func (v *Visor) NumWarns() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.numWarns
}

// Messages returns a copy of every message recorded so far.
func (v *Visor) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Message(nil), v.messages...)
}

// AddArtifact records an output-root-relative path as produced or
// confirmed during this run. Safe to call more than once for the same
// path.
func (v *Visor) AddArtifact(outputRelative string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen[outputRelative] {
		return
	}
	v.seen[outputRelative] = true
	v.artifacts = append(v.artifacts, outputRelative)
}

// Filenames returns the artifact list accumulated so far, matching the
// Visor collaborator contract.
func (v *Visor) Filenames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.artifacts...)
}
