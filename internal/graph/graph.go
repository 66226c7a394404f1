// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package graph implements the incremental target graph: Target and Tool
// entities, staleness determination, conflict detection, and build order.
// Each Target delegates its build step to its Tool; a single target's
// build failure is recorded and the rest of the graph keeps building, but
// a conflict or context cancellation aborts the whole run.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/visor"
)

// ToolCallback is implemented by whatever bridges a Tool to its JS
// callback (internal/toolrun). Kept engine-agnostic so graph never
// imports jsbridge, matching the "tool invocation is a separate concern
// from the graph" split.
type ToolCallback interface {
	Invoke(ctx context.Context, v *visor.Visor, fs *fsio.FS, outPath string, inPaths []string) error
}

// Tool is a named, reference-counted, reusable build action.
type Tool struct {
	Verb     string // e.g. "installing", "transpiling"
	Callback ToolCallback

	refs int
}

// NewTool wraps a callback as a Tool with an initial reference count of 1.
func NewTool(verb string, cb ToolCallback) *Tool {
	if verb == "" {
		verb = "building"
	}
	return &Tool{Verb: verb, Callback: cb, refs: 1}
}

// Ref increments the tool's reference count; callers take a ref whenever
// they stash a *Tool beyond the call that produced it.
func (t *Tool) Ref() *Tool { t.refs++; return t }

// Unref decrements the tool's reference count.
func (t *Tool) Unref() { t.refs-- }

// Target is one node in the build DAG: a logical output path, how to
// produce it (Tool, nil for a leaf), and its upstream sources.
type Target struct {
	Name           string // logical path, for display and default source key
	OutputPath     string // logical path; always under "@/" for built targets
	Tool           *Tool  // nil means a leaf / pre-existing file
	Sources        []*Target
	TimestampFloor time.Time // mtime of the script that produced this target
	Built          bool
	Subfile        bool // whether this target contributes to the packaged archive

	failed bool
	refs   int
}

// NewTarget constructs a Target with an initial reference count of 1.
func NewTarget(name, outputPath string, tool *Tool, sources []*Target) *Target {
	return &Target{Name: name, OutputPath: outputPath, Tool: tool, Sources: sources, refs: 1}
}

// Ref increments the target's reference count.
func (t *Target) Ref() *Target { t.refs++; return t }

// Unref decrements the target's reference count.
func (t *Target) Unref() { t.refs-- }

// Graph owns the build state's target list in construction order.
type Graph struct {
	Targets []*Target
}

// Add appends t to the target list, preserving DSL-call order, which
// display and conflict-message tie-breaking rely on.
func (g *Graph) Add(t *Target) { g.Targets = append(g.Targets, t) }

// ConflictError reports N-way output-path collisions.
type ConflictError struct {
	Groups map[string]int // output path -> number of targets producing it
}

func (e *ConflictError) Error() string {
	var msgs []string
	for path, n := range e.Groups {
		msgs = append(msgs, fmt.Sprintf("%d-way conflict %q", n, path))
	}
	sort.Strings(msgs)
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

// DetectConflicts sorts a shallow copy of the target list by output path
// and reports every distinct output path produced by two or more targets,
// so every distinct collision is reported, not just the first pair.
func (g *Graph) DetectConflicts() error {
	sorted := make([]*Target, len(g.Targets))
	copy(sorted, g.Targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OutputPath < sorted[j].OutputPath })

	groups := map[string]int{}
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].OutputPath == sorted[i].OutputPath {
			j++
		}
		if j-i > 1 {
			groups[sorted[i].OutputPath] = j - i
		}
		i = j
	}
	if len(groups) == 0 {
		return nil
	}
	return &ConflictError{Groups: groups}
}

// Builder drives Build across a graph's targets.
type Builder struct {
	FS    *fsio.FS
	Visor *visor.Visor
}

// BuildAll builds every target in the graph whose output path lies under
// "@/"; targets outside "@/" are inputs.
func (b *Builder) BuildAll(ctx context.Context, g *Graph, rebuildAll bool) error {
	for _, t := range g.Targets {
		if !underOutputRoot(t.OutputPath) {
			continue
		}
		if err := b.Build(ctx, t, rebuildAll); err != nil {
			return err
		}
	}
	return nil
}

func underOutputRoot(logical string) bool {
	return len(logical) >= 2 && logical[0] == '@' && logical[1] == '/'
}

// Build recursively builds t and its sources, memoizing on t.Built. It
// never returns an error for a single target's build failure — failures
// are recorded on the visor and as t.failed, so one failing target does
// not abort the whole build. Build itself returns an error only for
// conditions that must abort the whole run: at present, cancellation of
// ctx.
func (b *Builder) Build(ctx context.Context, t *Target, rebuildAll bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Built {
		return nil
	}

	for _, src := range t.Sources {
		if err := b.Build(ctx, src, rebuildAll); err != nil {
			return err
		}
		if src.failed {
			t.failed = true
			return nil
		}
	}

	inputMTime := t.TimestampFloor
	for _, src := range t.Sources {
		if m := b.FS.ModTime(src.OutputPath); m.After(inputMTime) {
			inputMTime = m
		}
	}

	outMTime := b.FS.ModTime(t.OutputPath)
	outExists := b.FS.Exists(t.OutputPath)

	if !rebuildAll && outExists && !outMTime.Before(inputMTime) {
		t.Built = true
		if underOutputRoot(t.OutputPath) {
			b.Visor.AddArtifact(stripOutputPrefix(t.OutputPath))
		}
		return nil
	}

	if t.Tool == nil {
		if !outExists {
			b.Visor.Error("input target %q is missing: %s", t.Name, t.OutputPath)
			t.failed = true
			return nil
		}
		t.Built = true
		if underOutputRoot(t.OutputPath) {
			b.Visor.AddArtifact(stripOutputPrefix(t.OutputPath))
		}
		return nil
	}

	b.Visor.BeginOp("%s %q", t.Tool.Verb, t.Name)
	defer b.Visor.EndOp()

	inPaths := make([]string, len(t.Sources))
	for i, src := range t.Sources {
		inPaths[i] = src.OutputPath
	}

	errsBefore := b.Visor.NumErrors()
	err := t.Tool.Callback.Invoke(ctx, b.Visor, b.FS, t.OutputPath, inPaths)
	switch {
	case err != nil:
		b.Visor.Error("%s", err)
		b.FS.Unlink(t.OutputPath)
		t.failed = true
		return nil
	case b.Visor.NumErrors() > errsBefore:
		b.FS.Unlink(t.OutputPath)
		t.failed = true
		return nil
	}

	if !b.FS.Exists(t.OutputPath) {
		b.Visor.Error("target file not found after build: %s", t.OutputPath)
		t.failed = true
		return nil
	}
	newOutMTime := b.FS.ModTime(t.OutputPath)
	if outExists && newOutMTime.Equal(outMTime) {
		b.Visor.Warn("target file unchanged after build: %s", t.OutputPath)
	}

	t.Built = true
	b.Visor.AddArtifact(stripOutputPrefix(t.OutputPath))
	return nil
}

// Failed reports whether t (or any of its transitive sources) failed to
// build during the most recent Build call.
func (t *Target) Failed() bool { return t.failed }

func stripOutputPrefix(logical string) string {
	if underOutputRoot(logical) {
		return logical[2:]
	}
	return logical
}

// ConflictsErrorTag marks a DetectConflicts error as it crosses into the
// driver, so callers further up can test "was this a conflict" via
// ConflictsErrorTag.In without re-examining the error chain.
var ConflictsErrorTag = errors.BoolTag{Key: errors.NewTagKey("target graph conflict")}

// OutputPathsSet returns the stringset.Set of every target's output path.
func OutputPathsSet(g *Graph) stringset.Set {
	s := stringset.New(len(g.Targets))
	for _, t := range g.Targets {
		s.Add(t.OutputPath)
	}
	return s
}
