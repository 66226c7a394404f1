// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package driver implements the top-level build orchestration: the single
// entry point that wires sandbox, engine, loader, and graph together for
// one invocation of a Cellscript and returns a summary of the build.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/cellignore"
	"github.com/sphere-build/cell/internal/cellpath"
	"github.com/sphere-build/cell/internal/cjsloader"
	"github.com/sphere-build/cell/internal/dsl"
	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/graph"
	"github.com/sphere-build/cell/internal/jsbridge"
	"github.com/sphere-build/cell/internal/pkgwriter"
	"github.com/sphere-build/cell/internal/spherefs"
	"github.com/sphere-build/cell/internal/visor"
)

// defaultScripts are tried in order when Options.Script is empty.
var defaultScripts = []string{"Cellscript.mjs", "Cellscript.js"}

// Options configures one driver invocation.
type Options struct {
	SourceDir  string
	OutputDir  string
	SystemDir  string // backs "#/"; empty disables "#/"
	UserDir    string // backs "~/"; empty disables "~/"
	Script     string // logical filename under "$/"; empty means try defaultScripts
	RebuildAll bool
	Debug      bool
	Defines    map[string]string
}

// Result summarizes one build for the CLI's build-summary line.
type Result struct {
	NumErrors   int
	NumWarns    int
	NumBuilt    int
	BuildRunID  string
	Duration    time.Duration
	Descriptor  *dsl.Descriptor
}

// Build instantiates the sandbox, engine, and graph; evaluates the build
// script; builds every output-rooted target; and writes the manifests and
// artifact ledger. When the build runs to the end with errors
// (NumErrors > 0), it returns both the Result, so callers can render a
// summary, and a non-nil error. Conditions that abort before the manifest
// bookkeeping (bad options, missing or failing script, conflicts) return
// a nil Result and the error.
func Build(ctx context.Context, opts Options) (*Result, error) {
	started := clock.Now(ctx)

	sphere, err := spherefs.New(spherefs.Config{
		SourceRoot: opts.SourceDir,
		OutputRoot: opts.OutputDir,
		SystemRoot: opts.SystemDir,
		UserRoot:   opts.UserDir,
	})
	if err != nil {
		return nil, errors.Annotate(err, "configuring sandbox").Err()
	}
	fs := fsio.New(sphere)
	v := visor.New(ctx)
	bridge := jsbridge.New()

	scriptLogical, err := resolveScript(fs, opts.Script)
	if err != nil {
		return nil, err
	}
	scriptMTime := fs.ModTime(scriptLogical)

	loader := cjsloader.New(bridge, fs, []string{"$/", "#/cell_modules"})

	g := &graph.Graph{}
	installTool := graph.NewTool("installing", installToolCallback{})

	ignore, err := cellignore.Load(fs)
	if err != nil {
		return nil, errors.Annotate(err, "loading .cellignore").Err()
	}

	env := &dsl.Env{
		Bridge:      bridge,
		FS:          fs,
		Visor:       v,
		Graph:       g,
		InstallTool: installTool,
		ScriptMTime: scriptMTime,
		Defines:     opts.Defines,
		Ignore:      ignore,
	}
	if err := dsl.Install(env); err != nil {
		return nil, errors.Annotate(err, "installing script bindings").Err()
	}

	priorArtifacts, _ := loadArtifacts(fs)

	if err := loader.LoadEntry(scriptLogical); err != nil {
		return nil, errors.Annotate(err, "evaluating %q", scriptLogical).Err()
	}

	if cerr := g.DetectConflicts(); cerr != nil {
		return nil, errors.Annotate(cerr, "conflict detected").Tag(graph.ConflictsErrorTag).Err()
	}

	builder := &graph.Builder{FS: fs, Visor: v}
	if err := builder.BuildAll(ctx, g, opts.RebuildAll); err != nil {
		return nil, errors.Annotate(err, "build aborted").Err()
	}

	descriptor := dsl.GameDescriptor(env)
	runID := uuid.New().String()

	result := &Result{
		NumErrors:  v.NumErrors(),
		NumWarns:   v.NumWarns(),
		BuildRunID: runID,
		Descriptor: descriptor,
	}

	if v.NumErrors() == 0 {
		if derr := descriptor.Validate(v, fs.Exists, underOutput); derr != nil {
			v.Error("%s", derr)
			result.NumErrors = v.NumErrors()
		}
	}

	newArtifacts := v.Filenames()
	if result.NumErrors == 0 {
		pruneStaleArtifacts(fs, priorArtifacts, newArtifacts)

		mainRelScripts := relativeToScriptsDir(descriptor.Main)
		if err := writeGameJSON(fs, descriptor); err != nil {
			return nil, errors.Annotate(err, "writing game.json").Err()
		}
		if err := writeGameSGM(fs, descriptor, mainRelScripts); err != nil {
			return nil, errors.Annotate(err, "writing game.sgm").Err()
		}
		newArtifacts = appendUnique(newArtifacts, "game.json", "game.sgm")
		if opts.Debug {
			if err := writeSourcesJSON(fs, g, runID); err != nil {
				return nil, errors.Annotate(err, "writing sources.json").Err()
			}
			newArtifacts = appendUnique(newArtifacts, "sources.json")
		}
	} else {
		fs.Unlink("@/game.json")
		fs.Unlink("@/game.sgm")
	}

	if err := writeArtifacts(fs, newArtifacts); err != nil {
		return nil, errors.Annotate(err, "writing artifacts.json").Err()
	}

	result.NumBuilt = len(newArtifacts)
	result.Duration = clock.Now(ctx).Sub(started)
	v.Print("build finished in %s, %s produced, %d error(s), %d warning(s)",
		result.Duration.Round(time.Millisecond), humanize.Bytes(uint64(totalBytes(fs, newArtifacts))), result.NumErrors, result.NumWarns)

	if result.NumErrors > 0 {
		return result, errors.Reason("build finished with %d error(s)", result.NumErrors).Err()
	}
	return result, nil
}

func resolveScript(fs *fsio.FS, script string) (string, error) {
	if script != "" {
		logical := "$/" + strings.TrimPrefix(script, "$/")
		if !fs.Exists(logical) {
			return "", errors.Reason("build script not found: %q", logical).Err()
		}
		return logical, nil
	}
	for _, name := range defaultScripts {
		logical := "$/" + name
		if fs.Exists(logical) {
			return logical, nil
		}
	}
	return "", errors.Reason("no build script found (tried %s)", strings.Join(defaultScripts, ", ")).Err()
}

func underOutput(logical string) bool {
	p := cellpath.Parse(logical)
	return p.First() == "@"
}

// relativeToScriptsDir expresses a "@/"-rooted logical path relative to
// "@/scripts", the SGMv1 compatibility rule the original cell_compile_sgm
// enforces. It strips the hops the path shares with "@/scripts"
// (cellpath.Relativize); no ".." hops are added for a path outside it.
func relativeToScriptsDir(mainOutputPath string) string {
	main := cellpath.Parse(mainOutputPath)
	scripts := cellpath.Parse("@/scripts")
	return cellpath.Relativize(main, scripts).String()
}

func loadArtifacts(fs *fsio.FS) ([]string, error) {
	if !fs.Exists("@/artifacts.json") {
		return nil, nil
	}
	b, err := fs.Read("@/artifacts.json")
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, errors.Annotate(err, "parsing artifacts.json").Err()
	}
	return list, nil
}

func writeArtifacts(fs *fsio.FS, list []string) error {
	sorted := append([]string(nil), list...)
	sort.Strings(sorted)
	b, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	return fs.Write("@/artifacts.json", b)
}

// pruneStaleArtifacts deletes every file named in prior but absent from
// current.
func pruneStaleArtifacts(fs *fsio.FS, prior, current []string) {
	keep := stringset.NewFromSlice(current...)
	for _, p := range prior {
		if !keep.Has(p) {
			fs.Unlink("@/" + p)
		}
	}
}

func appendUnique(list []string, names ...string) []string {
	seen := stringset.NewFromSlice(list...)
	out := append([]string(nil), list...)
	for _, n := range names {
		if seen.Add(n) {
			out = append(out, n)
		}
	}
	return out
}

func writeGameJSON(fs *fsio.FS, d *dsl.Descriptor) error {
	manifest := map[string]interface{}{
		"name":       d.Name,
		"author":     d.Author,
		"summary":    d.Summary,
		"resolution": d.Resolution,
		"main":       d.Main,
	}
	if d.SaveID != "" {
		manifest["saveID"] = d.SaveID
	}
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return fs.Write("@/game.json", b)
}

func writeGameSGM(fs *fsio.FS, d *dsl.Descriptor, scriptRelPath string) error {
	var width, height string
	if parts := strings.SplitN(d.Resolution, "x", 2); len(parts) == 2 {
		width, height = parts[0], parts[1]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name=%s\n", d.Name)
	fmt.Fprintf(&b, "author=%s\n", d.Author)
	fmt.Fprintf(&b, "description=%s\n", d.Summary)
	fmt.Fprintf(&b, "screen_width=%s\n", width)
	fmt.Fprintf(&b, "screen_height=%s\n", height)
	fmt.Fprintf(&b, "script=%s\n", scriptRelPath)
	return fs.Write("@/game.sgm", []byte(b.String()))
}

func writeSourcesJSON(fs *fsio.FS, g *graph.Graph, runID string) error {
	fileMap := map[string]string{}
	for _, t := range g.Targets {
		if !t.Subfile || len(t.Sources) == 0 {
			continue
		}
		fileMap[t.OutputPath] = t.Sources[0].OutputPath
	}
	doc := map[string]interface{}{
		"fileMap":    fileMap,
		"buildRunID": runID,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return fs.Write("@/sources.json", b)
}

func totalBytes(fs *fsio.FS, artifacts []string) int64 {
	var total int64
	for _, a := range artifacts {
		if fi, err := fs.Stat("@/" + a); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Clean removes every file named in the stored artifact list, then removes
// the list itself.
func Clean(ctx context.Context, outputDir string) error {
	sphere, err := spherefs.New(spherefs.Config{SourceRoot: outputDir, OutputRoot: outputDir})
	if err != nil {
		return errors.Annotate(err, "configuring sandbox").Err()
	}
	fs := fsio.New(sphere)
	artifacts, err := loadArtifacts(fs)
	if err != nil {
		return errors.Annotate(err, "loading artifacts.json").Err()
	}
	for _, a := range artifacts {
		if err := fs.Unlink("@/" + a); err != nil {
			return errors.Annotate(err, "removing %q", a).Err()
		}
	}
	return fs.Unlink("@/artifacts.json")
}

// Package builds and then archives every built subfile target under "@/"
// plus the three manifests, handing each off to pkgwriter.
func Package(ctx context.Context, opts Options, archivePath string) (*Result, error) {
	result, err := Build(ctx, opts)
	if err != nil {
		return result, err
	}

	sphere, err := spherefs.New(spherefs.Config{SourceRoot: opts.SourceDir, OutputRoot: opts.OutputDir})
	if err != nil {
		return result, errors.Annotate(err, "configuring sandbox").Err()
	}
	fs := fsio.New(sphere)

	w, err := pkgwriter.Open(archivePath)
	if err != nil {
		return result, errors.Annotate(err, "opening package %q", archivePath).Err()
	}
	defer w.Close()

	for _, name := range []string{"game.json", "game.sgm", "sources.json"} {
		if fs.Exists("@/" + name) {
			if err := w.AddFile(fs, "@/"+name, name); err != nil {
				return result, errors.Annotate(err, "adding %q to package", name).Err()
			}
		}
	}

	artifacts, err := loadArtifacts(fs)
	if err != nil {
		return result, errors.Annotate(err, "loading artifacts.json").Err()
	}
	for _, a := range artifacts {
		switch a {
		case "game.json", "game.sgm", "sources.json", "artifacts.json":
			continue
		}
		if err := w.AddFile(fs, "@/"+a, a); err != nil {
			return result, errors.Annotate(err, "adding %q to package", a).Err()
		}
	}

	if err := w.Close(); err != nil {
		return result, errors.Annotate(err, "closing package %q", archivePath).Err()
	}
	return result, nil
}

// installToolCallback implements graph.ToolCallback for the built-in
// install action: byte-copy source to destination, then touch the
// destination's mtime so downstream staleness checks see a newer artifact.
type installToolCallback struct{}

func (installToolCallback) Invoke(ctx context.Context, v *visor.Visor, fs *fsio.FS, outPath string, inPaths []string) error {
	if len(inPaths) != 1 {
		return errors.Reason("install tool expects exactly one source, got %d", len(inPaths)).Err()
	}
	if err := fs.Copy(inPaths[0], outPath, true); err != nil {
		return err
	}
	return fs.Touch(outPath)
}
