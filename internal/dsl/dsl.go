// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dsl implements the build-script surface: files, install, Tool,
// Target, FS, FileStream, RNG, and the Sphere.Game descriptor. Every
// binding is installed directly on a goja.Runtime's global object with
// Runtime.Set; none goes through jsbridge.RegisterFunction or
// jsbridge.BindClass, and no binding registers a finalizer.
package dsl

import (
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/cellignore"
	"github.com/sphere-build/cell/internal/cellpath"
	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/graph"
	"github.com/sphere-build/cell/internal/jsbridge"
	"github.com/sphere-build/cell/internal/toolrun"
	"github.com/sphere-build/cell/internal/visor"
)

const stashKeyDescriptor = "dsl.descriptor"

// Env bundles everything the DSL bindings need to construct Targets and
// Tools against the live build state.
type Env struct {
	Bridge      *jsbridge.Bridge
	FS          *fsio.FS
	Visor       *visor.Visor
	Graph       *graph.Graph
	InstallTool *graph.Tool
	ScriptMTime time.Time
	Defines     map[string]string
	Ignore      *cellignore.Matcher // nil treated as "excludes nothing"
}

// Install wires every DSL binding onto env.Bridge's global object.
func Install(env *Env) error {
	vm := env.Bridge.Runtime()

	if err := vm.Set("files", func(call goja.FunctionCall) goja.Value {
		return mustValue(vm, env.filesImpl(call))
	}); err != nil {
		return err
	}
	if err := vm.Set("install", func(call goja.FunctionCall) goja.Value {
		return mustValue(vm, env.installImpl(call))
	}); err != nil {
		return err
	}
	if err := vm.Set("Tool", func(call goja.ConstructorCall) *goja.Object {
		return env.toolCtor(call)
	}); err != nil {
		return err
	}
	if err := vm.Set("error", func(call goja.FunctionCall) goja.Value {
		env.Visor.Error("%s", call.Argument(0).String())
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("warn", func(call goja.FunctionCall) goja.Value {
		env.Visor.Warn("%s", call.Argument(0).String())
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := env.installSphereObject(vm); err != nil {
		return err
	}
	if err := env.installFSObject(vm); err != nil {
		return err
	}
	if err := env.installRNGClass(vm); err != nil {
		return err
	}
	return nil
}

func mustValue(vm *goja.Runtime, v goja.Value, err error) goja.Value {
	if err != nil {
		panic(vm.NewGoError(err))
	}
	return v
}

// filesImpl implements files(pattern, recursive=false).
//
// Wildcard parsing is intentionally primitive: the literal directory
// prefix of pattern is walked, and only the trailing path segment may
// contain glob metacharacters, matched one path component at a time via
// doublestar.Match (never doublestar's "**" expansion).
func (env *Env) filesImpl(call goja.FunctionCall) (goja.Value, error) {
	pattern := call.Argument(0).String()
	recursive := call.Argument(1).ToBoolean()

	dirLogical, matchFrag := splitLiteralPrefix(pattern)

	var matches []*graph.Target
	err := env.walk(dirLogical, matchFrag, recursive, &matches)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		env.Visor.Warn("no existing files match '%s'", pattern)
	}

	vm := env.Bridge.Runtime()
	arr := vm.NewArray()
	for i, t := range matches {
		arr.Set(strconvI(i), vm.ToValue(t))
	}
	return arr, nil
}

// splitLiteralPrefix separates a pattern's literal directory part from its
// final, possibly-wildcarded segment, e.g. "src/*.txt" -> ("$/src/", "*.txt").
func splitLiteralPrefix(pattern string) (dirLogical, frag string) {
	p := cellpath.Parse(pattern)
	hops := p.Hops()
	if len(hops) == 0 {
		return "$/", "*"
	}
	frag = hops[len(hops)-1]
	dir := cellpath.New(hops[:len(hops)-1]...)
	if !dir.Rooted() {
		dir = cellpath.New("$").Append(dir.String())
	}
	return dir.AsDir().String(), frag
}

// walk matches frag against entries of dirLogical, recursing into
// subdirectories when recursive is true but skipping any directory that is
// itself a nested game's root (has its own Cellscript).
func (env *Env) walk(dirLogical, frag string, recursive bool, out *[]*graph.Target) error {
	entries, err := env.FS.List(dirLogical)
	if err != nil {
		return nil // non-matching / absent directories are silently skipped
	}
	for _, e := range entries {
		childLogical := cellpath.Parse(dirLogical).Append(e.Name).String()
		if env.Ignore.Match(stripRootPrefix(childLogical), e.IsDir) {
			continue
		}
		if e.IsDir {
			if !recursive {
				continue
			}
			if isNestedGameRoot(env.FS, childLogical) {
				continue
			}
			if err := env.walk(childLogical, frag, recursive, out); err != nil {
				return err
			}
			continue
		}
		ok, err := doublestar.Match(frag, e.Name)
		if err != nil || !ok {
			continue
		}
		t := graph.NewTarget(stripRootPrefix(childLogical), childLogical, nil, nil)
		env.Graph.Add(t)
		*out = append(*out, t)
	}
	return nil
}

// isNestedGameRoot reports whether dirLogical contains its own build
// script, marking it as the root of a nested game that recursive files()
// must not descend into.
func isNestedGameRoot(fs *fsio.FS, dirLogical string) bool {
	for _, name := range []string{"Cellscript.mjs", "Cellscript.js"} {
		if fs.Exists(cellpath.Parse(dirLogical).Append(name).String()) {
			return true
		}
	}
	return false
}

func stripRootPrefix(logical string) string {
	p := cellpath.Parse(logical)
	hops := p.Hops()
	if len(hops) > 0 {
		switch hops[0] {
		case "$", "@", "#", "~":
			return cellpath.New(hops[1:]...).String()
		}
	}
	return logical
}

// installImpl implements install(destDir, sources).
func (env *Env) installImpl(call goja.FunctionCall) (goja.Value, error) {
	destDir := call.Argument(0).String()
	sources, err := exportTargets(call.Argument(1))
	if err != nil {
		return nil, err
	}

	vm := env.Bridge.Runtime()
	arr := vm.NewArray()
	for i, src := range sources {
		dest := cellpath.Parse(destDir).Append(targetBaseName(src)).String()
		t := graph.NewTarget(src.Name, normalizeUnderOutput(dest), env.InstallTool.Ref(), []*graph.Target{src})
		t.Subfile = true
		t.TimestampFloor = env.ScriptMTime
		env.Graph.Add(t)
		arr.Set(strconvI(i), vm.ToValue(t))
	}
	return arr, nil
}

func normalizeUnderOutput(logical string) string {
	if strings.HasPrefix(logical, "@/") {
		return logical
	}
	return "@/" + strings.TrimPrefix(logical, "/")
}

// targetBaseName returns the final path component of a target's output
// path, used to name copies install() stages into a destination directory.
func targetBaseName(t *graph.Target) string {
	return cellpath.Parse(t.OutputPath).Base()
}

// exportTargets accepts either a single Target value or a JS array of
// them and returns the underlying native *graph.Target pointers.
func exportTargets(v goja.Value) ([]*graph.Target, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.Reason("expected a Target or array of Targets").Err()
	}
	if t, ok := v.Export().(*graph.Target); ok {
		return []*graph.Target{t}, nil
	}
	obj := v.ToObject(nil)
	lengthVal := obj.Get("length")
	if lengthVal == nil || goja.IsUndefined(lengthVal) {
		return nil, errors.Reason("expected a Target or array of Targets").Err()
	}
	n := int(lengthVal.ToInteger())
	out := make([]*graph.Target, 0, n)
	for i := 0; i < n; i++ {
		item := obj.Get(strconvI(i))
		t, ok := item.Export().(*graph.Target)
		if !ok {
			return nil, errors.Reason("array element %d is not a Target", i).Err()
		}
		out = append(out, t)
	}
	return out, nil
}

// toolCtor implements `new Tool(callback, verb)`.
func (env *Env) toolCtor(call goja.ConstructorCall) *goja.Object {
	vm := env.Bridge.Runtime()
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.NewTypeError("Tool(callback) requires a function"))
	}
	verb := "building"
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Argument(1)) {
		verb = call.Argument(1).String()
	}
	tool := graph.NewTool(verb, &toolrun.JSTool{Bridge: env.Bridge, Callback: cb})

	stageFn := func(stageCall goja.FunctionCall) goja.Value {
		return mustValue(vm, env.stageImpl(tool, stageCall))
	}
	obj := call.This
	obj.Set("stage", vm.ToValue(stageFn))
	obj.Set("verb", verb)
	return nil // returning nil keeps `this` (call.This) as goja's constructed object
}

// stageImpl implements tool.stage(outputPath, sources, options?).
func (env *Env) stageImpl(tool *graph.Tool, call goja.FunctionCall) (goja.Value, error) {
	outputPath := call.Argument(0).String()
	sources, err := exportTargets(call.Argument(1))
	if err != nil {
		return nil, err
	}
	name := outputPath
	if opts := call.Argument(2); opts != nil && !goja.IsUndefined(opts) {
		if n := opts.ToObject(nil).Get("name"); n != nil && !goja.IsUndefined(n) {
			name = n.String()
		}
	}

	t := graph.NewTarget(name, normalizeUnderOutput(outputPath), tool.Ref(), sources)
	t.Subfile = true
	t.TimestampFloor = env.ScriptMTime
	env.Graph.Add(t)
	return env.Bridge.Runtime().ToValue(t), nil
}

func strconvI(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// installSphereObject binds the Sphere namespace: Game descriptor,
// Version, APIVersion, Platform, and Defines.
func (env *Env) installSphereObject(vm *goja.Runtime) error {
	descriptor := &Descriptor{}
	env.Bridge.Stash(stashKeyDescriptor, descriptor)

	sphere := vm.NewObject()
	sphere.Set("Game", vm.ToValue(descriptor))
	sphere.Set("Version", "2.0")
	sphere.Set("APIVersion", 2)
	sphere.Set("Platform", "cell")

	defines := vm.NewObject()
	for k, v := range env.Defines {
		defines.Set(k, v)
	}
	sphere.Set("Defines", defines)

	return vm.Set("Sphere", sphere)
}

// GameDescriptor returns the live game descriptor stashed by Install, for
// the driver to validate and serialize after script evaluation.
func GameDescriptor(env *Env) *Descriptor {
	v, _ := env.Bridge.Unstash(stashKeyDescriptor)
	d, _ := v.(*Descriptor)
	return d
}
