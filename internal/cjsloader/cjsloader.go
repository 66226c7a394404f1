// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cjsloader implements the CommonJS module loader: resolution,
// caching, optional transpilation, and evaluation. Inserting a module's
// cache entry before evaluating its body is what breaks require() cycles:
// a cyclic require sees the in-progress module's (possibly incomplete)
// exports object rather than recursing forever.
package cjsloader

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/cellpath"
	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/jsbridge"
)

// TranspileOptions mirrors the knobs the loader must pass to
// a transpiler collaborator.
type TranspileOptions struct {
	Module         string // e.g. "ES2015"
	AllowJS        bool
	ImplicitStrict bool
}

// Transpiler converts modern or legacy source into something the embedded
// engine can compile. Registered in the bridge's stash under stashKey so
// it is optional: a build with no transpiler configured just fails to load
// .mjs files or legacy syntax that needs rewriting.
type Transpiler interface {
	Transpile(src string, opts TranspileOptions) (string, error)
}

const stashKeyTranspiler = "cjsloader.transpiler"

// suffixes tried against each candidate base, in order.
var suffixes = []string{"", ".mjs", ".js", ".json"}

// Module is a loaded CommonJS module record.
type Module struct {
	ID       string
	Filename string
	Loaded   bool
	Exports  goja.Value
	Require  func(specifier string) (goja.Value, error)
}

// Loader owns the module cache and drives resolution/loading.
type Loader struct {
	bridge      *jsbridge.Bridge
	fs          *fsio.FS
	searchRoots []string // logical directories tried for non-relative specifiers, in order

	cache map[string]*Module // keyed by canonical absolute filename
}

// New constructs a Loader. searchRoots are logical directories (e.g.
// "$/lib", "#/cell_modules", "#/runtime") tried in order for non-relative
// specifiers.
func New(bridge *jsbridge.Bridge, fs *fsio.FS, searchRoots []string) *Loader {
	return &Loader{bridge: bridge, fs: fs, searchRoots: searchRoots, cache: map[string]*Module{}}
}

// SetTranspiler registers the optional transpile collaborator.
func (l *Loader) SetTranspiler(t Transpiler) { l.bridge.Stash(stashKeyTranspiler, t) }

func (l *Loader) transpiler() Transpiler {
	v, ok := l.bridge.Unstash(stashKeyTranspiler)
	if !ok {
		return nil
	}
	t, _ := v.(Transpiler)
	return t
}

// RequireGlobal is the top-level require(): it forbids relative
// specifiers.
func (l *Loader) RequireGlobal(specifier string) (goja.Value, error) {
	if isRelative(specifier) {
		return nil, errors.Reason("relative require not allowed in global code: %q", specifier).Err()
	}
	return l.require(specifier, "")
}

func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

// require resolves and loads specifier relative to originFilename (empty
// for top-level/global code), returning its exports.
func (l *Loader) require(specifier, originFilename string) (goja.Value, error) {
	filename, err := l.resolve(specifier, originFilename)
	if err != nil {
		return nil, err
	}

	if m, ok := l.cache[filename]; ok {
		return m.Exports, nil
	}

	// Two-phase init: insert the record before executing the body so a
	// cyclic require() sees the (possibly still empty) exports object
	// instead of recursing.
	exportsObj := l.bridge.Runtime().NewObject()
	m := &Module{ID: specifier, Filename: filename, Exports: exportsObj}
	m.Require = func(spec string) (goja.Value, error) { return l.require(spec, filename) }
	l.cache[filename] = m

	if err := l.load(m); err != nil {
		delete(l.cache, filename)
		return nil, errors.Annotate(err, "loading module %q", specifier).Err()
	}
	m.Loaded = true
	return m.Exports, nil
}

// LoadEntry loads and executes filename as a build script's entry point.
// Unlike require, it is driven by an already-resolved logical filename
// rather than a specifier, so the relative/non-relative rules in resolve
// do not apply.
func (l *Loader) LoadEntry(filename string) error {
	if _, ok := l.cache[filename]; ok {
		return nil
	}
	exportsObj := l.bridge.Runtime().NewObject()
	m := &Module{ID: filename, Filename: filename, Exports: exportsObj}
	m.Require = func(spec string) (goja.Value, error) { return l.require(spec, filename) }
	l.cache[filename] = m
	if err := l.load(m); err != nil {
		delete(l.cache, filename)
		return errors.Annotate(err, "loading %q", filename).Err()
	}
	m.Loaded = true
	return nil
}

// resolve implements the candidate-base/suffix search.
func (l *Loader) resolve(specifier, originFilename string) (string, error) {
	if isRelative(specifier) {
		if originFilename == "" {
			return "", errors.Reason("relative require not allowed in global code: %q", specifier).Err()
		}
		base := filepath.ToSlash(filepath.Dir(originFilename))
		return l.tryBase(base, specifier)
	}

	var lastErr error
	for _, root := range l.searchRoots {
		filename, err := l.tryBase(root, specifier)
		if err == nil {
			return filename, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.Reason("no search roots configured").Err()
	}
	return "", errors.Annotate(lastErr, "cannot find module %q", specifier).Err()
}

// tryBase tries every suffix/package-main candidate under base for id,
// returning the first one that exists.
func (l *Loader) tryBase(base, id string) (string, error) {
	// Fold "." and ".." below the root hop so that one file always gets the
	// same cache key however it was reached; cellpath.New also drops the
	// trailing-separator flag a base such as "$/" carries.
	hops := cellpath.Parse(base).Append(id).Hops()
	if len(hops) == 0 {
		return "", errors.Reason("empty module specifier").Err()
	}
	rest, err := cellpath.New(hops[1:]...).Collapse()
	if err != nil {
		return "", errors.Annotate(err, "resolving %q under %q", id, base).Err()
	}
	joined := cellpath.New(hops[0]).Append(rest.String()).String()

	for _, suf := range suffixes {
		candidate := joined + suf
		if l.fs.Exists(candidate) {
			if fi, err := l.fs.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, nil
			}
		}
	}

	// <id>/package.json, honoring "main".
	pkgJSON := joined + "/package.json"
	if l.fs.Exists(pkgJSON) {
		if main, err := readPackageMain(l.fs, pkgJSON); err == nil && main != "" {
			mainPath := cellpath.Parse(joined).Append(main).String()
			if l.fs.Exists(mainPath) {
				return mainPath, nil
			}
			for _, suf := range suffixes[1:] {
				if l.fs.Exists(mainPath + suf) {
					return mainPath + suf, nil
				}
			}
		}
	}

	// <id>/index.mjs, <id>/index.js, <id>/index.json.
	for _, suf := range []string{".mjs", ".js", ".json"} {
		candidate := joined + "/index" + suf
		if l.fs.Exists(candidate) {
			return candidate, nil
		}
	}

	return "", errors.Reason("no existing file for %q under %q", id, base).Err()
}

func readPackageMain(fs *fsio.FS, path string) (string, error) {
	b, err := fs.Read(path)
	if err != nil {
		return "", err
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(b, &pkg); err != nil {
		return "", err
	}
	return pkg.Main, nil
}

// load reads, (optionally) transpiles, compiles, and executes m's body.
func (l *Loader) load(m *Module) error {
	src, err := l.fs.Read(m.Filename)
	if err != nil {
		return err
	}
	body := stripShebang(string(src))

	switch {
	case strings.HasSuffix(m.Filename, ".json"):
		val, err := l.bridge.Runtime().RunString("(" + body + ")")
		if err != nil {
			return errors.Annotate(err, "parsing JSON module").Err()
		}
		m.Exports = val
		return nil

	case strings.HasSuffix(m.Filename, ".mjs"):
		t := l.transpiler()
		if t == nil {
			return errors.Reason("no transpiler registered, cannot load .mjs module %q", m.Filename).Err()
		}
		out, err := t.Transpile(body, TranspileOptions{Module: "ES2015", AllowJS: true, ImplicitStrict: false})
		if err != nil {
			return errors.Annotate(err, "transpiling %q", m.Filename).Err()
		}
		return l.evalWrapped(m, out)

	default: // .js
		if err := l.evalWrapped(m, body); err == nil {
			return nil
		}
		t := l.transpiler()
		if t == nil {
			return errors.Reason("syntax error and no transpiler registered for %q", m.Filename).Err()
		}
		out, terr := t.Transpile(body, TranspileOptions{Module: "", AllowJS: true, ImplicitStrict: true})
		if terr != nil {
			return errors.Annotate(terr, "transpiling %q after compile failure", m.Filename).Err()
		}
		return l.evalWrapped(m, out)
	}
}

// evalWrapped compiles body as an IIFE wrapping
// (exports, require, module, __filename, __dirname).
func (l *Loader) evalWrapped(m *Module, body string) error {
	wrapped := "(function(exports, require, module, __filename, __dirname) {\n" + body + "\n})"
	prog, err := goja.Compile(m.Filename, wrapped, false)
	if err != nil {
		return err
	}
	vm := l.bridge.Runtime()
	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return errors.Reason("module wrapper did not compile to a function").Err()
	}

	moduleObj := vm.NewObject()
	moduleObj.Set("exports", m.Exports)
	moduleObj.Set("id", m.ID)

	requireFn := func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		v, err := m.Require(spec)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	}

	_, err = fn(goja.Undefined(),
		m.Exports,
		vm.ToValue(requireFn),
		moduleObj,
		vm.ToValue(m.Filename),
		vm.ToValue(filepath.ToSlash(filepath.Dir(m.Filename))),
	)
	if err != nil {
		return err
	}
	// The module body may have replaced module.exports entirely.
	if ex := moduleObj.Get("exports"); ex != nil {
		m.Exports = ex
	}
	return nil
}

// stripShebang comments out a leading "#!" line so it doesn't confuse the
// JS parser.
func stripShebang(src string) string {
	if strings.HasPrefix(src, "#!") {
		if i := strings.IndexByte(src, '\n'); i >= 0 {
			return "//" + src[2:i] + src[i:]
		}
		return "//" + src[2:]
	}
	return src
}
