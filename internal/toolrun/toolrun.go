// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package toolrun bridges graph.Tool's JS callback to the native build
// loop: one small adapter invoked uniformly by the graph regardless of
// what the script-defined tool actually does.
package toolrun

import (
	"context"
	"path/filepath"

	"github.com/dop251/goja"

	"go.chromium.org/luci/common/errors"

	"github.com/sphere-build/cell/internal/fsio"
	"github.com/sphere-build/cell/internal/jsbridge"
	"github.com/sphere-build/cell/internal/visor"
)

// JSTool adapts a goja callable into a graph.ToolCallback.
type JSTool struct {
	Bridge   *jsbridge.Bridge
	Callback goja.Callable
}

// Invoke implements graph.ToolCallback.
//
// It ensures the parent directory of outPath exists, then calls the JS
// callback with (outPath, inPaths) and returns any exception it throws as
// an error. The callback's return value is ignored. Error counting, the
// output-exists and unchanged-mtime checks, and unlinking outPath on
// failure are done by the caller, graph.Builder.Build.
func (jt *JSTool) Invoke(ctx context.Context, v *visor.Visor, fs *fsio.FS, outPath string, inPaths []string) error {
	if err := fs.MkdirAll(parentDir(outPath)); err != nil {
		return errors.Annotate(err, "preparing output directory for %q", outPath).Err()
	}

	vm := jt.Bridge.Runtime()
	inArr := vm.NewArray()
	for i, p := range inPaths {
		inArr.Set(itoa(i), p)
	}

	_, err := jsbridge.RunGuarded(func() (goja.Value, error) {
		return jt.Callback(goja.Undefined(), vm.ToValue(outPath), inArr)
	})
	if err != nil {
		if se := extractScriptError(vm, err); se != nil {
			return se
		}
		return errors.Annotate(err, "tool callback failed").Err()
	}
	return nil
}

func parentDir(logical string) string {
	dir := filepath.Dir(filepath.ToSlash(logical))
	if dir == "." {
		return ""
	}
	return dir
}

func itoa(i int) string {
	// Small, allocation-light int->string for array indices; avoids
	// pulling in strconv for a single-digit-dominated hot path while
	// remaining correct for any non-negative i.
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

// scriptErrorLike captures the fields a JS exception exposes for
// fileName/lineNumber extraction.
type scriptErrorLike struct {
	message  string
	filename string
	line     int
}

func (e *scriptErrorLike) Error() string { return e.message }

// extractScriptError pulls fileName/lineNumber out of a goja.Exception's
// underlying value, if present, for richer ToolFailure reporting.
func extractScriptError(vm *goja.Runtime, err error) error {
	ex, ok := err.(*goja.Exception)
	if !ok {
		return nil
	}
	val := ex.Value()
	obj := val.ToObject(vm)
	if obj == nil {
		return nil
	}
	msg := val.String()
	filename := ""
	line := 0
	if fn := obj.Get("fileName"); fn != nil && !goja.IsUndefined(fn) {
		filename = fn.String()
	}
	if ln := obj.Get("lineNumber"); ln != nil && !goja.IsUndefined(ln) {
		line = int(ln.ToInteger())
	}
	return &scriptErrorLike{message: msg, filename: filename, line: line}
}
