// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dsl

import (
	"io"
	"os"

	"github.com/dop251/goja"

	"go.chromium.org/luci/common/errors"
)

// installFSObject binds the FS namespace: whole-file convenience
// operations plus the FileStream/DirectoryStream constructors for
// incremental access.
func (env *Env) installFSObject(vm *goja.Runtime) error {
	fsObj := vm.NewObject()

	fsObj.Set("exists", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(env.FS.Exists(call.Argument(0).String()))
	})
	fsObj.Set("readFile", func(call goja.FunctionCall) goja.Value {
		b, err := env.FS.Read(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(b))
	})
	fsObj.Set("writeFile", func(call goja.FunctionCall) goja.Value {
		err := env.FS.Write(call.Argument(0).String(), []byte(call.Argument(1).String()))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("mkdir", func(call goja.FunctionCall) goja.Value {
		if err := env.FS.MkdirAll(call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("rename", func(call goja.FunctionCall) goja.Value {
		if err := env.FS.Rename(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("unlink", func(call goja.FunctionCall) goja.Value {
		if err := env.FS.Unlink(call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("removeDirectory", func(call goja.FunctionCall) goja.Value {
		if err := env.FS.RmdirAll(call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("directoryExists", func(call goja.FunctionCall) goja.Value {
		fi, err := env.FS.Stat(call.Argument(0).String())
		return vm.ToValue(err == nil && fi.IsDir())
	})
	fsObj.Set("fileExists", func(call goja.FunctionCall) goja.Value {
		fi, err := env.FS.Stat(call.Argument(0).String())
		return vm.ToValue(err == nil && !fi.IsDir())
	})
	fsObj.Set("readDirectory", func(call goja.FunctionCall) goja.Value {
		entries, err := env.FS.List(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		arr := vm.NewArray()
		for i, e := range entries {
			arr.Set(strconvI(i), vm.ToValue(e.Name))
		}
		return arr
	})
	fsObj.Set("fullPath", func(call goja.FunctionCall) goja.Value {
		real, err := env.FS.Sphere().Resolve(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(real)
	})

	if err := vm.Set("FS", fsObj); err != nil {
		return err
	}

	if err := vm.Set("FileStream", func(call goja.ConstructorCall) *goja.Object {
		return env.newFileStream(vm, call)
	}); err != nil {
		return err
	}
	return vm.Set("DirectoryStream", func(call goja.ConstructorCall) *goja.Object {
		return env.newDirectoryStream(vm, call)
	})
}

// fileStreamModes maps FileStream's small fixed vocabulary of mode
// strings to stdlib open flags.
var fileStreamModes = map[string]int{
	"read":   os.O_RDONLY,
	"update": os.O_RDWR,
	"write":  os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	"append": os.O_RDWR | os.O_CREATE | os.O_APPEND,
}

// newFileStream implements `new FileStream(path, mode)`. Each instance
// closes over its own *os.File; there is no shared prototype because the
// methods need per-instance state rather than a dispatch-by-receiver
// pattern.
func (env *Env) newFileStream(vm *goja.Runtime, call goja.ConstructorCall) *goja.Object {
	path := call.Argument(0).String()
	mode := "read"
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Argument(1)) {
		mode = call.Argument(1).String()
	}
	flag, ok := fileStreamModes[mode]
	if !ok {
		panic(vm.NewTypeError("unrecognized FileStream mode %q", mode))
	}

	real, err := env.FS.Sphere().Resolve(path)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	f, err := os.OpenFile(real, flag, 0644)
	if err != nil {
		panic(vm.NewGoError(errors.Annotate(err, "opening %q", path).Err()))
	}

	obj := call.This
	obj.Set("read", func(fc goja.FunctionCall) goja.Value {
		n := 4096
		if len(fc.Arguments) > 0 {
			n = int(fc.Argument(0).ToInteger())
		}
		buf := make([]byte, n)
		read, err := f.Read(buf)
		if err != nil && err != io.EOF {
			panic(vm.NewGoError(errors.Annotate(err, "reading %q", path).Err()))
		}
		return vm.ToValue(string(buf[:read]))
	})
	obj.Set("write", func(fc goja.FunctionCall) goja.Value {
		if _, err := f.Write([]byte(fc.Argument(0).String())); err != nil {
			panic(vm.NewGoError(errors.Annotate(err, "writing %q", path).Err()))
		}
		return goja.Undefined()
	})
	obj.Set("position", func(fc goja.FunctionCall) goja.Value {
		if len(fc.Arguments) == 0 {
			pos, _ := f.Seek(0, io.SeekCurrent)
			return vm.ToValue(pos)
		}
		if _, err := f.Seek(fc.Argument(0).ToInteger(), io.SeekStart); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	obj.Set("length", func(fc goja.FunctionCall) goja.Value {
		fi, err := f.Stat()
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(fi.Size())
	})
	obj.Set("close", func(fc goja.FunctionCall) goja.Value {
		f.Close()
		return goja.Undefined()
	})
	return nil
}

// newDirectoryStream implements `new DirectoryStream(path)`, a one-shot
// snapshot iterator over a directory's immediate children.
func (env *Env) newDirectoryStream(vm *goja.Runtime, call goja.ConstructorCall) *goja.Object {
	path := call.Argument(0).String()
	entries, err := env.FS.List(path)
	if err != nil {
		panic(vm.NewGoError(err))
	}
	pos := 0

	obj := call.This
	obj.Set("next", func(fc goja.FunctionCall) goja.Value {
		if pos >= len(entries) {
			return goja.Null()
		}
		name := entries[pos].Name
		pos++
		return vm.ToValue(name)
	})
	obj.Set("rewind", func(fc goja.FunctionCall) goja.Value {
		pos = 0
		return goja.Undefined()
	})
	obj.Set("dispose", func(fc goja.FunctionCall) goja.Value {
		pos = len(entries)
		return goja.Undefined()
	})
	return nil
}
