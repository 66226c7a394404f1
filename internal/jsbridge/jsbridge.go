// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package jsbridge is the only package that names the concrete JavaScript
// engine (github.com/dop251/goja). Its public surface — handles, function
// registration, class binding, the stash, typed error throwing — is meant
// to stay stable if the engine were ever swapped.
package jsbridge

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"go.chromium.org/luci/common/errors"
)

// ErrorKind enumerates the JS error constructors scripts can observe,
// matching the standard Error-throw contract scripts expect.
type ErrorKind int

const (
	KindError ErrorKind = iota
	KindRangeError
	KindReferenceError
	KindSyntaxError
	KindTypeError
	KindURIError
)

// ScriptError is a host-thrown error carrying engine-facing metadata.
type ScriptError struct {
	Kind     ErrorKind
	Message  string
	Filename string
	Line     int
}

func (e *ScriptError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Message)
	}
	return e.Message
}

// Handle is a stable integer key into the Bridge's value arena. Handles
// let host code pass values around without threading goja.Value (or raw
// value-stack indices, as the source engine does) through every call
// signature — see the "stack-based host API -> typed value handles"
// design note.
type Handle int

// Bridge wraps a goja.Runtime with the handle arena, function/class
// registration helpers, and the stash.
type Bridge struct {
	vm *goja.Runtime

	mu      sync.Mutex
	arena   map[Handle]goja.Value
	nextID  Handle
	refs    map[Handle]int
	stash   map[string]interface{}
	keyPool map[string]string // interned property-name cache
}

// New constructs a Bridge around a fresh goja.Runtime.
func New() *Bridge {
	return &Bridge{
		vm:      goja.New(),
		arena:   map[Handle]goja.Value{},
		refs:    map[Handle]int{},
		stash:   map[string]interface{}{},
		keyPool: map[string]string{},
	}
}

// Runtime exposes the underlying goja.Runtime for packages (cjsloader,
// dsl) that need to compile and run programs or construct goja.Value
// directly; everything else should prefer the Handle-based API below.
func (b *Bridge) Runtime() *goja.Runtime { return b.vm }

// Push allocates a new handle for v and takes the first reference on it.
func (b *Bridge) Push(v goja.Value) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	h := b.nextID
	b.arena[h] = v
	b.refs[h] = 1
	return h
}

// Get dereferences a handle. Negative handles count back from the most
// recently pushed value, matching the source engine's end-relative stack
// indices.
func (b *Bridge) Get(h Handle) (goja.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h < 0 {
		h = b.nextID + h + 1
	}
	v, ok := b.arena[h]
	return v, ok
}

// Ref increments a handle's reference count.
func (b *Bridge) Ref(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.refs[h]; ok {
		b.refs[h]++
	}
}

// Unref decrements a handle's reference count, releasing the slot in the
// arena once it drops to zero.
func (b *Bridge) Unref(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.refs[h]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(b.refs, h)
		delete(b.arena, h)
		return
	}
	b.refs[h] = n
}

// Pop releases handle h outright, whatever its reference count.
func (b *Bridge) Pop(h Handle) { b.refs[h] = 1; b.Unref(h) }

// InternKey caches a property name string so repeated lookups of the same
// key compare by identity of the cached string instead of re-hashing it.
func (b *Bridge) InternKey(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.keyPool[name]; ok {
		return cached
	}
	b.keyPool[name] = name
	return name
}

// FuncMeta describes the registration metadata for a native function:
// its minimum argument count, an opaque dispatch tag, and whether it may
// only be called as a constructor.
type FuncMeta struct {
	MinArgs  int
	Magic    int
	CtorOnly bool
}

// NativeFunc is a host function bound into the JS world. Panics raised by
// native code (the Go analogue of the source engine's setjmp/longjmp) are
// caught by the dispatcher in RegisterFunction and converted to JS
// exceptions, matching the "protected calls -> explicit result types"
// design note.
type NativeFunc func(call goja.FunctionCall, meta FuncMeta) (goja.Value, error)

// RegisterFunction installs fn as a global or object-property function
// named name. Exactly one dispatcher (this closure) guards every call.
func (b *Bridge) RegisterFunction(target *goja.Object, name string, meta FuncMeta, fn NativeFunc) error {
	wrapped := func(call goja.FunctionCall) (ret goja.Value) {
		if meta.CtorOnly && call.This == nil {
			panic(b.vm.NewTypeError("%s must be called with 'new'", name))
		}
		if len(call.Arguments) < meta.MinArgs {
			panic(b.vm.NewTypeError("%s expects at least %d argument(s), got %d", name, meta.MinArgs, len(call.Arguments)))
		}
		defer func() {
			if r := recover(); r != nil {
				if ex, ok := r.(*goja.Object); ok {
					panic(ex)
				}
				panic(b.vm.NewGoError(fmt.Errorf("%v", r)))
			}
		}()
		v, err := fn(call, meta)
		if err != nil {
			panic(b.ToJSException(err))
		}
		if v == nil {
			return goja.Undefined()
		}
		return v
	}
	return target.Set(b.InternKey(name), b.vm.ToValue(wrapped))
}

// ClassBinding describes a host class: its name, constructor, and
// prototype object. It has no finalizer hook.
type ClassBinding struct {
	Name        string
	Constructor func(call goja.ConstructorCall) *goja.Object
	Prototype   *goja.Object
}

// BindClass registers a host class under the runtime's global object.
func (b *Bridge) BindClass(binding ClassBinding) error {
	ctor := b.vm.ToValue(binding.Constructor).(*goja.Object)
	if binding.Prototype != nil {
		if err := ctor.Set("prototype", binding.Prototype); err != nil {
			return errors.Annotate(err, "binding class %q", binding.Name).Err()
		}
	}
	return errors.Annotate(b.vm.Set(binding.Name, ctor), "binding class %q", binding.Name).Err()
}

// Stash parks a value under key so it outlives the value stack. Stashed
// values (in this repo, the game descriptor and the loader's transpiler)
// live here instead of on the JS global object, so script code can never
// reach them directly.
func (b *Bridge) Stash(key string, v interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stash[key] = v
}

// Unstash retrieves a previously stashed value.
func (b *Bridge) Unstash(key string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.stash[key]
	return v, ok
}

// ToJSException converts a ScriptError (or any error) into a goja
// exception value appropriate to throw from native code.
func (b *Bridge) ToJSException(err error) *goja.Object {
	se, ok := err.(*ScriptError)
	if !ok {
		return b.vm.NewGoError(err)
	}
	var ctor func(string, ...interface{}) *goja.Object
	switch se.Kind {
	case KindRangeError:
		ctor = b.vm.NewRangeError
	case KindReferenceError:
		ctor = b.vm.NewReferenceError
	case KindSyntaxError:
		ctor = b.vm.NewSyntaxError
	case KindTypeError:
		ctor = b.vm.NewTypeError
	case KindURIError:
		ctor = func(f string, a ...interface{}) *goja.Object { return b.vm.NewGoError(fmt.Errorf(f, a...)) }
	default:
		ctor = func(f string, a ...interface{}) *goja.Object { return b.vm.NewGoError(fmt.Errorf(f, a...)) }
	}
	obj := ctor("%s", se.Message)
	if se.Filename != "" {
		obj.Set("fileName", se.Filename)
		obj.Set("lineNumber", se.Line)
	}
	return obj
}

// RunGuarded calls fn and converts any goja.Exception, Go panic, or
// returned error into a single Go error, the boundary where the
// dispatcher's explicit result type is translated back for callers that
// are not themselves native functions (e.g. the CommonJS loader invoking
// a module body).
func RunGuarded(fn func() (goja.Value, error)) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ex, ok := r.(*goja.Exception); ok {
				err = errors.Annotate(ex, "uncaught JS exception").Err()
				return
			}
			err = errors.Reason("panic in JS host call: %v", r).Err()
		}
	}()
	return fn()
}
