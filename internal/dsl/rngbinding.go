// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dsl

import (
	"github.com/dop251/goja"

	"github.com/sphere-build/cell/internal/rng"
)

// installRNGClass binds RNG.fromSeed and RNG.fromState, the two ways a
// script constructs a deterministic generator.
func (env *Env) installRNGClass(vm *goja.Runtime) error {
	rngObj := vm.NewObject()

	rngObj.Set("fromSeed", func(call goja.FunctionCall) goja.Value {
		seed := call.Argument(0).ToFloat()
		return env.wrapRNG(vm, rng.FromSeed(seed))
	})
	rngObj.Set("fromState", func(call goja.FunctionCall) goja.Value {
		s0 := uint64(call.Argument(0).ToInteger())
		s1 := uint64(call.Argument(1).ToInteger())
		return env.wrapRNG(vm, rng.FromState(rng.State{S0: s0, S1: s1}))
	})

	return vm.Set("RNG", rngObj)
}

// wrapRNG exposes a *rng.RNG as a JS object with a small method surface:
// the generator instance itself is never handed to script code directly
// so its internal state stays behind Go method calls.
func (env *Env) wrapRNG(vm *goja.Runtime, r *rng.RNG) goja.Value {
	obj := vm.NewObject()
	obj.Set("next", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(r.NextFloat64())
	})
	obj.Set("nextInRange", func(call goja.FunctionCall) goja.Value {
		lo := call.Argument(0).ToInteger()
		hi := call.Argument(1).ToInteger()
		return vm.ToValue(r.NextIntRange(lo, hi))
	})
	obj.Set("state", func(call goja.FunctionCall) goja.Value {
		s := r.State()
		out := vm.NewObject()
		out.Set("s0", s.S0)
		out.Set("s1", s.S1)
		return out
	})
	return obj
}
