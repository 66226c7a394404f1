// Copyright 2024 The Cell Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rng implements the deterministic xoroshiro128+ generator the
// DSL's RNG binding exposes to scripts. No third-party PRNG package in
// the example pack implements this specific algorithm or exposes raw
// state for reproducibility (see DESIGN.md); the generator itself is a
// handful of bit operations, so it is implemented directly.
package rng

// State is the 128-bit xoroshiro128+ state, exposed so scripts can save
// and restore it for reproducible runs via the RNG binding's state
// accessor.
type State struct {
	S0, S1 uint64
}

// RNG is a xoroshiro128+ generator.
type RNG struct {
	state State
}

// FromSeed seeds the generator from a 64-bit value encoded as a JS number.
//
// Precision loss is possible for seeds above 2^53 because JS numbers are
// IEEE-754 doubles; the seed is truncated to whatever a float64 can
// exactly represent before splitting into the two half-state words via
// SplitMix64.
func FromSeed(seed float64) *RNG {
	s := splitMix64{x: uint64(seed)}
	return &RNG{state: State{S0: s.next(), S1: s.next()}}
}

// FromState restores a generator from a previously observed State.
func FromState(s State) *RNG { return &RNG{state: s} }

// State returns the current generator state.
func (r *RNG) State() State { return r.state }

// NextUint64 advances the generator and returns the next 64-bit output.
func (r *RNG) NextUint64() uint64 {
	s0, s1 := r.state.S0, r.state.S1
	result := s0 + s1

	s1 ^= s0
	r.state.S0 = rotl(s0, 55) ^ s1 ^ (s1 << 14)
	r.state.S1 = rotl(s1, 36)

	return result
}

// NextFloat64 returns a value in [0, 1), the form scripts typically want.
func (r *RNG) NextFloat64() float64 {
	// Use the top 53 bits, matching the precision of a JS number.
	return float64(r.NextUint64()>>11) / (1 << 53)
}

// NextIntRange returns a value in [lo, hi).
func (r *RNG) NextIntRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo)
	return lo + int64(r.NextUint64()%span)
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// splitMix64 is the standard seed-expansion generator recommended by the
// xoroshiro authors for turning one seed into full, well-mixed state.
type splitMix64 struct{ x uint64 }

func (s *splitMix64) next() uint64 {
	s.x += 0x9E3779B97F4A7C15
	z := s.x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
