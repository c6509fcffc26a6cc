// Copyright 2026 The Tileplan Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plancache memoises final plans across callers (spec §4.8) and
// composes joint plans for several operators sharing one device's tile
// budget. A Cache is a thread-safe handle: reads run lock-free against an
// immutable map, writes build a new map and swap it in under a mutex,
// realizing spec §5's "reads are lock-free on an immutable map after
// insertion".
package plancache

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ipu-tools/tileplan/plan"
)

// Key identifies one cached planning request. ParamsKey and OptionsKey are
// caller-supplied canonical string encodings of the operator parameters
// and options bundle (each per-operator-family planner owns its own
// canonical parameter type, so the cache treats them opaquely); the
// remaining fields are the rest of spec §4.8's key: "canonical parameters,
// options, optional reference plan and cost, a minimise-for-tiles flag, an
// optional cycle limit, and a starting-tile offset for virtual
// hierarchies".
type Key struct {
	ParamsKey        string
	OptionsKey       string
	RefCost          *refCost
	MinimiseForTiles bool
	CycleLimit       uint64
	StartTileOffset  int
}

// refCost is a by-value, comparable mirror of plan.Cost used so Key remains
// a plain comparable struct (plan.Cost itself has no pointer fields, but we
// keep RefCost as *refCost so "no reference supplied" is representable).
type refCost struct {
	TotalCycles    uint64
	TotalTempBytes uint64
	TotalTiles     uint64
}

// NewRefCost builds the optional reference-cost component of a Key from a
// plan.Cost.
func NewRefCost(c plan.Cost) *refCost {
	return &refCost{TotalCycles: c.TotalCycles, TotalTempBytes: c.TotalTempBytes, TotalTiles: c.TotalTiles}
}

// KeyFor builds a Key from arbitrary canonical parameters and options by
// JSON-encoding them; callers with a more specific canonical form may
// construct a Key directly instead.
func KeyFor(params, opts interface{}, ref *plan.Cost, minimiseForTiles bool, cycleLimit uint64, startTileOffset int) Key {
	pk, _ := json.Marshal(params)
	ok, _ := json.Marshal(opts)
	var rc *refCost
	if ref != nil {
		rc = NewRefCost(*ref)
	}
	return Key{
		ParamsKey: string(pk), OptionsKey: string(ok),
		RefCost: rc, MinimiseForTiles: minimiseForTiles,
		CycleLimit: cycleLimit, StartTileOffset: startTileOffset,
	}
}

// comparableKey is the flattened, map-hashable form of Key (RefCost is a
// pointer, so Key used directly as a map key would compare RefCost by
// address rather than by value; flattening dereferences it into value
// fields).
type comparableKey struct {
	Key
	hasRef bool
	ref    refCost
}

func flatten(k Key) comparableKey {
	c := comparableKey{Key: k}
	c.Key.RefCost = nil
	if k.RefCost != nil {
		c.hasRef = true
		c.ref = *k.RefCost
	}
	return c
}

// entry is the cached (Plan, Cost) pair.
type entry struct {
	Plan plan.Plan
	Cost plan.Cost
}

// Cache is a thread-safe plan memoisation table. The zero value is not
// usable; construct with New.
type Cache struct {
	mu sync.Mutex // serializes writers only; readers never take it
	m  atomic.Value // holds map[comparableKey]entry
}

// New returns an empty Cache.
func New() *Cache {
	c := &Cache{}
	c.m.Store(map[comparableKey]entry{})
	return c
}

// Get returns the cached (Plan, Cost) for key, if present.
func (c *Cache) Get(key Key) (plan.Plan, plan.Cost, bool) {
	m := c.m.Load().(map[comparableKey]entry)
	e, ok := m[flatten(key)]
	return e.Plan, e.Cost, ok
}

// Put stores p/cost under key, building a fresh copy-on-write map so
// concurrent readers never observe a torn map.
func (c *Cache) Put(key Key, p plan.Plan, cost plan.Cost) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.m.Load().(map[comparableKey]entry)
	next := make(map[comparableKey]entry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[flatten(key)] = entry{Plan: p, Cost: cost}
	c.m.Store(next)
}

// GetOrCompute returns the cached plan for key if present, otherwise calls
// compute, stores its result, and returns it. compute runs outside the
// mutex (which serializes only Put), so two racing misses for the same
// key may both call compute, concurrently, once each; the second
// Put simply overwrites the first with an equal value, matching spec
// §4.1's "a concurrent write that loses a race must see its value
// overwritten by an equal value" invariant extended to the plan cache.
func (c *Cache) GetOrCompute(key Key, compute func() (plan.Plan, plan.Cost, error)) (plan.Plan, plan.Cost, error) {
	if p, cost, ok := c.Get(key); ok {
		return p, cost, nil
	}
	p, cost, err := compute()
	if err != nil {
		return plan.Plan{}, plan.Cost{}, err
	}
	c.Put(key, p, cost)
	return p, cost, nil
}
