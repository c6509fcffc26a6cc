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

// Package estimator holds the planner's pure cycle-estimator functions
// (spec §4.1): per-vertex compute cycles, reduction, cast, zero, and the
// sparse-gather/sparse-dense-element-wise family. Every function here is a
// pure mapping from a concrete argument bundle to a cycle count; Cache
// memoises them uniformly by argument tuple.
package estimator

import (
	"sync"

	"go.uber.org/atomic"
)

// Cache memoises an estimator function's results by its argument tuple.
// Reads and writes are safe for concurrent use from many goroutines; a
// concurrent write that loses the race overwrites an equal value (the
// estimator functions are pure, so two writers computing the same key
// always agree).
type Cache struct {
	m       sync.Map
	Hits    atomic.Uint64
	Misses  atomic.Uint64
}

// NewCache returns an empty memoisation cache.
func NewCache() *Cache {
	return &Cache{}
}

// memo looks up key in c, computing and storing compute() on a miss.
func memo[K comparable, V any](c *Cache, key K, compute func() V) V {
	if v, ok := c.m.Load(key); ok {
		c.Hits.Inc()
		return v.(V)
	}
	c.Misses.Inc()
	v := compute()
	c.m.Store(key, v)
	return v
}
