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

package plancache_test

import (
	"sync"
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/plancache"
)

func TestPlancache(t *testing.T) { TestingT(t) }

var _ = Suite(&cacheSuite{})

type cacheSuite struct{}

func (s *cacheSuite) TestMissThenHit(c *C) {
	cache := plancache.New()
	key := plancache.KeyFor(map[string]int{"a": 1}, map[string]int{"b": 2}, nil, false, 0, 0)

	_, _, ok := cache.Get(key)
	c.Assert(ok, Equals, false)

	want := plan.Cost{TotalCycles: 42}
	cache.Put(key, plan.Plan{}, want)

	_, got, ok := cache.Get(key)
	c.Assert(ok, Equals, true)
	c.Assert(got, Equals, want)
}

// TestConcurrentWritersConvergeOnEqualValue realizes spec §4.1's
// memoisation invariant extended to the plan cache: concurrent writers
// racing to populate the same key must leave behind a value equal to what
// every writer computed, never a torn or partial one.
func (s *cacheSuite) TestConcurrentWritersConvergeOnEqualValue(c *C) {
	cache := plancache.New()
	key := plancache.KeyFor("shared", "opts", nil, false, 0, 0)
	want := plan.Cost{TotalCycles: 7}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Put(key, plan.Plan{}, want)
		}()
	}
	wg.Wait()

	_, got, ok := cache.Get(key)
	c.Assert(ok, Equals, true)
	c.Assert(got, Equals, want)
}

func (s *cacheSuite) TestGetOrComputeCachesResult(c *C) {
	cache := plancache.New()
	key := plancache.KeyFor("p", "o", nil, false, 0, 0)
	calls := 0

	compute := func() (plan.Plan, plan.Cost, error) {
		calls++
		return plan.Plan{}, plan.Cost{TotalCycles: 5}, nil
	}

	_, cost1, err := cache.GetOrCompute(key, compute)
	c.Assert(err, IsNil)
	_, cost2, err := cache.GetOrCompute(key, compute)
	c.Assert(err, IsNil)

	c.Assert(cost1, Equals, cost2)
	c.Assert(calls, Equals, 1)
}
