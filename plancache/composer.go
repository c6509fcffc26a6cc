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

package plancache

import (
	"runtime"
	"sort"
	"sync"

	"github.com/ngaut/pools"
	"github.com/pingcap/errors"

	"github.com/ipu-tools/tileplan/plan"
)

// CycleBackOff is the fractional cycle-count slack (spec §4.8 step 2)
// given back to the largest operator's re-plan so the tiles it no longer
// needs can be handed to the others.
const CycleBackOff = 0.1

// Operator is one operand of a multi-plan co-planning request: a sizing
// hint (e.g. floating-point operation count, spec §4.8 step 1) plus the
// two planning entry points the composer needs.
type Operator struct {
	// Name identifies the operator in composer results and log lines.
	Name string
	// Size orders operators for the largest-last sort (spec §4.8 step 1).
	Size float64
	// PlanOnTiles plans this operator confined to tileCount tiles starting
	// at tileOffset, optionally under a cycles bound (0 = unbounded) and a
	// reference cost (nil on the first call for this operator).
	PlanOnTiles func(tileOffset, tileCount int, cyclesBound uint64, ref *plan.Cost) (plan.Plan, plan.Cost, error)
}

// Placement is one operator's slice of the composed allocation.
type Placement struct {
	Name        string
	TileOffset  int
	TileCount   int
	Plan        plan.Plan
	Cost        plan.Cost
}

// ComposeMultiPlan implements spec §4.8's multi-plan composer: it sorts
// operators by size (largest last), plans the largest across the whole
// device, re-plans it with a relaxed cycles bound to free tiles, then
// plans the rest smallest-first on the tiles that remain, propagating the
// per-step maximum reference cost between them. The largest operator keeps
// the tiles its relaxed plan uses, from tile 0; its placement is appended
// last.
//
// When no feasible parallel allocation exists, it falls back to serial
// planning: each operator gets the full device independently.
func ComposeMultiPlan(ops []Operator, numTiles int) ([]Placement, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	sorted := append([]Operator(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	largest := sorted[len(sorted)-1]
	rest := sorted[:len(sorted)-1]

	_, largestCost, err := largest.PlanOnTiles(0, numTiles, 0, nil)
	if err != nil {
		return serialFallback(ops, numTiles)
	}
	relaxedBound := uint64(float64(largestCost.TotalCycles) * (1 + float64(len(sorted)-1)*CycleBackOff))
	largestPlan, largestCost, err := largest.PlanOnTiles(0, numTiles, relaxedBound, nil)
	if err != nil {
		return serialFallback(ops, numTiles)
	}

	largestTiles := int(largestCost.TotalTiles)
	if largestTiles <= 0 || largestTiles > numTiles {
		largestTiles = numTiles
	}
	placements := make([]Placement, 0, len(sorted))
	remainingTiles := numTiles - largestTiles
	offset := largestTiles
	ref := largestCost

	for i, op := range rest {
		isLast := i == len(rest)-1
		var tileCount int
		if isLast {
			tileCount = remainingTiles
		} else {
			// Give each remaining operator an equal share of what is left;
			// a production allocator would size this by the operator's own
			// tile-count search, but an even split keeps the composer's
			// contract (every operator gets tiles from the shared budget)
			// without requiring per-family cost introspection here.
			tileCount = remainingTiles / (len(rest) - i)
		}
		if tileCount <= 0 {
			return serialFallback(ops, numTiles)
		}
		p, cost, err := op.PlanOnTiles(offset, tileCount, 0, &ref)
		if err != nil {
			return serialFallback(ops, numTiles)
		}
		placements = append(placements, Placement{Name: op.Name, TileOffset: offset, TileCount: tileCount, Plan: p, Cost: cost})
		ref = maxCost(ref, cost)
		offset += tileCount
		remainingTiles -= tileCount
	}

	placements = append(placements, Placement{Name: largest.Name, TileOffset: 0, TileCount: largestTiles, Plan: largestPlan, Cost: largestCost})
	return placements, nil
}

func maxCost(a, b plan.Cost) plan.Cost {
	out := a
	if b.TotalCycles > out.TotalCycles {
		out.TotalCycles = b.TotalCycles
	}
	if b.TotalTempBytes > out.TotalTempBytes {
		out.TotalTempBytes = b.TotalTempBytes
	}
	return out
}

func serialFallback(ops []Operator, numTiles int) ([]Placement, error) {
	placements := make([]Placement, len(ops))
	var firstErr error
	var mu sync.Mutex

	// Bound concurrency to GOMAXPROCS using a pools.ResourcePool of no-op
	// tokens: Get blocks until a slot is free, Put releases it, matching
	// spec §5's "the multi-plan composer may run independent per-operator
	// plans on a thread pool (parallel-for over the operator index)".
	tokenPool := pools.NewResourcePool(func() (pools.Resource, error) {
		return slotToken{}, nil
	}, runtime.GOMAXPROCS(0), runtime.GOMAXPROCS(0), 0)
	defer tokenPool.Close()

	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op Operator) {
			defer wg.Done()
			tok, err := tokenPool.Get()
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Trace(err)
				}
				mu.Unlock()
				return
			}
			defer tokenPool.Put(tok)

			p, cost, err := op.PlanOnTiles(0, numTiles, 0, nil)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Annotatef(err, "planning operator %s", op.Name)
				}
				mu.Unlock()
				return
			}
			placements[i] = Placement{Name: op.Name, TileOffset: 0, TileCount: numTiles, Plan: p, Cost: cost}
		}(i, op)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return placements, nil
}

// slotToken is a no-op pools.Resource used purely to bound concurrency.
type slotToken struct{}

func (slotToken) Close() {}
