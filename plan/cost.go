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

// Package plan holds the data model shared by every per-operator planner:
// the Plan and Cost value types from spec §3, and the Objective enum that
// selects which cost components the search driver optimises.
package plan

import "math"

// CostBreakdown itemises where cycles and temp bytes go within a plan, per
// spec §3's Cost paragraph.
type CostBreakdown struct {
	RearrangeBeforeSlice uint64
	DynamicSlice         uint64
	Transform            uint64
	ExchangeIn           uint64
	ExchangeWeights      uint64
	ExchangeReduce       uint64
	TileLevelTransform   uint64
	PartialCalc          uint64
	Reduce               uint64
	DynamicUpdate        uint64
	AddInPlace           uint64
	Cast                 uint64
}

// Sum returns the total cycles represented by the breakdown.
func (b CostBreakdown) Sum() uint64 {
	return b.RearrangeBeforeSlice + b.DynamicSlice + b.Transform +
		b.ExchangeIn + b.ExchangeWeights + b.ExchangeReduce +
		b.TileLevelTransform + b.PartialCalc + b.Reduce +
		b.DynamicUpdate + b.AddInPlace + b.Cast
}

// Cost is the tuple a plan is ranked by, plus its itemised breakdown.
type Cost struct {
	TotalCycles           uint64
	TotalTempBytes         uint64
	TotalTiles             uint64
	TotalPerStepCycleDiff uint64
	Breakdown              CostBreakdown
}

// HighestCost is the distinguished sentinel representing infeasibility: it
// compares as worse than any real cost under every objective.
func HighestCost() Cost {
	return Cost{
		TotalCycles:           math.MaxUint64,
		TotalTempBytes:         math.MaxUint64,
		TotalTiles:             math.MaxUint64,
		TotalPerStepCycleDiff: math.MaxUint64,
	}
}

// IsHighest reports whether c is the infeasibility sentinel.
func (c Cost) IsHighest() bool {
	return c.TotalCycles == math.MaxUint64
}

// ObjectiveKind selects which cost components the search driver compares
// first.
type ObjectiveKind int

const (
	// MinimiseCycles ranks by (cycles, tempBytes).
	MinimiseCycles ObjectiveKind = iota
	// MinimiseTileTempMemory ranks by (tempBytes, cycles).
	MinimiseTileTempMemory
	// MinimiseTiles ranks by (tiles, cycles).
	MinimiseTiles
	// MinimiseCostDiff ranks by (perStepCycleDiff, secondary) where
	// secondary is tiles or tempBytes depending on SecondaryIsTiles.
	MinimiseCostDiff
)

// Objective selects the cost tuple ordering and optional feasibility
// bounds, per spec §3.
type Objective struct {
	Kind ObjectiveKind

	// CyclesBound, when non-zero, rejects plans whose TotalCycles exceeds
	// it. Meaningless when Kind == MinimiseCycles.
	CyclesBound uint64

	// TileTempMemoryBound, when non-zero, rejects plans whose
	// TotalTempBytes exceeds it. Meaningless when Kind ==
	// MinimiseTileTempMemory.
	TileTempMemoryBound uint64

	// SecondaryIsTiles selects the secondary key for MinimiseCostDiff:
	// true compares tiles, false compares temp bytes.
	SecondaryIsTiles bool
}

// MinimiseCyclesObjective returns the default cycles-minimising objective.
func MinimiseCyclesObjective() Objective {
	return Objective{Kind: MinimiseCycles}
}

// Fits reports whether c satisfies the objective's feasibility bounds.
func (o Objective) Fits(c Cost) bool {
	if o.CyclesBound != 0 && c.TotalCycles > o.CyclesBound {
		return false
	}
	if o.TileTempMemoryBound != 0 && c.TotalTempBytes > o.TileTempMemoryBound {
		return false
	}
	return true
}

// key returns the lexicographic comparison key for c under o.
func (o Objective) key(c Cost) [2]uint64 {
	switch o.Kind {
	case MinimiseTileTempMemory:
		return [2]uint64{c.TotalTempBytes, c.TotalCycles}
	case MinimiseTiles:
		return [2]uint64{c.TotalTiles, c.TotalCycles}
	case MinimiseCostDiff:
		secondary := c.TotalTempBytes
		if o.SecondaryIsTiles {
			secondary = c.TotalTiles
		}
		return [2]uint64{c.TotalPerStepCycleDiff, secondary}
	default: // MinimiseCycles
		return [2]uint64{c.TotalCycles, c.TotalTempBytes}
	}
}

// Less reports whether a is strictly cheaper than b under objective o. This
// realizes spec §8's ordering testable property: for any candidates visited
// in sequence, the running best is min_obj(a, b).
func (o Objective) Less(a, b Cost) bool {
	ak, bk := o.key(a), o.key(b)
	return ak[0] < bk[0] || (ak[0] == bk[0] && ak[1] < bk[1])
}

// Best returns whichever of a, b compares lower under o.
func (o Objective) Best(a, b Cost) Cost {
	if o.Less(b, a) {
		return b
	}
	return a
}
