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

package estimator

import "math"

// ReduceArgs bundles the parameters of a single reduction stage (spec
// §4.1's reduction estimator).
type ReduceArgs struct {
	OutputSize        uint64
	ReductionDepth     uint64
	DataPathWidth      uint64
	PartialsAreFloat   bool
	OutputIsFloat      bool
	SingleInput        bool
	FastReduceEnabled  bool
}

// EstimateReduceCycles estimates the cycles for one reduction stage.
func (c *Cache) EstimateReduceCycles(a ReduceArgs) uint64 {
	return memo(c, a, func() uint64 {
		if a.ReductionDepth <= 1 {
			return 0
		}
		width := max1(a.DataPathWidth)
		elemsPerCycle := width
		if a.PartialsAreFloat {
			elemsPerCycle = width / 2
			if elemsPerCycle == 0 {
				elemsPerCycle = 1
			}
		}
		work := a.OutputSize * a.ReductionDepth
		cycles := ceildiv(work, elemsPerCycle)
		if a.SingleInput {
			cycles = cycles * 3 / 4
		}
		if a.FastReduceEnabled {
			cycles = cycles * 7 / 8
		}
		return cycles + 8
	})
}

// ReductionStage is one step of a multi-stage reduction plan.
type ReductionStage struct {
	Depth      uint64
	OutputSize uint64
}

// PlanMultiStageReduction splits a reduction of the given total depth into
// stages visited in descending depth: at each stage the remaining depth is
// divided by the chosen factor (rounded up), and the output width is
// divided symmetrically, per spec §4.1.
func PlanMultiStageReduction(totalDepth, outputSize uint64, maxFactorPerStage uint64) []ReductionStage {
	if totalDepth <= 1 {
		return nil
	}
	if maxFactorPerStage < 2 {
		maxFactorPerStage = 2
	}
	var stages []ReductionStage
	remaining := totalDepth
	width := outputSize
	for remaining > 1 {
		factor := maxFactorPerStage
		if factor > remaining {
			factor = remaining
		}
		stages = append(stages, ReductionStage{Depth: factor, OutputSize: width})
		remaining = ceildiv(remaining, factor)
		width = ceildiv(width, factor)
		if width == 0 {
			width = 1
		}
	}
	return stages
}

// SingleInputReduceFits reports whether the "single input reduce" fast
// path (spec §4.1) can be used: the exchanged partials must fit in the
// per-tile byte budget and the output width must be a multiple of the
// type-dependent granularity.
func SingleInputReduceFits(outputSize, reductionDepth, typeSize, granularity, bytesPerTileBudget uint64) bool {
	if granularity == 0 {
		granularity = 1
	}
	if outputSize%granularity != 0 {
		return false
	}
	bytes := outputSize * reductionDepth * typeSize
	return bytes <= bytesPerTileBudget
}

// LogAddReduce computes log(exp(a) + exp(b)) in the numerically stable form
// hi + log(1 + exp(lo - hi)), where hi and lo are the larger and smaller of
// a and b, so the exponential is only taken of the smaller operand's
// (non-positive) difference, as spec §4.1 describes.
func LogAddReduce(a, b float64) float64 {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if math.IsInf(lo, -1) {
		return hi
	}
	return hi + math.Log1p(math.Exp(lo-hi))
}
