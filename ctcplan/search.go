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

package ctcplan

import (
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/target"
)

// Plan searches for the cheapest CTC loss plan for p on t under opts,
// trying both dynamic-slicing strategies (spec §4.7) and keeping whichever
// is cheaper, under the same memory-bound retry ladder convplan and
// sparseplan use.
func Plan(p Params, t *target.Target, opts Options) (Plan, plan.Cost, error) {
	numTiles := uint64(t.NumTiles())

	var (
		best     Plan
		bestCost = plan.HighestCost()
		found    bool
	)

	for _, strategy := range []SliceStrategy{SliceFromInput, SliceIntoOutput} {
		part, cost, ok := planOneStrategy(p, t, numTiles, opts, strategy)
		if !ok {
			continue
		}
		if !found || plan.MinimiseCyclesObjective().Less(cost, bestCost) {
			best = Plan{Partition: part, Strategy: strategy}
			bestCost = cost
			found = true
		}
	}
	if !found {
		return Plan{}, plan.Cost{}, planerrors.NewConfigurationError("ctcplan: no plan fits even with memory unbounded")
	}
	return best, bestCost, nil
}

func planOneStrategy(p Params, t *target.Target, numTiles uint64, opts Options, strategy SliceStrategy) (Partition, plan.Cost, bool) {
	perTileBudget := t.BytesPerTile
	memBound := uint64(float64(perTileBudget) * opts.AvailableMemoryProportion)

	if opts.AvailableMemoryProportion > 0 {
		for bound := memBound; bound <= perTileBudget; bound *= 2 {
			part, cost, ok := evaluate(p, t, numTiles, opts, strategy, bound)
			if ok {
				return part, cost, true
			}
			if bound == 0 {
				bound = 1
			}
		}
	}

	return evaluate(p, t, numTiles, opts, strategy, 0)
}

func evaluate(p Params, t *target.Target, numTiles uint64, opts Options, strategy SliceStrategy, memBound uint64) (Partition, plan.Cost, bool) {
	m, mv := buildModel(p, t, numTiles, opts, strategy)

	solution, ok := m.Minimize(mv.cost.totalCycles, mv.cost.tempBytes)
	if !ok {
		return Partition{}, plan.Cost{}, false
	}
	if memBound != 0 && solution.Value(mv.cost.tempBytes) > memBound {
		return Partition{}, plan.Cost{}, false
	}

	part := Partition{
		BatchSplit:              solution.Value(mv.batchSplit),
		TimeSplit:               solution.Value(mv.timeSplit),
		LabelSplit:              solution.Value(mv.labelSplit),
		LastBlankOnSeparateTile: solution.Value(mv.lastBlank) == 1,
	}
	cost := plan.Cost{
		TotalCycles:    solution.Value(mv.cost.totalCycles),
		TotalTempBytes: solution.Value(mv.cost.tempBytes),
		TotalTiles:     solution.Value(mv.usedTiles),
		Breakdown: plan.CostBreakdown{
			PartialCalc:     solution.Value(mv.cost.alphaBeta),
			Reduce:          solution.Value(mv.cost.gradFromAlphaBeta),
			ExchangeReduce:  solution.Value(mv.cost.exchange),
			RearrangeBeforeSlice: solution.Value(mv.cost.sync),
		},
	}
	return part, cost, true
}
