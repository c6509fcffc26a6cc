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

package sparseplan

import (
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// Result bundles the (up to) three independently-searched sparse passes:
// forward is always planned; gradA and gradW are planned when Params
// requests them, otherwise they are the zero Plan/Cost.
type Result struct {
	Forward        plan.Plan
	ForwardCost    plan.Cost
	ForwardBuckets estimator.BucketSizing

	GradA        plan.Plan
	GradACost    plan.Cost
	GradABuckets estimator.BucketSizing

	GradW     plan.Plan
	GradWCost plan.Cost
}

// Plan searches for the cheapest forward sparse-dense plan, then (per
// Params) the gradient-w.r.t.-activations and gradient-w.r.t.-weights
// passes, per spec §4.6. GradA reuses the forward pass's buckets
// transposed, and its own partition pinned to the forward one transposed,
// when Params.SharedBuckets is set (spec §8 scenario 5); otherwise it
// gathers and searches independently, exactly like forward.
func Plan(p Params, t *target.Target, opts Options) (Result, error) {
	ec := estimator.NewCache()
	numTiles := uint64(t.NumTiles())

	fwdMethod := method{planMethod: plan.MethodSparseForward, rows: p.OutChans, cols: p.InChans}
	fwdPlan, fwdCost, fwdBuckets, err := planOnePass(ec, p, t, fwdMethod, numTiles, opts, nil, nil)
	if err != nil {
		return Result{}, err
	}

	res := Result{Forward: fwdPlan, ForwardCost: fwdCost, ForwardBuckets: fwdBuckets}

	if p.DoGradAPass && p.SharedBuckets {
		fwdPart := fwdPlan.Partitions[0]
		fixed := &fixedSplit{
			Group: fwdPart.ConvGroupSplit,
			X:     fwdPart.InChanSplit.Serial, // transpose: gradA's rows are forward's cols
			Z:     fwdPart.BatchSplit,
			Y:     fwdPart.OutChanSplit.Parallel, // transpose: gradA's cols are forward's rows
		}
		swappedBuckets := estimator.BucketSizing{
			MetaInfoElemsPerBucket: fwdBuckets.MetaInfoElemsPerBucket,
			NzElemsPerBucket:       fwdBuckets.NzElemsPerBucket,
		}
		gradAMethod := method{planMethod: plan.MethodSparseTranspose, rows: p.InChans, cols: p.OutChans}
		gradAPlan, gradACost, gradABuckets, err := planOnePass(ec, p, t, gradAMethod, numTiles, opts, fixed, &swappedBuckets)
		if err != nil {
			return Result{}, err
		}
		res.GradA, res.GradACost, res.GradABuckets = gradAPlan, gradACost, gradABuckets
	} else if p.DoGradAPass {
		gradAMethod := method{planMethod: plan.MethodSparseGradA, rows: p.InChans, cols: p.OutChans}
		gradAPlan, gradACost, gradABuckets, err := planOnePass(ec, p, t, gradAMethod, numTiles, opts, nil, nil)
		if err != nil {
			return Result{}, err
		}
		res.GradA, res.GradACost, res.GradABuckets = gradAPlan, gradACost, gradABuckets
	}

	if p.DoGradWPass {
		gradWMethod := method{planMethod: plan.MethodSparseGradW, rows: p.OutChans, cols: p.InChans}
		gradWPlan, gradWCost, _, err := planOnePass(ec, p, t, gradWMethod, numTiles, opts, nil, nil)
		if err != nil {
			return Result{}, err
		}
		res.GradW, res.GradWCost = gradWPlan, gradWCost
	}

	return res, nil
}

// planOnePass minimises one method's constraint model under the memory-
// bound retry ladder shared with convplan (spec §4.5): start at the
// available-memory bound, double it until a feasible plan is found or the
// per-tile budget is exhausted, then fall back to an unbounded
// memory-minimising pass, which is always feasible.
func planOnePass(ec *estimator.Cache, p Params, t *target.Target, mth method, numTiles uint64, opts Options, fixed *fixedSplit, bucketOverride *estimator.BucketSizing) (plan.Plan, plan.Cost, estimator.BucketSizing, error) {
	perTileBudget := t.BytesPerTile
	memBound := uint64(float64(perTileBudget) * opts.AvailableMemoryProportion)

	if opts.AvailableMemoryProportion > 0 {
		for bound := memBound; bound <= perTileBudget; bound *= 2 {
			obj := plan.Objective{Kind: plan.MinimiseCycles, TileTempMemoryBound: bound}
			foundPlan, foundCost, foundBuckets, ok := evaluate(ec, p, t, mth, numTiles, opts, fixed, bucketOverride, obj)
			if ok {
				return foundPlan, foundCost, foundBuckets, nil
			}
			if bound == 0 {
				bound = 1
			}
		}
	}

	unboundedObj := plan.Objective{Kind: plan.MinimiseTileTempMemory}
	foundPlan, foundCost, foundBuckets, ok := evaluate(ec, p, t, mth, numTiles, opts, fixed, bucketOverride, unboundedObj)
	if !ok {
		return plan.Plan{}, plan.Cost{}, estimator.BucketSizing{}, planerrors.NewConfigurationError("sparseplan: no plan fits even with memory unbounded")
	}
	return foundPlan, foundCost, foundBuckets, nil
}

func evaluate(ec *estimator.Cache, p Params, t *target.Target, mth method, numTiles uint64, opts Options, fixed *fixedSplit, bucketOverride *estimator.BucketSizing, obj plan.Objective) (plan.Plan, plan.Cost, estimator.BucketSizing, bool) {
	m, mv := buildModel(ec, p, t, mth, numTiles, opts, fixed, bucketOverride)

	objVars := []solver.Variable{mv.cost.totalCycles, mv.cost.tempBytes}
	if obj.Kind == plan.MinimiseTileTempMemory {
		objVars = []solver.Variable{mv.cost.tempBytes, mv.cost.totalCycles}
	}

	solution, ok := m.Minimize(objVars...)
	if !ok {
		return plan.Plan{}, plan.Cost{}, estimator.BucketSizing{}, false
	}
	if obj.TileTempMemoryBound != 0 && solution.Value(mv.cost.tempBytes) > obj.TileTempMemoryBound {
		return plan.Plan{}, plan.Cost{}, estimator.BucketSizing{}, false
	}

	buckets := estimator.BucketSizing{
		MetaInfoElemsPerBucket: solution.Value(mv.bucketMeta),
		NzElemsPerBucket:       solution.Value(mv.bucketNz),
	}

	partition := plan.PartitionRecord{
		ConvGroupSplit: solution.Value(mv.groupSplit),
		OutChanSplit:   plan.DimSplit{Parallel: solution.Value(mv.xSplit), Serial: 1},
		BatchSplit:     solution.Value(mv.zSplit),
		InChanSplit:    plan.DimSplit{Parallel: 1, Serial: solution.Value(mv.ySplit)},
	}

	cost := plan.Cost{
		TotalCycles:    solution.Value(mv.cost.totalCycles),
		TotalTempBytes: solution.Value(mv.cost.tempBytes),
		TotalTiles:     solution.Value(mv.usedTiles),
		Breakdown: plan.CostBreakdown{
			ExchangeIn:      solution.Value(mv.cost.exchangeSparse),
			ExchangeWeights: solution.Value(mv.cost.exchangeDense),
			ExchangeReduce:  solution.Value(mv.cost.propagatingExchange),
			Transform:       solution.Value(mv.cost.gather),
			PartialCalc:     solution.Value(mv.cost.partialCalc),
			Reduce:          solution.Value(mv.cost.reduce),
		},
	}

	built := plan.Plan{
		Partitions: []plan.PartitionRecord{partition},
		Method: plan.MethodParams{
			Method:               mth.planMethod,
			PartialChansPerGroup: buckets.MetaInfoElemsPerBucket,
			InChansPerGroup:      buckets.NzElemsPerBucket,
		},
	}

	return built, cost, buckets, true
}
