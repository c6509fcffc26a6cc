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

package convplan

import (
	"github.com/pingcap/failpoint"

	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/dither"
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/logutil"
	"github.com/ipu-tools/tileplan/methodset"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
	"go.uber.org/zap"
)

// Plan searches for the cheapest plan for p on t under opts, with the
// single-level model and fixed transform composition order from spec §4.2:
// add extra field dims → defer dilation → swap operands → expand dims →
// flatten dims → combine conv groups → pad to grain sizes.
//
// When the cycle-minimising pass does not fit the memory bound implied by
// opts.AvailableMemoryProportion, the bound is doubled iteratively up to the
// per-tile byte budget; if it still does not fit, a final unbounded pass
// minimises memory instead and is guaranteed to return a plan.
func Plan(p convparams.Params, t *target.Target, opts Options) (plan.Plan, plan.Cost, error) {
	return planWithReference(p, t, opts, nil)
}

func planWithReference(p convparams.Params, t *target.Target, opts Options, ref *plan.Cost) (plan.Plan, plan.Cost, error) {
	ec := estimator.NewCache()
	canon := convparams.Canon(p)

	if err := validateConstraintTree(canon, opts.PlanConstraints); err != nil {
		return plan.Plan{}, plan.Cost{}, err
	}

	numTiles := uint64(t.NumTiles())
	perTileBudget := t.BytesPerTile
	memBound := uint64(float64(perTileBudget) * opts.AvailableMemoryProportion)

	obj := plan.MinimiseCyclesObjective()
	if ref != nil {
		obj = plan.Objective{Kind: plan.MinimiseCostDiff, SecondaryIsTiles: opts.CostDiffSecondaryIsTiles}
	}

	if opts.AvailableMemoryProportion > 0 {
		for bound := memBound; bound <= perTileBudget; bound *= 2 {
			boundedObj := obj
			boundedObj.TileTempMemoryBound = bound
			best, bestCost, ok := searchOnce(ec, canon, t, numTiles, opts, boundedObj, ref)
			if ok {
				ditherPlan(&best, canon, opts, numTiles, t)
				return best, bestCost, nil
			}
			logutil.BgLogger().Debug("convplan: relaxing memory bound", zap.Uint64("bound", bound))
			if bound == 0 {
				bound = 1
			}
		}
	}

	unboundedObj := plan.Objective{Kind: plan.MinimiseTileTempMemory}
	best, bestCost, ok := searchOnce(ec, canon, t, numTiles, opts, unboundedObj, ref)
	if !ok {
		return plan.Plan{}, plan.Cost{}, planerrors.NewConfigurationError("no plan fits even with memory unbounded")
	}
	ditherPlan(&best, canon, opts, numTiles, t)
	return best, bestCost, nil
}

// ditherPlan assigns the plan's starting tile, a choice orthogonal to which
// plan was selected (spec design note, package dither).
func ditherPlan(p *plan.Plan, params convparams.Params, opts Options, numTiles uint64, t *target.Target) {
	if !opts.EnableConvDithering {
		return
	}
	key := dither.Key{
		InputType: params.InputType.String(), OutputType: params.OutputType.String(),
		Batch: params.Batch, InChans: params.InChansPerGroup * params.NumInGroups,
		OutChans: params.OutChansPerGroup * params.NumOutGroups, ConvGroups: params.NumConvGroups,
	}
	for _, f := range params.Field {
		key.Field = append(key.Field, f.InputSize)
		key.Kernel = append(key.Kernel, f.KernelSize)
	}
	tile, _ := dither.StartTile(key, int(numTiles), t.TilesPerSharedExchangeBus)
	p.StartTile = tile
}

// searchOnce runs one full outer-loop pass (spec §4.5) under a single
// objective and returns the best plan found, or ok=false if every candidate
// combination was infeasible.
func searchOnce(ec *estimator.Cache, p convparams.Params, t *target.Target, numTiles uint64, opts Options, obj plan.Objective, ref *plan.Cost) (plan.Plan, plan.Cost, bool) {
	var (
		bestPlan plan.Plan
		bestCost = plan.HighestCost()
		found    bool
	)

	pins := transformPinsFromTree(opts.PlanConstraints)
	methodCs, _ := methodConstraintsFromTree(opts.PlanConstraints) // validated in planWithReference

	numExtraDims := 1
	base := convparams.AddExtraFieldDims(p, numExtraDims)
	base, _ = convparams.DeferDilation(base)

	for _, swap := range swapCandidates(opts) {
		if !pins.allowsSwap(swap) {
			continue
		}
		swapped := base
		if swap {
			swapped = convparams.SwapOperands(base)
		}

		for _, expandDims := range subsetsUpTo(len(swapped.Field), 2) {
			if !pins.allowsExpandDims(expandDims) {
				continue
			}
			expanded := swapped
			if len(expandDims) > 0 {
				expanded = convparams.ExpandDims(swapped, expandDims)
			}

			for _, flattenDims := range subsetsUpTo(len(expanded.Field), 1) {
				if !pins.allowsFlattenDims(flattenDims) {
					continue
				}
				flattened, ok := convparams.FlattenDims(expanded, flattenDims)
				if !ok {
					continue
				}

				for _, combineFactor := range combineConvGroupFactors(flattened) {
					if !pins.allowsCombineFactor(combineFactor) {
						continue
					}
					combined := convparams.CombineConvGroups(flattened, combineFactor)

					for _, cand := range methodset.Candidates(combined, t, methodCs, opts.Pass.IsFullyConnected(), opts.Use128BitConvUnitLoad) {
						padded := convparams.PadToGrainSizes(combined, cand.InChansPerGroup, cand.PartialChansPerGroup)

						partition, cost, cycleDiff, usedTiles, tempBytes, ok := evaluateCandidate(ec, padded, t, cand, numTiles, opts, obj, ref)
						failpoint.Inject("forceInfeasible", func() {
							ok = false
						})
						if !ok {
							continue
						}

						candidateCost := plan.Cost{
							TotalCycles:           cost.Sum(),
							TotalTempBytes:        tempBytes,
							TotalPerStepCycleDiff: cycleDiff,
							TotalTiles:            usedTiles,
							Breakdown:             cost,
						}
						if !found || obj.Less(candidateCost, bestCost) {
							bestCost = candidateCost
							bestPlan = plan.Plan{
								Transforms: []plan.TransformRecord{{
									SwapOperands:            swap,
									ExpandDims:              expandDims,
									OutChanFlattenDims:      flattenDims,
									CombineConvGroupsFactor: combineFactor,
								}},
								Partitions: []plan.PartitionRecord{partition},
								Types: []plan.TypeRecord{{
									PartialType: cand.PartialType,
									ResultType:  opts.PartialsType,
								}},
								Method: plan.MethodParams{
									Method:               cand.Method,
									ConvGroupsPerGroup:   cand.ConvGroupsPerGroup,
									InChansPerGroup:      cand.InChansPerGroup,
									PartialChansPerGroup: cand.PartialChansPerGroup,
									SLICWindowWidth:      cand.SLICWindowWidth,
								},
								GrainSizes: plan.GrainSizes{
									ConvGroup:   cand.ConvGroupsPerGroup,
									InChan:      cand.InChansPerGroup,
									PartialChan: cand.PartialChansPerGroup,
								},
							}
							found = true
						}
					}
				}
			}
		}
	}

	return bestPlan, bestCost, found
}

// evaluateCandidate builds the constraint model for one (transform, method)
// combination, minimises it under obj, and returns the itemised cost.
func evaluateCandidate(ec *estimator.Cache, p convparams.Params, t *target.Target, cand methodset.Candidate, numTiles uint64, opts Options, obj plan.Objective, ref *plan.Cost) (plan.PartitionRecord, plan.CostBreakdown, uint64, uint64, uint64, bool) {
	m, mv := buildModel(ec, p, t, cand, numTiles, opts, ref)

	solution, ok := m.Minimize(objectiveVars(mv, obj)...)
	if !ok {
		return plan.PartitionRecord{}, plan.CostBreakdown{}, 0, 0, 0, false
	}

	if obj.TileTempMemoryBound != 0 && solution.Value(mv.cost.tempBytes) > obj.TileTempMemoryBound {
		return plan.PartitionRecord{}, plan.CostBreakdown{}, 0, 0, 0, false
	}

	partition := partitionFromSolution(mv, solution)
	breakdown := breakdownFromSolution(mv, solution)
	cycleDiff := uint64(0)
	if ref != nil {
		cycleDiff = solution.Value(mv.cost.totalCycles)
	}
	return partition, breakdown, cycleDiff, solution.Value(mv.usedTiles), solution.Value(mv.cost.tempBytes), true
}

// partitionFromSolution reads mv's partition variables out of a solved
// model. Shared by evaluateCandidate and PlanFullyConnected's joint model,
// whose per-pass modelVars alias a common set of underlying variables.
func partitionFromSolution(mv *modelVars, solution solver.Solution) plan.PartitionRecord {
	fieldSplit := make([]uint64, len(mv.fieldSplit))
	for i, v := range mv.fieldSplit {
		fieldSplit[i] = solution.Value(v)
	}
	kernelSplit := make([]uint64, len(mv.kernelSplit))
	for i, v := range mv.kernelSplit {
		kernelSplit[i] = solution.Value(v)
	}
	return plan.PartitionRecord{
		FieldSplit:  fieldSplit,
		BatchSplit:  solution.Value(mv.batchSplit),
		KernelSplit: kernelSplit,
		OutChanSplit: plan.DimSplit{
			Parallel: solution.Value(mv.outChanSplitVars.parallel),
			Serial:   solution.Value(mv.outChanSplitVars.serial),
		},
		InChanSplit: plan.DimSplit{
			Parallel: solution.Value(mv.inChanSplitVars.parallel),
			Serial:   solution.Value(mv.inChanSplitVars.serial),
		},
		ConvGroupSplit: solution.Value(mv.convGroupSplit),
	}
}

// breakdownFromSolution reads mv's per-component cost variables out of a
// solved model.
func breakdownFromSolution(mv *modelVars, solution solver.Solution) plan.CostBreakdown {
	return plan.CostBreakdown{
		ExchangeIn:           solution.Value(mv.cost.exchangeIn),
		ExchangeWeights:      solution.Value(mv.cost.exchangeWeights),
		ExchangeReduce:       solution.Value(mv.cost.exchangeReduce),
		Transform:            solution.Value(mv.cost.transform),
		TileLevelTransform:   solution.Value(mv.cost.tileLevelTransform),
		PartialCalc:          solution.Value(mv.cost.partialCalc),
		Reduce:               solution.Value(mv.cost.reduce),
		DynamicSlice:         solution.Value(mv.cost.dynamicSlice),
		DynamicUpdate:        solution.Value(mv.cost.dynamicUpdate),
		AddInPlace:           solution.Value(mv.cost.addInPlace),
		Cast:                 solution.Value(mv.cost.cast),
		RearrangeBeforeSlice: solution.Value(mv.cost.rearrangeBeforeSlice),
	}
}

func objectiveVars(mv *modelVars, obj plan.Objective) []solver.Variable {
	switch obj.Kind {
	case plan.MinimiseTileTempMemory:
		return []solver.Variable{mv.cost.tempBytes, mv.cost.totalCycles}
	case plan.MinimiseTiles:
		return []solver.Variable{mv.usedTiles, mv.cost.totalCycles}
	case plan.MinimiseCostDiff:
		secondary := mv.cost.tempBytes
		if obj.SecondaryIsTiles {
			secondary = mv.usedTiles
		}
		return []solver.Variable{mv.cost.totalCycles, secondary}
	default:
		return []solver.Variable{mv.cost.totalCycles, mv.cost.tempBytes}
	}
}

// swapCandidates restricts the swapOperands outer-loop axis: joint
// fully-connected forward plans always swap (spec §8 scenario 2), other
// passes try both.
func swapCandidates(opts Options) []bool {
	if opts.Pass == PassFCTrainingFwd || opts.Pass == PassFCInferenceFwd {
		return []bool{true}
	}
	return []bool{false, true}
}

// subsetsUpTo enumerates every subset of {0, ..., n-1} of size at most max,
// smallest first, matching the search driver's preference for the simplest
// transform combination that fits.
func subsetsUpTo(n, max int) [][]int {
	subsets := [][]int{nil}
	for size := 1; size <= max && size <= n; size++ {
		subsets = append(subsets, combinations(n, size)...)
	}
	return subsets
}

func combinations(n, size int) [][]int {
	var out [][]int
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := append([]int(nil), idx...)
		out = append(out, combo)
		i := size - 1
		for i >= 0 && idx[i] == n-size+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < size; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// combineConvGroupFactors lists the conv-group combining factors worth
// trying: 1 (no combining) and, when the convolution has more than one
// group, every divisor of the group count up to a handful of candidates.
func combineConvGroupFactors(p convparams.Params) []uint64 {
	factors := []uint64{1}
	if p.NumConvGroups <= 1 {
		return factors
	}
	for f := uint64(2); f <= p.NumConvGroups && f <= 8; f++ {
		if p.NumConvGroups%f == 0 {
			factors = append(factors, f)
		}
	}
	return factors
}
