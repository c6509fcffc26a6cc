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
	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/methodset"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// PlanFullyConnected jointly plans the forward, backward (gradient w.r.t.
// activations), and weight-update passes of a fully-connected layer, per
// spec §4.5. The three passes share one constraint model: a single set of
// partition variables, sized against the forward pass's own (unswapped)
// dimensions, that each pass's modelVars view ties into under its own
// operand permutation (DESIGN.md's "joint fully-connected tying" entry) so
// the search can never pick a batch/channel split for one pass that the
// others don't agree on. Only the method candidate is searched per plan;
// the transform choice is fixed to the permutations below, since a
// transform chosen independently per pass would defeat the point of a
// shared tile layout.
func PlanFullyConnected(fwd convparams.Params, t *target.Target, opts Options) (plan.Plan, plan.Cost, error) {
	ec := estimator.NewCache()
	canon := convparams.Canon(fwd)
	numTiles := uint64(t.NumTiles())

	fwdParams := convparams.SwapOperands(canon)
	bwdParams := convparams.SwapOperands(canon)
	wuParams := weightUpdateParams(canon)

	fwdOpts := opts
	fwdOpts.Pass = PassFCTrainingFwd
	bwdOpts := opts
	bwdOpts.Pass = PassFCTrainingBwd
	wuOpts := opts
	wuOpts.Pass = PassFCTrainingWU

	if err := validateConstraintTree(canon, opts.PlanConstraints); err != nil {
		return plan.Plan{}, plan.Cost{}, err
	}
	methodCs, _ := methodConstraintsFromTree(opts.PlanConstraints) // validated above

	var (
		bestPlan plan.Plan
		bestCost = plan.HighestCost()
		found    bool
	)
	for _, cand := range methodset.Candidates(fwdParams, t, methodCs, true, opts.Use128BitConvUnitLoad) {
		paddedFwd := convparams.PadToGrainSizes(fwdParams, cand.InChansPerGroup, cand.PartialChansPerGroup)
		paddedBwd := convparams.PadToGrainSizes(bwdParams, cand.InChansPerGroup, cand.PartialChansPerGroup)
		paddedWU := convparams.PadToGrainSizes(wuParams, cand.InChansPerGroup, cand.PartialChansPerGroup)

		p, cost, ok := evaluateJointCandidate(ec, canon, paddedFwd, paddedBwd, paddedWU, t, cand, numTiles, fwdOpts, bwdOpts, wuOpts)
		if !ok {
			continue
		}
		if !found || cost.TotalCycles < bestCost.TotalCycles ||
			(cost.TotalCycles == bestCost.TotalCycles && cost.TotalTempBytes < bestCost.TotalTempBytes) {
			bestPlan, bestCost, found = p, cost, true
		}
	}
	if !found {
		return plan.Plan{}, plan.Cost{}, planerrors.NewConfigurationError("no joint fully-connected plan fits even with memory unbounded")
	}

	ditherPlan(&bestPlan, canon, opts, numTiles, t)
	return bestPlan, bestCost, nil
}

// evaluateJointCandidate builds the single shared model for one method
// candidate and solves it.
//
// The shared partition variables are sized against canon's own
// (forward-pass, unswapped) dimensions: batch, in-channel, out-channel,
// conv-group, field, and kernel splits. Each pass's modelVars view aliases
// those same variables under the permutation its own parameters underwent
// relative to canon:
//
//   - forward and backward both plan against SwapOperands(canon), so both
//     tie batchSplit directly and swap in/out-channel splits relative to
//     the shared vars (fwd/bwd's in-channel axis is canon's out-channel
//     axis, and vice versa).
//   - weight-update plans against weightUpdateParams(canon), which swaps
//     batch and in-channel; its batchSplit ties to the shared in-channel
//     parallel split, its in-channel split ties to the shared batchSplit
//     (serial forced to 1, since batchSplit has no serial component to
//     carry a tied serial factor), and its out-channel split ties directly.
//
// The forward pass's output-channel parallel split is pinned to 1 (spec
// §8's "forward-pass output-channel parallel split == 1"); since forward's
// out-channel axis is the shared in-channel axis under the mapping above,
// that pin lands on the shared in-channel parallel variable.
func evaluateJointCandidate(ec *estimator.Cache, canon, fwdParams, bwdParams, wuParams convparams.Params, t *target.Target, cand methodset.Candidate, numTiles uint64, fwdOpts, bwdOpts, wuOpts Options) (plan.Plan, plan.Cost, bool) {
	m := solver.NewModel()
	shared := buildPartitionVars(m, canon, numTiles, fwdOpts)
	m.EqualConst(shared.inChanSplitVars.parallel, 1)

	fwdMV := &modelVars{
		m:                m,
		batchSplit:       shared.batchSplit,
		inChanSplitVars:  shared.outChanSplitVars,
		outChanSplitVars: shared.inChanSplitVars,
		convGroupSplit:   shared.convGroupSplit,
		fieldSplit:       shared.fieldSplit,
		kernelSplit:      shared.kernelSplit,
		usedTiles:        shared.usedTiles,
	}
	bwdMV := &modelVars{
		m:                m,
		batchSplit:       shared.batchSplit,
		inChanSplitVars:  shared.outChanSplitVars,
		outChanSplitVars: shared.inChanSplitVars,
		convGroupSplit:   shared.convGroupSplit,
		fieldSplit:       shared.fieldSplit,
		kernelSplit:      shared.kernelSplit,
		usedTiles:        shared.usedTiles,
	}
	wuMV := &modelVars{
		m:          m,
		batchSplit: shared.inChanSplitVars.parallel,
		inChanSplitVars: struct{ parallel, serial solver.Variable }{
			parallel: shared.batchSplit,
			serial:   m.AddConstant(1),
		},
		outChanSplitVars: shared.outChanSplitVars,
		convGroupSplit:   shared.convGroupSplit,
		fieldSplit:       shared.fieldSplit,
		kernelSplit:      shared.kernelSplit,
		usedTiles:        shared.usedTiles,
	}

	buildCost(ec, m, fwdMV, fwdParams, t, cand, fwdOpts, nil)
	buildCost(ec, m, bwdMV, bwdParams, t, cand, bwdOpts, nil)
	buildCost(ec, m, wuMV, wuParams, t, cand, wuOpts, nil)

	totalCycles := m.Sum("jointTotalCycles", fwdMV.cost.totalCycles, bwdMV.cost.totalCycles, wuMV.cost.totalCycles)
	tempBytes := m.Max("jointTempBytes", fwdMV.cost.tempBytes, bwdMV.cost.tempBytes, wuMV.cost.tempBytes)

	solution, ok := m.Minimize(totalCycles, tempBytes)
	if !ok {
		return plan.Plan{}, plan.Cost{}, false
	}

	fwdPartition := partitionFromSolution(fwdMV, solution)
	bwdPartition := partitionFromSolution(bwdMV, solution)
	wuPartition := partitionFromSolution(wuMV, solution)

	composite := plan.Cost{
		TotalCycles:    solution.Value(totalCycles),
		TotalTempBytes: solution.Value(tempBytes),
		TotalTiles:     solution.Value(shared.usedTiles),
		Breakdown: sumBreakdowns(
			breakdownFromSolution(fwdMV, solution),
			breakdownFromSolution(bwdMV, solution),
			breakdownFromSolution(wuMV, solution),
		),
	}

	jointPlan := plan.Plan{
		// One TransformRecord/PartitionRecord/TypeRecord per pass, in
		// forward/backward/weight-update order: a deliberate reuse of the
		// per-hierarchy-level slices to carry per-pass sub-plans instead,
		// since this planner's hierarchy has already been collapsed to a
		// single level (see DESIGN.md).
		Transforms: []plan.TransformRecord{
			{SwapOperands: true},
			{SwapOperands: true},
			{SwapOperands: false},
		},
		Partitions: []plan.PartitionRecord{fwdPartition, bwdPartition, wuPartition},
		Types: []plan.TypeRecord{
			{PartialType: cand.PartialType, ResultType: fwdOpts.PartialsType},
			{PartialType: cand.PartialType, ResultType: bwdOpts.PartialsType},
			{PartialType: cand.PartialType, ResultType: wuOpts.PartialsType},
		},
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
		IsJointPlan: true,
	}
	return jointPlan, composite, true
}

// weightUpdateParams derives the weight-update pass's parameter
// permutation: batch becomes the reduction (input-channel) axis, since the
// weight gradient sums outer products over the batch dimension.
func weightUpdateParams(fwd convparams.Params) convparams.Params {
	c := fwd.Clone()
	c.Batch, c.InChansPerGroup = c.InChansPerGroup, c.Batch
	return c
}

func sumBreakdowns(bs ...plan.CostBreakdown) plan.CostBreakdown {
	var out plan.CostBreakdown
	for _, b := range bs {
		out.RearrangeBeforeSlice += b.RearrangeBeforeSlice
		out.DynamicSlice += b.DynamicSlice
		out.Transform += b.Transform
		out.ExchangeIn += b.ExchangeIn
		out.ExchangeWeights += b.ExchangeWeights
		out.ExchangeReduce += b.ExchangeReduce
		out.TileLevelTransform += b.TileLevelTransform
		out.PartialCalc += b.PartialCalc
		out.Reduce += b.Reduce
		out.DynamicUpdate += b.DynamicUpdate
		out.AddInPlace += b.AddInPlace
		out.Cast += b.Cast
	}
	return out
}
