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
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// modelVars collects the solver.Variable handles introduced while building
// one level's worth of partition and cost variables. The hierarchy is
// modelled as a single level spanning the whole device (spec §3's
// "typically one level plus the tile leaf" collapsed to its leaf level for
// tractability — see DESIGN.md). Every exchange term uses the level-0
// ExchangeBytesPerCycle entry; no separate inter-IPU exchange term is
// modelled, on single- or multi-IPU targets alike.
type modelVars struct {
	m *solver.Model

	fieldSplit  []solver.Variable
	batchSplit  solver.Variable
	kernelSplit []solver.Variable
	inChanSplitVars  struct{ parallel, serial solver.Variable }
	outChanSplitVars struct{ parallel, serial solver.Variable }
	convGroupSplit solver.Variable

	usedTiles solver.Variable
	cost      costVars
}

type costVars struct {
	exchangeIn, exchangeWeights, exchangeReduce solver.Variable
	transform, tileLevelTransform               solver.Variable
	partialCalc, reduce                         solver.Variable
	dynamicSlice, dynamicUpdate, addInPlace, cast solver.Variable
	rearrangeBeforeSlice                        solver.Variable
	tempBytes                                   solver.Variable
	totalCycles                                 solver.Variable
}

// buildModel constructs the constraint model for params under candidate
// cand on target t, bounded to numTiles tiles, per spec §4.4.
func buildModel(ec *estimator.Cache, p convparams.Params, t *target.Target, cand methodset.Candidate, numTiles uint64, opts Options, ref *plan.Cost) (*solver.Model, *modelVars) {
	m := solver.NewModel()
	mv := buildPartitionVars(m, p, numTiles, opts)
	buildCost(ec, m, mv, p, t, cand, opts, ref)
	return m, mv
}

// buildPartitionVars introduces the partition variables (and their usedTiles
// and plan-constraints ties) for params against an existing model m, without
// attaching a cost. PlanFullyConnected (joint.go) calls this once against a
// shared model to build the partition variables the forward/backward/
// weight-update sub-models tie into, per spec §4.5's shared-variable joint
// plan; buildModel above is the single-pass wrapper around it.
func buildPartitionVars(m *solver.Model, p convparams.Params, numTiles uint64, opts Options) *modelVars {
	mv := &modelVars{m: m}

	mv.batchSplit = m.AddVariableRange("batchSplit", 1, max1(p.Batch))
	mv.convGroupSplit = m.AddVariableRange("convGroupSplit", 1, max1(p.NumConvGroups))

	mv.fieldSplit = make([]solver.Variable, len(p.Field))
	for i, f := range p.Field {
		hi := max1(outSizeOf(f))
		mv.fieldSplit[i] = m.AddVariableRange("fieldSplit", 1, hi)
	}

	mv.kernelSplit = make([]solver.Variable, len(p.Field))
	for i, f := range p.Field {
		if i == len(p.Field)-1 {
			// Architecture limitation: the innermost kernel dimension is
			// never parallel-split.
			mv.kernelSplit[i] = m.AddConstant(1)
			continue
		}
		mv.kernelSplit[i] = m.AddVariableRange("kernelSplit", 1, max1(f.KernelSize))
	}

	mv.inChanSplitVars.parallel = m.AddVariableRange("inChanSplitParallel", 1, max1(p.InChansPerGroup))
	mv.inChanSplitVars.serial = m.AddVariableRange("inChanSplitSerial", 1, max1(p.InChansPerGroup))
	mv.outChanSplitVars.parallel = m.AddVariableRange("outChanSplitParallel", 1, max1(p.OutChansPerGroup))
	mv.outChanSplitVars.serial = m.AddVariableRange("outChanSplitSerial", 1, max1(p.OutChansPerGroup))

	// Invariant: only one of in-chan/out-chan serial split is > 1.
	bothSerial := m.Product("bothSerialActive",
		boolVar(m, mv.inChanSplitVars.serial),
		boolVar(m, mv.outChanSplitVars.serial))
	m.EqualConst(bothSerial, 0)

	// usedTiles = product of all parallel splits; bounded by numTiles.
	parallelVars := []solver.Variable{mv.batchSplit, mv.convGroupSplit,
		mv.inChanSplitVars.parallel, mv.outChanSplitVars.parallel}
	parallelVars = append(parallelVars, mv.fieldSplit...)
	parallelVars = append(parallelVars, mv.kernelSplit...)
	mv.usedTiles = m.Product("usedTiles", parallelVars...)
	m.LessOrEqual(mv.usedTiles, m.AddConstant(numTiles))

	// Plan-constraints pins (spec §9's option-tree interpreter); indices are
	// pre-validated by validateConstraintTree before the search loop runs,
	// so an error here would indicate a caller bypassing Plan/PlanFullyConnected.
	_ = applyPartitionPins(mv, opts.PlanConstraints)

	return mv
}

func boolVar(m *solver.Model, v solver.Variable) solver.Variable {
	// A cheap 0/1 projection used to express "is this split > 1" for the
	// bothSerialActive invariant above.
	return m.Call("isGtOne", func(args []uint64) uint64 {
		if args[0] > 1 {
			return 1
		}
		return 0
	}, v)
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

func outSizeOf(f convparams.FieldDim) uint64 {
	return convparams.OutputSize(f)
}
