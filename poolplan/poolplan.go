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

// Package poolplan plans a windowed pooling operator: batch, channels, and
// the output field are each split in parallel across tiles, with no
// serial axis, since pooling has no accumulation dimension to time-slice
// (spec §4.10, grounded on PoolVertices.cpp).
package poolplan

import (
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// Params describes one pooling operator to plan, spec §6.
type Params struct {
	InputType target.DataType

	Batch         uint64
	ChansPerGroup uint64
	OutputField   uint64
	WindowElems   uint64
	Method        estimator.PoolMethod
}

// Options bundles the pooling planner's tunables.
type Options struct {
	PartialsType              target.DataType
	AvailableMemoryProportion float64
}

// Partition is a pooling operator's tile assignment.
type Partition struct {
	BatchSplit uint64
	ChanSplit  uint64
	FieldSplit uint64
}

// UsedTiles returns the number of tiles this partition occupies.
func (p Partition) UsedTiles() uint64 {
	return p.BatchSplit * p.ChanSplit * p.FieldSplit
}

type modelVars struct {
	batchSplit, chanSplit, fieldSplit solver.Variable
	usedTiles, compute, tempBytes    solver.Variable
}

// Plan searches for the cheapest pooling plan for p on t under opts.
func Plan(p Params, t *target.Target, opts Options) (Partition, plan.Cost, error) {
	numTiles := uint64(t.NumTiles())
	perTileBudget := t.BytesPerTile
	memBound := uint64(float64(perTileBudget) * opts.AvailableMemoryProportion)

	if opts.AvailableMemoryProportion > 0 {
		for bound := memBound; bound <= perTileBudget; bound *= 2 {
			part, cost, ok := evaluate(p, t, numTiles, opts, bound)
			if ok {
				return part, cost, nil
			}
			if bound == 0 {
				bound = 1
			}
		}
	}

	part, cost, ok := evaluate(p, t, numTiles, opts, 0)
	if !ok {
		return Partition{}, plan.Cost{}, planerrors.NewConfigurationError("poolplan: no plan fits even with memory unbounded")
	}
	return part, cost, nil
}

func evaluate(p Params, t *target.Target, numTiles uint64, opts Options, memBound uint64) (Partition, plan.Cost, bool) {
	ec := estimator.NewCache()
	m := solver.NewModel()
	mv := &modelVars{}

	mv.batchSplit = m.AddVariableRange("batchSplit", 1, max1(p.Batch))
	mv.chanSplit = m.AddVariableRange("chanSplit", 1, max1(p.ChansPerGroup))

	// Grain size: the output field splits in multiples of the target's
	// natural vector width for the operand type, since a tile's pooling
	// vertex processes one vector-width's worth of field elements per
	// cycle and a sub-grain remainder would leave lanes idle.
	grain := max1(uint64(t.VectorWidthOf(p.InputType)))
	fieldGrains := max1(p.OutputField / grain)
	mv.fieldSplit = m.AddVariableRange("fieldSplit", 1, fieldGrains)

	mv.usedTiles = m.Product("usedTiles", mv.batchSplit, mv.chanSplit, mv.fieldSplit)
	m.LessOrEqual(mv.usedTiles, m.AddConstant(numTiles))

	typeSize := uint64(t.TypeSizeOf(p.InputType))
	numWorkers := uint64(t.NumWorkerContexts)

	mv.compute = m.Call("compute", func(args []uint64) uint64 {
		batchSplit, chanSplit, fieldSplit := args[0], args[1], args[2]
		return ec.EstimatePoolingCycles(estimator.PoolVertexArgs{
			BatchElements:    ceildiv(p.Batch, max1(batchSplit)),
			ChansPerGroup:    ceildiv(p.ChansPerGroup, max1(chanSplit)),
			OutputFieldElems: ceildiv(p.OutputField, max1(fieldSplit)*grain) * grain,
			WindowElems:      p.WindowElems,
			Method:           p.Method,
			NumWorkers:       numWorkers,
			VectorWidth:      grain,
		})
	}, mv.batchSplit, mv.chanSplit, mv.fieldSplit)

	mv.tempBytes = m.Call("tempBytes", func(args []uint64) uint64 {
		batchSplit, chanSplit, fieldSplit := args[0], args[1], args[2]
		inElems := ceildiv(p.Batch, max1(batchSplit)) * ceildiv(p.ChansPerGroup, max1(chanSplit)) *
			ceildiv(p.OutputField, max1(fieldSplit)*grain) * grain * p.WindowElems
		outElems := ceildiv(p.Batch, max1(batchSplit)) * ceildiv(p.ChansPerGroup, max1(chanSplit)) *
			ceildiv(p.OutputField, max1(fieldSplit)*grain) * grain
		return (inElems + outElems) * typeSize
	}, mv.batchSplit, mv.chanSplit, mv.fieldSplit)

	solution, ok := m.Minimize(mv.compute, mv.tempBytes)
	if !ok {
		return Partition{}, plan.Cost{}, false
	}
	if memBound != 0 && solution.Value(mv.tempBytes) > memBound {
		return Partition{}, plan.Cost{}, false
	}

	part := Partition{
		BatchSplit: solution.Value(mv.batchSplit),
		ChanSplit:  solution.Value(mv.chanSplit),
		FieldSplit: solution.Value(mv.fieldSplit),
	}
	cost := plan.Cost{
		TotalCycles:    solution.Value(mv.compute),
		TotalTempBytes: solution.Value(mv.tempBytes),
		TotalTiles:     solution.Value(mv.usedTiles),
		Breakdown:      plan.CostBreakdown{PartialCalc: solution.Value(mv.compute)},
	}
	return part, cost, true
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

func ceildiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
