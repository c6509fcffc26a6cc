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

// Package embedplan plans an embedding table's slice (gather) or update
// (scatter-add) operator: the work is split by index range (the rows being
// gathered or updated) and column range across tiles. The column grain is
// the target's vector width; for updates it is raised to the target's
// atomic-store granularity, so that no two tiles write within one atomic
// store unit of the same destination row (spec §4.11, grounded on
// poplibs_test/Embedding.cpp).
package embedplan

import (
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// Op selects which embedding table operation is being planned.
type Op int

const (
	// Slice gathers rows (or row slices) out of the table into the
	// caller's output.
	Slice Op = iota
	// Update scatter-adds the caller's gradient rows into the table.
	Update
)

// Params describes one embedding table operation to plan, spec §6.
type Params struct {
	InputType target.DataType

	NumRows    uint64
	NumColumns uint64
	NumIndices uint64
	Op         Op
}

// Options bundles the embedding planner's tunables.
type Options struct {
	PartialsType              target.DataType
	AvailableMemoryProportion float64
}

// Partition is an embedding table's tile assignment.
type Partition struct {
	RowSplit    uint64
	ColumnSplit uint64
}

// UsedTiles returns the number of tiles this partition occupies.
func (p Partition) UsedTiles() uint64 {
	return p.RowSplit * p.ColumnSplit
}

type modelVars struct {
	rowSplit, columnSplit               solver.Variable
	usedTiles, gather, scatter, rmw, tempBytes solver.Variable
}

// Plan searches for the cheapest embedding-table plan for p on t under
// opts.
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
		return Partition{}, plan.Cost{}, planerrors.NewConfigurationError("embedplan: no plan fits even with memory unbounded")
	}
	return part, cost, nil
}

func evaluate(p Params, t *target.Target, numTiles uint64, opts Options, memBound uint64) (Partition, plan.Cost, bool) {
	m := solver.NewModel()
	mv := &modelVars{}

	colGrain := max1(uint64(t.VectorWidthOf(p.InputType)))
	if p.Op == Update && t.AtomicStoreGranularity > 0 {
		atomElems := t.AtomicStoreGranularity / max1(uint64(t.TypeSizeOf(p.InputType)))
		if atomElems > colGrain {
			colGrain = atomElems
		}
	}
	colGrains := max1(p.NumColumns / colGrain)
	// rowSplit partitions the index axis (tileBytes below sizes rows from
	// p.NumIndices), not the table's row count.
	rowGrains := max1(p.NumIndices)

	mv.rowSplit = m.AddVariableRange("rowSplit", 1, rowGrains)
	mv.columnSplit = m.AddVariableRange("columnSplit", 1, colGrains)

	mv.usedTiles = m.Product("usedTiles", mv.rowSplit, mv.columnSplit)
	m.LessOrEqual(mv.usedTiles, m.AddConstant(numTiles))

	typeSize := uint64(t.TypeSizeOf(p.InputType))
	bw := uint64(t.ExchangeBytesPerCycleAt(0) * estimator.ScaleFactor)

	tileBytes := func(args []uint64) uint64 {
		rowSplit, colSplit := args[0], args[1]
		rows := ceildiv(p.NumIndices, max1(rowSplit))
		cols := ceildiv(p.NumColumns, max1(colSplit)*colGrain) * colGrain
		return rows * cols * typeSize
	}

	mv.gather = m.Call("gather", func(args []uint64) uint64 {
		if p.Op != Slice {
			return 0
		}
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: tileBytes(args), BytesPerCycleScaled: bw,
		})
	}, mv.rowSplit, mv.columnSplit)

	mv.scatter = m.Call("scatter", func(args []uint64) uint64 {
		if p.Op != Update {
			return 0
		}
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: tileBytes(args), BytesPerCycleScaled: bw,
		})
	}, mv.rowSplit, mv.columnSplit)

	mv.rmw = m.Call("rmw", func(args []uint64) uint64 {
		if p.Op != Update {
			return 0
		}
		bytes := tileBytes(args)
		return ceildiv(bytes, 4) * 2 // read, then write, 4 bytes/cycle
	}, mv.rowSplit, mv.columnSplit)

	mv.tempBytes = m.Call("tempBytes", func(args []uint64) uint64 {
		return tileBytes(args) * 2 // one live copy in flight plus the destination slice
	}, mv.rowSplit, mv.columnSplit)

	solution, ok := m.Minimize(mv.gather, mv.scatter, mv.rmw, mv.tempBytes)
	if !ok {
		return Partition{}, plan.Cost{}, false
	}
	if memBound != 0 && solution.Value(mv.tempBytes) > memBound {
		return Partition{}, plan.Cost{}, false
	}

	part := Partition{
		RowSplit:    solution.Value(mv.rowSplit),
		ColumnSplit: solution.Value(mv.columnSplit),
	}
	cost := plan.Cost{
		TotalCycles:    solution.Value(mv.gather) + solution.Value(mv.scatter) + solution.Value(mv.rmw),
		TotalTempBytes: solution.Value(mv.tempBytes),
		TotalTiles:     solution.Value(mv.usedTiles),
		Breakdown: plan.CostBreakdown{
			ExchangeIn:      solution.Value(mv.gather),
			ExchangeWeights: solution.Value(mv.scatter),
			AddInPlace:      solution.Value(mv.rmw),
		},
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
