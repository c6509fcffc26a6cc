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
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// modelVars collects the variables of one sparse-dense constraint model.
// The sparse operand's rows (x) and the dense operand's columns (z) are
// parallel-split across tiles; the shared contraction axis (y) is a serial
// loop that rotates buckets around the ring of tiles sharing a z-partition
// (spec §4.6's "propagating exchange").
type modelVars struct {
	m *solver.Model

	groupSplit solver.Variable
	xSplit     solver.Variable // parallel
	zSplit     solver.Variable // parallel
	ySplit     solver.Variable // serial, propagation steps

	usedTiles  solver.Variable
	bucketMeta solver.Variable
	bucketNz   solver.Variable
	cost       costVars
}

type costVars struct {
	exchangeSparse, exchangeDense solver.Variable
	gather, propagatingExchange  solver.Variable
	partialCalc, reduce          solver.Variable
	tempBytes                    solver.Variable
	totalCycles                  solver.Variable
}

// method identifies which on-tile compute kernel a model is built for and
// the bucket orientation (rows x cols) it gathers against. GradA, when it
// reuses the forward pass's buckets (spec §8 scenario 5), never gathers of
// its own: its rows/cols are the forward ones swapped, and its split is
// pinned to the forward split transposed rather than searched.
type method struct {
	planMethod plan.Method
	rows, cols uint64
}

// fixedSplit pins every split variable to a single value, used when gradA
// reuses the forward pass's partition transposed instead of searching its
// own.
type fixedSplit struct {
	Group, X, Z, Y uint64
}

func buildModel(ec *estimator.Cache, p Params, t *target.Target, mth method, numTiles uint64, opts Options, fixed *fixedSplit, bucketOverride *estimator.BucketSizing) (*solver.Model, *modelVars) {
	m := solver.NewModel()
	mv := &modelVars{m: m}

	if fixed != nil {
		mv.groupSplit = m.AddConstant(fixed.Group)
		mv.xSplit = m.AddConstant(fixed.X)
		mv.zSplit = m.AddConstant(fixed.Z)
		mv.ySplit = m.AddConstant(fixed.Y)
	} else {
		mv.groupSplit = m.AddVariableRange("groupSplit", 1, max1(p.Groups))
		mv.xSplit = m.AddVariableRange("xSplit", 1, max1(mth.rows))
		mv.zSplit = m.AddVariableRange("zSplit", 1, max1(p.Batch))
		mv.ySplit = m.AddVariableRange("ySplit", 1, max1(mth.cols))
	}

	mv.usedTiles = m.Product("usedTiles", mv.groupSplit, mv.xSplit, mv.zSplit)
	m.LessOrEqual(mv.usedTiles, m.AddConstant(numTiles))

	if fixed == nil {
		applyPartitionPins(mv, opts.PlanConstraints)
	}

	if bucketOverride != nil {
		mv.bucketMeta = m.AddConstant(bucketOverride.MetaInfoElemsPerBucket)
		mv.bucketNz = m.AddConstant(bucketOverride.NzElemsPerBucket)
	} else {
		metaAtom := uint64(4)
		nzAtom := uint64(t.VectorWidthOf(p.InputType))
		mv.bucketMeta = m.Call("bucketMeta", func(args []uint64) uint64 {
			rowsPerTile := ceildiv(mth.rows, max1(args[0]))
			colsPerTile := ceildiv(mth.cols, max1(args[1]))
			b := estimator.SizeBuckets(rowsPerTile, colsPerTile, 1-p.NzRatio,
				opts.MetaInfoBucketOversizeProportion, metaAtom, nzAtom)
			return b.MetaInfoElemsPerBucket
		}, mv.xSplit, mv.ySplit)
		mv.bucketNz = m.Call("bucketNz", func(args []uint64) uint64 {
			rowsPerTile := ceildiv(mth.rows, max1(args[0]))
			colsPerTile := ceildiv(mth.cols, max1(args[1]))
			b := estimator.SizeBuckets(rowsPerTile, colsPerTile, 1-p.NzRatio,
				opts.MetaInfoBucketOversizeProportion, metaAtom, nzAtom)
			return b.NzElemsPerBucket
		}, mv.xSplit, mv.ySplit)
	}

	buildCost(ec, m, mv, p, t, mth, opts, fixed != nil)

	return m, mv
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
