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
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// buildCost wires the itemised cost components from spec §4.6 into the
// model: the sparse bucket's exchange is modelled as a broadcast scaled by
// the z-split (the same bucket feeds every tile holding a slice of the
// dense operand's columns), the dense operand's exchange as a broadcast
// scaled by the x-split (the same column slice feeds every tile holding a
// slice of the sparse rows), and the serial y-loop as a ring of
// propagating exchanges rotating buckets between consecutive steps.
func buildCost(ec *estimator.Cache, m *solver.Model, mv *modelVars, p Params, t *target.Target, mth method, opts Options, reused bool) {
	typeSize := uint64(t.TypeSizeOf(p.InputType))
	bw := uint64(t.ExchangeBytesPerCycleAt(0) * estimator.ScaleFactor)

	mv.cost.exchangeSparse = m.Call("exchangeSparse", func(args []uint64) uint64 {
		meta, nz, z := args[0], args[1], args[2]
		bucketBytes := (meta + nz) * typeSize
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: bucketBytes, BytesPerCycleScaled: bw,
			SharedBus: t.SupportsSharedExchangeBus, ConsecutiveTilesSameData: z,
			TilesPerSharedBus: uint64(t.TilesPerSharedExchangeBus),
		})
	}, mv.bucketMeta, mv.bucketNz, mv.zSplit)

	denseBytes := p.InChans * p.Batch * typeSize
	mv.cost.exchangeDense = m.Call("exchangeDense", func(args []uint64) uint64 {
		ySplit, zSplit, x := args[0], args[1], args[2]
		bytesPerTile := denseBytes / max1(ySplit) / max1(zSplit)
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: bytesPerTile, BytesPerCycleScaled: bw,
			SharedBus: t.SupportsSharedExchangeBus, ConsecutiveTilesSameData: x,
			TilesPerSharedBus: uint64(t.TilesPerSharedExchangeBus),
		})
	}, mv.ySplit, mv.zSplit, mv.xSplit)

	if reused {
		mv.cost.gather = m.AddConstant(0)
	} else {
		mv.cost.gather = m.Call("gather", func(args []uint64) uint64 {
			nz := args[0]
			return ec.EstimateSparseGatherCycles(estimator.SparseGatherArgs{
				NumBuckets: 1, NzElemsPerBucket: nz, NumWorkers: uint64(t.NumWorkerContexts),
			})
		}, mv.bucketNz)
	}

	mv.cost.propagatingExchange = m.Call("propagatingExchange", func(args []uint64) uint64 {
		meta, nz, ySplit := args[0], args[1], args[2]
		if ySplit <= 1 {
			return 0
		}
		bucketBytes := (meta + nz) * typeSize
		return estimator.EstimatePropagatingExchangeCycles(estimator.PropagatingExchangeArgs{
			BucketBytes: bucketBytes, NumPropagationSteps: ySplit - 1, BytesPerCycleScaled: bw,
		})
	}, mv.bucketMeta, mv.bucketNz, mv.ySplit)

	mv.cost.partialCalc = m.Call("partialCalc", func(args []uint64) uint64 {
		nz, zSplit := args[0], args[1]
		cols := ceildiv(p.Batch, max1(zSplit))
		return ec.EstimateSparseDenseElemWiseCycles(estimator.SparseDenseElemWiseArgs{
			NzElemsPerBucket: nz, DenseColumns: cols, NumWorkers: uint64(t.NumWorkerContexts),
			PartialsAreFloat: opts.PartialsType == target.Float,
		})
	}, mv.bucketNz, mv.zSplit)

	mv.cost.reduce = m.Call("reduce", func(args []uint64) uint64 {
		ySplit, xSplit, zSplit := args[0], args[1], args[2]
		if ySplit <= 1 {
			return 0
		}
		out := ceildiv(mth.rows, max1(xSplit)) * ceildiv(p.Batch, max1(zSplit))
		return ec.EstimateReduceCycles(estimator.ReduceArgs{
			OutputSize: out, ReductionDepth: ySplit,
			DataPathWidth: uint64(t.DataPathWidth), PartialsAreFloat: opts.PartialsType == target.Float,
		})
	}, mv.ySplit, mv.xSplit, mv.zSplit)

	totalCyclesVars := []solver.Variable{
		mv.cost.exchangeSparse, mv.cost.exchangeDense, mv.cost.gather,
		mv.cost.propagatingExchange, mv.cost.partialCalc, mv.cost.reduce,
	}
	mv.cost.totalCycles = m.Sum("totalCycles", totalCyclesVars...)

	// Temp bytes: the bucket occupies twice its steady-state size while a
	// propagation step is in flight (the incoming and outgoing bucket are
	// both live), plus the dense operand slice and the output partial.
	mv.cost.tempBytes = m.Call("tempBytes", func(args []uint64) uint64 {
		meta, nz, ySplit, zSplit, xSplit := args[0], args[1], args[2], args[3], args[4]
		bucketBytes := (meta + nz) * typeSize
		liveBucketBytes := bucketBytes
		if ySplit > 1 {
			liveBucketBytes = bucketBytes * 2
		}
		denseTileBytes := denseBytes / max1(ySplit) / max1(zSplit)
		outBytes := ceildiv(mth.rows, max1(xSplit)) * ceildiv(p.Batch, max1(zSplit)) * typeSize
		return liveBucketBytes + denseTileBytes + outBytes
	}, mv.bucketMeta, mv.bucketNz, mv.ySplit, mv.zSplit, mv.xSplit)
}
