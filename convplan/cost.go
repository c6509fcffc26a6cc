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

// fudgeNumerator/fudgeDenominator are the empirical transform-cycle
// calibrations spec §9's Open Questions says to reproduce verbatim rather
// than re-derive: 5/4 for same-type rearrangement, 5/3 when a cast is
// folded into the rearrange.
const (
	fudgeSameTypeNum, fudgeSameTypeDen = 5, 4
	fudgeCastNum, fudgeCastDen         = 5, 3
)

// buildCost wires every itemised cost component from spec §4.4 into the
// model as Call constraints over the partition variables, then sums them
// into mv.cost.totalCycles and composes mv.cost.tempBytes per the "Temp-
// bytes composition" paragraph.
func buildCost(ec *estimator.Cache, m *solver.Model, mv *modelVars, p convparams.Params, t *target.Target, cand methodset.Candidate, opts Options, ref *plan.Cost) {
	typeSize := uint64(t.TypeSizeOf(p.InputType))
	bw := uint64(t.ExchangeBytesPerCycleAt(0) * estimator.ScaleFactor)

	totalInBytes := p.InChansPerGroup * p.NumInGroups * p.Batch * typeSize
	mv.cost.exchangeIn = m.Call("exchangeIn", func(args []uint64) uint64 {
		parallel := args[0]
		bytesPerTile := totalInBytes / max1(parallel)
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: bytesPerTile, BytesPerCycleScaled: bw,
			SharedBus: t.SupportsSharedExchangeBus, ConsecutiveTilesSameData: parallel,
			TilesPerSharedBus: uint64(t.TilesPerSharedExchangeBus),
		})
	}, mv.usedTiles)

	weightBytes := p.InChansPerGroup * p.OutChansPerGroup * typeSize
	mv.cost.exchangeWeights = m.Call("exchangeWeights", func(args []uint64) uint64 {
		parallel := args[0]
		bytesPerTile := weightBytes / max1(parallel)
		return estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: bytesPerTile, BytesPerCycleScaled: bw,
		})
	}, mv.usedTiles)

	mv.cost.exchangeReduce = m.Call("exchangeReduce", func(args []uint64) uint64 {
		serial := args[0]
		if serial <= 1 {
			return 0
		}
		outBytes := p.OutChansPerGroup * p.Batch * typeSize
		stages := estimator.PlanMultiStageReduction(serial, outBytes, 4)
		var cycles uint64
		for _, st := range stages {
			cycles += estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
				Bytes: st.OutputSize, BytesPerCycleScaled: bw,
			})
		}
		return cycles
	}, mv.inChanSplitVars.serial)

	memcpyRate := uint64(t.MemcpyBytesPerCycle)
	if memcpyRate == 0 {
		memcpyRate = 1
	}
	mv.cost.transform = m.Call("transform", func(args []uint64) uint64 {
		parallel := args[0]
		bytes := totalInBytes / max1(parallel)
		fudgeNum, fudgeDen := uint64(fudgeSameTypeNum), uint64(fudgeSameTypeDen)
		if p.InputType != p.OutputType {
			fudgeNum, fudgeDen = fudgeCastNum, fudgeCastDen
		}
		cycles := ceildiv(bytes, memcpyRate)
		return cycles * fudgeNum / fudgeDen
	}, mv.usedTiles)

	mv.cost.tileLevelTransform = m.Call("tileLevelTransform", func(args []uint64) uint64 {
		inChan := args[0]
		padded := roundUp(inChan, cand.InChansPerGroup)
		if padded <= inChan {
			return 0
		}
		return ec.EstimateZeroCycles(estimator.ZeroArgs{
			NumElements: padded - inChan, TypeSize: typeSize, NumWorkers: uint64(t.NumWorkerContexts),
		})
	}, mv.inChanSplitVars.parallel)

	partialCalcArgs := append([]solver.Variable{mv.batchSplit, mv.inChanSplitVars.parallel, mv.outChanSplitVars.parallel}, mv.fieldSplit...)
	mv.cost.partialCalc = m.Call("partialCalc", func(args []uint64) uint64 {
		batch, inChanParallel, outChanParallel := args[0], args[1], args[2]
		fieldParallel := args[3:]
		vargs := estimator.ConvVertexArgs{
			BatchElements:       ceildiv(p.Batch, max1(batch)),
			NumFieldDims:        len(p.Field),
			NumKernelDims:       len(p.Field),
			InChansPerGroup:     ceildiv(p.InChansPerGroup, max1(inChanParallel)),
			OutChansPerGroup:    ceildiv(p.OutChansPerGroup, max1(outChanParallel)),
			NumConvUnits:        cand.PartialChansPerGroup,
			InputLoadElemsPerCycle: 4,
			NumWorkerContexts:   uint64(t.NumWorkerContexts),
			InputIsFloat:        p.InputType == target.Float,
			PartialsAreFloat:    opts.PartialsType == target.Float,
			WindowWidth:         cand.SLICWindowWidth,
		}
		for i := 0; i < len(p.Field) && i < 4; i++ {
			fp := uint64(1)
			if i < len(fieldParallel) {
				fp = max1(fieldParallel[i])
			}
			vargs.OutputFieldShape[i] = ceildiv(max1(outSizeOf(p.Field[i])), fp)
			vargs.KernelShape[i] = max1(p.Field[i].KernelSize)
		}
		switch cand.Method {
		case plan.MethodAMP:
			return ec.EstimateAMP1x1Cycles(vargs)
		case plan.MethodSLIC:
			return ec.EstimateSLICCycles(vargs)
		case plan.MethodMAC, plan.MethodHMAC:
			return ec.EstimateHorizontalMacCycles(vargs)
		case plan.MethodVMAC:
			return ec.EstimateVMACCycles(vargs, cand.ConvGroupsPerGroup)
		case plan.MethodOuterProduct:
			return ec.EstimateOuterProductCycles(vargs)
		}
		return 0
	}, partialCalcArgs...)

	mv.cost.reduce = m.Call("reduce", func(args []uint64) uint64 {
		serial := args[0]
		if serial <= 1 {
			return 0
		}
		out := ceildiv(p.OutChansPerGroup*p.Batch, serial)
		return ec.EstimateReduceCycles(estimator.ReduceArgs{
			OutputSize: out, ReductionDepth: serial,
			DataPathWidth: uint64(t.DataPathWidth), PartialsAreFloat: opts.PartialsType == target.Float,
			SingleInput: opts.EnableSingleInputReduce, FastReduceEnabled: opts.EnableFastReduce,
		})
	}, mv.inChanSplitVars.serial)

	mv.cost.dynamicSlice = m.Call("dynamicSlice", func(args []uint64) uint64 {
		serial := args[0]
		if serial <= 1 {
			return 0
		}
		return ceildiv(p.InChansPerGroup, serial) * 2
	}, mv.inChanSplitVars.serial)

	mv.cost.dynamicUpdate = m.Call("dynamicUpdate", func(args []uint64) uint64 {
		serial := args[0]
		if serial <= 1 {
			return 0
		}
		return ceildiv(p.OutChansPerGroup, serial) * 2
	}, mv.outChanSplitVars.serial)

	mv.cost.addInPlace = m.Call("addInPlace", func(args []uint64) uint64 {
		serial := args[0]
		if serial <= 1 {
			return 0
		}
		return ceildiv(p.OutChansPerGroup*p.Batch, serial)
	}, mv.outChanSplitVars.serial)

	mv.cost.cast = m.Call("cast", func(args []uint64) uint64 {
		if p.InputType == p.OutputType {
			return 0
		}
		parallel := args[0]
		return ec.EstimateCastCycles(estimator.CastArgs{
			NumElements: ceildiv(p.OutChansPerGroup*p.Batch, max1(parallel)),
			SrcTypeSize: uint64(t.TypeSizeOf(p.InputType)), DstTypeSize: uint64(t.TypeSizeOf(p.OutputType)),
			NumWorkers: uint64(t.NumWorkerContexts),
		})
	}, mv.usedTiles)

	mv.cost.rearrangeBeforeSlice = m.Call("rearrangeBeforeSlice", func(args []uint64) uint64 {
		inSerial, outSerial := args[0], args[1]
		if inSerial <= 1 && outSerial <= 1 {
			return 0
		}
		return ceildiv(p.InChansPerGroup*p.OutChansPerGroup*typeSize, memcpyRate)
	}, mv.inChanSplitVars.serial, mv.outChanSplitVars.serial)

	totalCyclesVars := []solver.Variable{
		mv.cost.exchangeIn, mv.cost.exchangeWeights, mv.cost.exchangeReduce,
		mv.cost.transform, mv.cost.tileLevelTransform, mv.cost.partialCalc,
		mv.cost.reduce, mv.cost.dynamicSlice, mv.cost.dynamicUpdate,
		mv.cost.addInPlace, mv.cost.cast, mv.cost.rearrangeBeforeSlice,
	}

	if ref != nil {
		diffVars := make([]solver.Variable, len(totalCyclesVars))
		for i, v := range totalCyclesVars {
			refItem := refItemFor(i, *ref)
			diffVars[i] = m.Call("diff", func(args []uint64) uint64 {
				if args[0] > refItem {
					return args[0] - refItem
				}
				return 0
			}, v)
		}
		mv.cost.totalCycles = m.Sum("totalPerStepCycleDiff", diffVars...)
	} else {
		mv.cost.totalCycles = m.Sum("totalCycles", totalCyclesVars...)
	}

	// Temp-bytes composition: the maximum of (rearrange-before-slice +
	// transform + tile-level-transform, rearrange-before-slice + reduce)
	// plus add-in-place bytes, per spec §4.4. Computed directly from the
	// same per-tile byte quantities the cycle estimators above derive their
	// costs from, rather than from the cycle counts themselves.
	mv.cost.tempBytes = m.Call("tempBytes", func(args []uint64) uint64 {
		usedTiles, inSerial, outSerial, inParallel := args[0], args[1], args[2], args[3]

		transformBytes := totalInBytes / max1(usedTiles)

		base := ceildiv(p.InChansPerGroup, max1(inParallel))
		padded := roundUp(base, cand.InChansPerGroup)
		tileLevelBytes := uint64(0)
		if padded > base {
			tileLevelBytes = (padded - base) * typeSize
		}

		reduceBytes := uint64(0)
		if inSerial > 1 {
			reduceBytes = ceildiv(p.OutChansPerGroup*p.Batch, inSerial) * typeSize
		}

		rearrangeBytes := uint64(0)
		if inSerial > 1 || outSerial > 1 {
			rearrangeBytes = p.InChansPerGroup * p.OutChansPerGroup * typeSize
		}

		addInPlaceBytes := uint64(0)
		if outSerial > 1 {
			addInPlaceBytes = ceildiv(p.OutChansPerGroup*p.Batch, outSerial) * typeSize
		}

		composed := rearrangeBytes + transformBytes + tileLevelBytes
		if alt := rearrangeBytes + reduceBytes; alt > composed {
			composed = alt
		}
		return composed + addInPlaceBytes
	}, mv.usedTiles, mv.inChanSplitVars.serial, mv.outChanSplitVars.serial, mv.inChanSplitVars.parallel)
}

// refItemFor maps a position in totalCyclesVars back to the matching
// itemised field of a reference Cost, for the cost-diff objective.
func refItemFor(i int, ref plan.Cost) uint64 {
	items := []uint64{
		ref.Breakdown.ExchangeIn, ref.Breakdown.ExchangeWeights, ref.Breakdown.ExchangeReduce,
		ref.Breakdown.Transform, ref.Breakdown.TileLevelTransform, ref.Breakdown.PartialCalc,
		ref.Breakdown.Reduce, ref.Breakdown.DynamicSlice, ref.Breakdown.DynamicUpdate,
		ref.Breakdown.AddInPlace, ref.Breakdown.Cast, ref.Breakdown.RearrangeBeforeSlice,
	}
	if i < len(items) {
		return items[i]
	}
	return 0
}

func ceildiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func roundUp(v, grain uint64) uint64 {
	if grain == 0 {
		grain = 1
	}
	return ceildiv(v, grain) * grain
}
