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
	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// syncCyclesPerStep is the fixed per-time-step supervisor barrier cost
// paid at every alpha/beta recurrence step, regardless of how much work
// that step does: every tile holding a slice of the current time column
// must wait for its neighbours' boundary values before advancing.
const syncCyclesPerStep = 20

// buildCost wires the CTC cost components from spec §4.7 into the model:
// the alpha/beta forward-backward pass and the gradient-from-alpha-beta
// pass each cost compute cycles proportional to the per-tile lattice cell
// count. The boundary values the recurrence carries across the time split
// cost one exchange per time-split boundary (timeSplit-1 in all), and
// every per-tile time step pays a fixed sync cost.
func buildCost(m *solver.Model, mv *modelVars, p Params, t *target.Target, opts Options, strategy SliceStrategy) {
	typeSize := uint64(t.TypeSizeOf(p.InputType))
	bw := uint64(t.ExchangeBytesPerCycleAt(0) * estimator.ScaleFactor)
	numWorkers := opts.NumWorkers
	if numWorkers == 0 {
		numWorkers = uint64(t.NumWorkerContexts)
	}

	perTileCells := func(args []uint64) uint64 {
		batchSplit, timeSplit, labelTiles := args[0], args[1], args[2]
		batchPerTile := ceildiv(p.Batch, max1(batchSplit))
		timePerTile := ceildiv(p.MaxTime, max1(timeSplit))
		labelPerTile := ceildiv(p.ExtendedLabelLength(), max1(labelTiles))
		return batchPerTile * timePerTile * labelPerTile
	}

	mv.cost.alphaBeta = m.Call("alphaBeta", func(args []uint64) uint64 {
		cells := perTileCells(args)
		return ceildiv(cells*2, numWorkers) * 6 // two passes (alpha, beta), ~6 cycles/cell
	}, mv.batchSplit, mv.timeSplit, mv.labelTiles)

	mv.cost.gradFromAlphaBeta = m.Call("gradFromAlphaBeta", func(args []uint64) uint64 {
		cells := perTileCells(args)
		return ceildiv(cells, numWorkers) * 4
	}, mv.batchSplit, mv.timeSplit, mv.labelTiles)

	boundaryBytes := func(args []uint64) uint64 {
		batchSplit, labelTiles := args[0], args[1]
		batchPerTile := ceildiv(p.Batch, max1(batchSplit))
		labelPerTile := ceildiv(p.ExtendedLabelLength(), max1(labelTiles))
		return batchPerTile * labelPerTile * typeSize
	}

	mv.cost.exchange = m.Call("exchange", func(args []uint64) uint64 {
		timeSplit := args[0]
		bytes := boundaryBytes(args[1:])
		if timeSplit <= 1 {
			return 0
		}
		perStep := estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
			Bytes: bytes, BytesPerCycleScaled: bw,
		})
		return perStep * (timeSplit - 1)
	}, mv.timeSplit, mv.batchSplit, mv.labelTiles)

	mv.cost.sync = m.Call("sync", func(args []uint64) uint64 {
		timeSplit := args[0]
		return p.MaxTime / max1(timeSplit) * syncCyclesPerStep
	}, mv.timeSplit)

	totalCyclesVars := []solver.Variable{
		mv.cost.alphaBeta, mv.cost.gradFromAlphaBeta, mv.cost.exchange, mv.cost.sync,
	}
	mv.cost.totalCycles = m.Sum("totalCycles", totalCyclesVars...)

	// Temp bytes: the input data and label tensor slices live for the
	// whole pass; the gradient working copy costs one element per tile
	// cell and the alpha/beta scratch two (one for alpha, one for beta); a
	// fixed 3-column
	// buffer holds the boundary values in flight regardless of strategy.
	mv.cost.tempBytes = m.Call("tempBytes", func(args []uint64) uint64 {
		cells := perTileCells(args)
		data := cells * typeSize
		labels := ceildiv(p.MaxLabelLength, max1(args[2])) * typeSize
		gradWorkingCopy := cells * typeSize
		alphaBetaScratch := cells * 2 * typeSize
		propagationBuffer := 3 * ceildiv(p.ExtendedLabelLength(), max1(args[2])) * typeSize
		return data + labels + gradWorkingCopy + alphaBetaScratch + propagationBuffer
	}, mv.batchSplit, mv.timeSplit, mv.labelTiles)
}
