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
	"github.com/ipu-tools/tileplan/solver"
	"github.com/ipu-tools/tileplan/target"
)

// modelVars collects the variables of one CTC constraint model.
type modelVars struct {
	m *solver.Model

	batchSplit solver.Variable
	timeSplit  solver.Variable
	labelSplit solver.Variable
	lastBlank  solver.Variable // 0 or 1

	labelTiles solver.Variable
	usedTiles  solver.Variable
	cost       costVars
}

type costVars struct {
	alphaBeta, gradFromAlphaBeta solver.Variable
	exchange, sync               solver.Variable
	tempBytes                    solver.Variable
	totalCycles                  solver.Variable
}

func buildModel(p Params, t *target.Target, numTiles uint64, opts Options, strategy SliceStrategy) (*solver.Model, *modelVars) {
	m := solver.NewModel()
	mv := &modelVars{m: m}

	mv.batchSplit = m.AddVariableRange("batchSplit", 1, max1(p.Batch))
	mv.timeSplit = m.AddVariableRange("timeSplit", 1, max1(p.MaxTime))
	mv.labelSplit = m.AddVariableRange("labelSplit", 1, max1(p.ExtendedLabelLength()))
	mv.lastBlank = m.AddVariableRange("lastBlankOnSeparateTile", 0, 1)

	mv.labelTiles = m.Sum("labelTiles", mv.labelSplit, mv.lastBlank)
	mv.usedTiles = m.Product("usedTiles", mv.batchSplit, mv.timeSplit, mv.labelTiles)
	m.LessOrEqual(mv.usedTiles, m.AddConstant(numTiles))

	applyPartitionPins(m, mv, opts.PlanConstraints)

	buildCost(m, mv, p, t, opts, strategy)

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
