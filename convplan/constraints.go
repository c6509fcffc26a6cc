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
	"github.com/ipu-tools/tileplan/methodset"
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/planerrors"
	"github.com/ipu-tools/tileplan/solver"
)

// validateConstraintTree reports a configuration error for any
// plan-constraints pin that cannot possibly apply to p: an out-of-range
// field/kernel dimension index, or an unrecognised method token. It runs
// once before the search loop so a bad plan-constraints file fails fast
// rather than surfacing as "no solution" (spec §7: configuration errors
// are reported as a hard library error, distinct from infeasibility).
func validateConstraintTree(p convparams.Params, t planconstraints.Tree) error {
	if _, err := methodConstraintsFromTree(t); err != nil {
		return err
	}
	level := t.AtLevel(0)
	if level.Partition == nil {
		return nil
	}
	if n := len(level.Partition.FieldSplit); n > len(p.Field) {
		return planerrors.NewConfigurationError("plan constraint fieldSplit has %d entries but operator has %d field dimensions", n, len(p.Field))
	}
	if n := len(level.Partition.KernelSplit); n > len(p.Field) {
		return planerrors.NewConfigurationError("plan constraint kernelSplit has %d entries but operator has %d field dimensions", n, len(p.Field))
	}
	return nil
}

// methodConstraintsFromTree is the plan-constraints interpreter's
// method-level slice (spec §9 "Option trees... a small interpreter that
// walks the tree and emits equality constraints into the model"): a
// method pin narrows the candidate enumerator before any constraint model
// is even built, since the method choice is an outer-loop axis rather than
// a solver variable (spec §4.3).
func methodConstraintsFromTree(t planconstraints.Tree) (methodset.Constraints, error) {
	level := t.AtLevel(0)
	var cs methodset.Constraints
	if level.Method == nil {
		return cs, nil
	}
	if level.Method.Method != nil {
		mth, err := planconstraints.ParseMethod(*level.Method.Method)
		if err != nil {
			return cs, err
		}
		cs.Method = &mth
	}
	if level.Method.InChansPerGroup != nil {
		cs.InChansPerGroup = level.Method.InChansPerGroup
	}
	return cs, nil
}

// transformPins is the subset of a transform-level pin the outer search
// loop (searchOnce) can honour directly, since swapOperands/expandDims/
// outChanFlattenDims/combineConvGroups select which constraint model gets
// built rather than constraining one already built.
type transformPins struct {
	swapOperands      *bool
	expandDims        []int
	outChanFlattenDims []int
	combineConvGroups *uint64
}

func transformPinsFromTree(t planconstraints.Tree) transformPins {
	level := t.AtLevel(0)
	if level.Transform == nil {
		return transformPins{}
	}
	return transformPins{
		swapOperands:       level.Transform.SwapOperands,
		expandDims:         level.Transform.ExpandDims,
		outChanFlattenDims: level.Transform.OutChanFlattenDims,
		combineConvGroups:  level.Transform.CombineConvGroups,
	}
}

// allowsSwap reports whether the outer loop should try swap.
func (p transformPins) allowsSwap(swap bool) bool {
	return p.swapOperands == nil || *p.swapOperands == swap
}

func (p transformPins) allowsExpandDims(dims []int) bool {
	return p.expandDims == nil || intSlicesEqual(p.expandDims, dims)
}

func (p transformPins) allowsFlattenDims(dims []int) bool {
	return p.outChanFlattenDims == nil || intSlicesEqual(p.outChanFlattenDims, dims)
}

func (p transformPins) allowsCombineFactor(f uint64) bool {
	return p.combineConvGroups == nil || *p.combineConvGroups == f
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyPartitionPins adds equality constraints for every partition field
// the plan-constraints tree pins at level 0, per spec §4.4's constraint
// model and §9's option-tree interpreter. Pins that reference a
// dimension index beyond what this operator has are a configuration
// error (spec §7: "out-of-range dimension index").
func applyPartitionPins(mv *modelVars, t planconstraints.Tree) error {
	level := t.AtLevel(0)
	if level.Partition == nil {
		return nil
	}
	part := level.Partition

	if err := applyDimSliceEqualConst(mv.m, mv.fieldSplit, part.FieldSplit, "fieldSplit"); err != nil {
		return err
	}
	if err := applyDimSliceEqualConst(mv.m, mv.kernelSplit, part.KernelSplit, "kernelSplit"); err != nil {
		return err
	}
	if part.BatchSplit != nil {
		mv.m.EqualConst(mv.batchSplit, *part.BatchSplit)
	}
	if part.ConvGroupSplit != nil {
		mv.m.EqualConst(mv.convGroupSplit, *part.ConvGroupSplit)
	}
	if part.OutChanSplit != nil {
		if part.OutChanSplit.Parallel != nil {
			mv.m.EqualConst(mv.outChanSplitVars.parallel, *part.OutChanSplit.Parallel)
		}
		if part.OutChanSplit.Serial != nil {
			mv.m.EqualConst(mv.outChanSplitVars.serial, *part.OutChanSplit.Serial)
		}
	}
	if part.InChanSplit != nil {
		if part.InChanSplit.Parallel != nil {
			mv.m.EqualConst(mv.inChanSplitVars.parallel, *part.InChanSplit.Parallel)
		}
		if part.InChanSplit.Serial != nil {
			mv.m.EqualConst(mv.inChanSplitVars.serial, *part.InChanSplit.Serial)
		}
	}
	return nil
}

// applyDimSliceEqualConst pins vars[i] to pins[i] for every index the
// plan-constraints tree supplies, rejecting an out-of-range index as a
// configuration error rather than silently ignoring it.
func applyDimSliceEqualConst(m *solver.Model, vars []solver.Variable, pins []uint64, name string) error {
	for i, v := range pins {
		if i >= len(vars) {
			return planerrors.NewConfigurationError("plan constraint %s[%d] out of range (operator has %d)", name, i, len(vars))
		}
		m.EqualConst(vars[i], v)
	}
	return nil
}
