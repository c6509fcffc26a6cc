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
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/solver"
)

// applyPartitionPins narrows the lattice's split variables to a
// plan-constraints tree's pinned values, reusing the convolution-shaped
// Partition schema's generic split fields (spec §6 lists planConstraints
// as a shared option across convolution, sparse, and CTC planners).
func applyPartitionPins(m *solver.Model, mv *modelVars, t planconstraints.Tree) {
	level := t.AtLevel(0)
	if level.Partition == nil {
		return
	}
	part := level.Partition
	if part.BatchSplit != nil {
		m.EqualConst(mv.batchSplit, *part.BatchSplit)
	}
	if len(part.FieldSplit) > 0 {
		m.EqualConst(mv.timeSplit, part.FieldSplit[0])
	}
	if len(part.FieldSplit) > 1 {
		m.EqualConst(mv.labelSplit, part.FieldSplit[1])
	}
}
