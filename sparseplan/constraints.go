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
	"github.com/ipu-tools/tileplan/planconstraints"
)

// applyPartitionPins narrows a searched pass's split variables (forward,
// and gradA or gradW when they are searched rather than reused) to a
// plan-constraints tree's pinned values, reusing the convolution-shaped
// Partition schema's generic split fields (spec §6 lists planConstraints
// as a shared option across convolution, sparse, and CTC). It is skipped
// for gradA's transposed-reuse pass, which already pins every split from
// the forward solution directly (see search.go's fixedSplit).
func applyPartitionPins(mv *modelVars, t planconstraints.Tree) {
	level := t.AtLevel(0)
	if level.Partition == nil {
		return
	}
	part := level.Partition
	if part.ConvGroupSplit != nil {
		mv.m.EqualConst(mv.groupSplit, *part.ConvGroupSplit)
	}
	if part.OutChanSplit != nil && part.OutChanSplit.Parallel != nil {
		mv.m.EqualConst(mv.xSplit, *part.OutChanSplit.Parallel)
	}
	if part.BatchSplit != nil {
		mv.m.EqualConst(mv.zSplit, *part.BatchSplit)
	}
	if part.InChanSplit != nil && part.InChanSplit.Serial != nil {
		mv.m.EqualConst(mv.ySplit, *part.InChanSplit.Serial)
	}
}
