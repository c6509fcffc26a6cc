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

// Package sparseplan plans a block-sparse x dense matrix multiply: a
// [outChans x inChans] sparse weight matrix held as per-tile non-zero
// buckets, multiplied against a dense [inChans x batch] operand to produce
// a dense [outChans x batch] output, for every group independently (spec
// §4.6). It shares the Plan/Cost/Method data model with convplan but
// builds its own constraint model, since the sparse operand's bucket
// sizing and propagating-exchange cost have no convolution analogue.
package sparseplan

import (
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

// Params describes one sparse-dense multiply to plan, spec §6.
type Params struct {
	InputType  target.DataType
	OutputType target.DataType

	Groups   uint64
	InChans  uint64
	OutChans uint64
	Batch    uint64

	// NzRatio is the fraction of the weight matrix's elements that are
	// non-zero: 1.0 means dense; 0.0 means empty. Bucket sizing is given
	// the complementary sparsity ratio, 1-NzRatio.
	NzRatio float64

	// DoGradAPass and DoGradWPass request planning the gradient-w.r.t.
	// -activations and gradient-w.r.t.-weights passes alongside forward.
	DoGradAPass bool
	DoGradWPass bool

	// SharedBuckets requests that, when DoGradAPass is set, gradA reuse the
	// forward pass's buckets transposed rather than gathering its own
	// (spec §4.6, §8 scenario 5).
	SharedBuckets bool
}

// Options bundles the sparse planner's tunables, spec §6.
type Options struct {
	PartialsType target.DataType

	// AvailableMemoryProportion bounds temp bytes per tile as a fraction of
	// BytesPerTile; 0 disables the bound.
	AvailableMemoryProportion float64

	// MetaInfoBucketOversizeProportion is the slack estimator.SizeBuckets
	// reserves above the uniform-sparsity expectation, to absorb
	// non-uniform row/column densities without a bucket overflow at run
	// time.
	MetaInfoBucketOversizeProportion float64

	NumWorkers uint64

	// PlanConstraints pins the group/x/z/y split factors instead of letting
	// the search choose them, spec §6's planConstraints option reused for
	// the sparse planner: ConvGroupSplit, OutChanSplit.Parallel,
	// BatchSplit, and InChanSplit.Serial map onto this planner's
	// groupSplit, xSplit, zSplit, and ySplit respectively.
	PlanConstraints planconstraints.Tree
}
