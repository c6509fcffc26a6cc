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

// Package ctcplan plans the forward-backward (alpha/beta) and
// gradient-from-alpha-beta passes of a CTC loss computation over a
// [batch x time x extendedLabel] lattice, where extendedLabel interleaves
// blanks between every label symbol (spec §4.7).
package ctcplan

import (
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

// Params describes one CTC loss instance to plan, spec §6.
type Params struct {
	InputType target.DataType

	Batch          uint64
	MaxTime        uint64
	MaxLabelLength uint64
	NumClasses     uint64 // alphabet size including blank
}

// ExtendedLabelLength is 2*MaxLabelLength+1: a blank before, between, and
// after every label symbol.
func (p Params) ExtendedLabelLength() uint64 {
	return 2*p.MaxLabelLength + 1
}

// Options bundles the CTC planner's tunables, spec §6.
type Options struct {
	PartialsType              target.DataType
	AvailableMemoryProportion float64
	NumWorkers                uint64

	// PlanConstraints pins the batch/time/label split factors instead of
	// letting the search choose them, spec §6's planConstraints option
	// reused for the CTC planner: Partition.BatchSplit maps onto
	// batchSplit, and Partition.FieldSplit[0]/[1] (if present) map onto
	// timeSplit/labelSplit.
	PlanConstraints planconstraints.Tree
}
