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

// Partition is the CTC lattice's tile assignment: batch, time, and the
// extended-label axis are each split in parallel across tiles, and the
// trailing blank of the extended label may additionally be pinned to a
// tile of its own (spec §4.7) since it participates in fewer lattice
// transitions than any other cell and would otherwise unbalance whichever
// tile it shared.
type Partition struct {
	BatchSplit              uint64
	TimeSplit               uint64
	LabelSplit              uint64
	LastBlankOnSeparateTile bool
}

// UsedTiles returns the number of tiles this partition occupies.
func (p Partition) UsedTiles() uint64 {
	labelTiles := p.LabelSplit
	if p.LastBlankOnSeparateTile {
		labelTiles++
	}
	return p.BatchSplit * p.TimeSplit * labelTiles
}

// SliceStrategy names which side of the alpha/beta recurrence a tile
// dynamically slices to fetch its neighbours' boundary values, spec §4.7.
type SliceStrategy int

const (
	// SliceFromInput re-reads the needed boundary column directly from the
	// upstream input/label tensor each step.
	SliceFromInput SliceStrategy = iota
	// SliceIntoOutput instead scatters each step's boundary column forward
	// into a pre-allocated output tensor slot.
	SliceIntoOutput
)

func (s SliceStrategy) String() string {
	if s == SliceIntoOutput {
		return "sliceIntoOutput"
	}
	return "sliceFromInput"
}

// Plan is the CTC planner's output: a partition and the slicing strategy
// (the Plan function returns the temp-byte/cycle cost alongside it), kept
// separate from the convolution/sparse Plan type since the lattice has no
// method family or grain-size concept to carry.
type Plan struct {
	Partition Partition
	Strategy  SliceStrategy
}
