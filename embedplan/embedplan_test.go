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

package embedplan_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/embedplan"
	"github.com/ipu-tools/tileplan/target"
)

func TestEmbedplan(t *testing.T) { TestingT(t) }

var _ = Suite(&embedplanSuite{})

type embedplanSuite struct{}

func testTarget() *target.Target {
	return &target.Target{
		Name: "test", NumIPUs: 1, TilesPerIPU: 256,
		BytesPerTile:           256 * 1024,
		ExchangeBytesPerCycle:  []float64{4},
		DataPathWidth:          64,
		VectorWidth:            map[string]int{"half": 8, "float": 4},
		NumWorkerContexts:      6,
		TypeSize:               map[string]int{"half": 2, "float": 4},
		AtomicStoreGranularity: 4,
	}
}

// TestSlicePartitionFitsBudget checks a gather plan respects the tile
// budget.
func (s *embedplanSuite) TestSlicePartitionFitsBudget(c *C) {
	p := embedplan.Params{InputType: target.Half, NumRows: 50000, NumColumns: 256, NumIndices: 512, Op: embedplan.Slice}
	tgt := testTarget()
	opts := embedplan.Options{PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	part, cost, err := embedplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(part.UsedTiles() <= uint64(tgt.NumTiles()), Equals, true)
	c.Assert(cost.IsHighest(), Equals, false)
}

// TestUpdatePaysReadModifyWrite checks an update plan has non-zero
// read-modify-write cost, unlike a slice plan of the same shape.
func (s *embedplanSuite) TestUpdatePaysReadModifyWrite(c *C) {
	base := embedplan.Params{InputType: target.Half, NumRows: 50000, NumColumns: 256, NumIndices: 512}
	tgt := testTarget()
	opts := embedplan.Options{PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	base.Op = embedplan.Update
	_, updateCost, err := embedplan.Plan(base, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(updateCost.Breakdown.AddInPlace > 0, Equals, true)

	base.Op = embedplan.Slice
	_, sliceCost, err := embedplan.Plan(base, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(sliceCost.Breakdown.AddInPlace, Equals, uint64(0))
}
