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

package ctcplan_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/ctcplan"
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

func TestCtcplan(t *testing.T) { TestingT(t) }

var _ = Suite(&ctcplanSuite{})

type ctcplanSuite struct{}

func testTarget() *target.Target {
	return &target.Target{
		Name: "test", NumIPUs: 1, TilesPerIPU: 256,
		BytesPerTile:              256 * 1024,
		ExchangeBytesPerCycle:     []float64{4},
		DataPathWidth:             64,
		VectorWidth:               map[string]int{"half": 8, "float": 4},
		NumWorkerContexts:         6,
		TypeSize:                  map[string]int{"half": 2, "float": 4},
		SupportsSharedExchangeBus: true,
		TilesPerSharedExchangeBus: 4,
		MemcpyBytesPerCycle:       16,
	}
}

func baseParams() ctcplan.Params {
	return ctcplan.Params{
		InputType: target.Half,
		Batch:     8, MaxTime: 64, MaxLabelLength: 20, NumClasses: 30,
	}
}

// TestScenarioPartitionFitsTileBudget realizes spec §8 scenario 6: the
// product of batch, time, and (label + lastBlankOnSeparateTile) splits
// never exceeds the tile count, and no split is empty.
func (s *ctcplanSuite) TestScenarioPartitionFitsTileBudget(c *C) {
	p := baseParams()
	tgt := testTarget()
	opts := ctcplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	got, cost, err := ctcplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(got.Partition.UsedTiles() <= uint64(tgt.NumTiles()), Equals, true)
	c.Assert(got.Partition.BatchSplit > 0, Equals, true)
	c.Assert(got.Partition.TimeSplit > 0, Equals, true)
	c.Assert(got.Partition.LabelSplit > 0, Equals, true)
	c.Assert(cost.IsHighest(), Equals, false)
}

// TestExtendedLabelLength checks the blank-interleaving arithmetic spec
// §4.7 defines.
func (s *ctcplanSuite) TestExtendedLabelLength(c *C) {
	p := ctcplan.Params{MaxLabelLength: 20}
	c.Assert(p.ExtendedLabelLength(), Equals, uint64(41))
}

// TestStrategyStringsAreDistinct guards against the two slicing strategies
// silently comparing equal.
func (s *ctcplanSuite) TestStrategyStringsAreDistinct(c *C) {
	c.Assert(ctcplan.SliceFromInput.String(), Not(Equals), ctcplan.SliceIntoOutput.String())
}

// TestPlanConstraintsPinsBatchSplit realizes spec §6's planConstraints
// option reused for the CTC planner: pinning BatchSplit forces that exact
// split into the solution.
func (s *ctcplanSuite) TestPlanConstraintsPinsBatchSplit(c *C) {
	p := baseParams()
	tgt := testTarget()
	pinned := uint64(2)
	opts := ctcplan.Options{
		PartialsType: target.Float, AvailableMemoryProportion: 0.6,
		PlanConstraints: planconstraints.Tree{Levels: []planconstraints.Level{{
			Partition: &planconstraints.Partition{BatchSplit: &pinned},
		}}},
	}

	got, _, err := ctcplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(got.Partition.BatchSplit, Equals, pinned)
}
