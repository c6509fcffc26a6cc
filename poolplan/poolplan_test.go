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

package poolplan_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/estimator"
	"github.com/ipu-tools/tileplan/poolplan"
	"github.com/ipu-tools/tileplan/target"
)

func TestPoolplan(t *testing.T) { TestingT(t) }

var _ = Suite(&poolplanSuite{})

type poolplanSuite struct{}

func testTarget() *target.Target {
	return &target.Target{
		Name: "test", NumIPUs: 1, TilesPerIPU: 256,
		BytesPerTile:          256 * 1024,
		ExchangeBytesPerCycle: []float64{4},
		DataPathWidth:         64,
		VectorWidth:           map[string]int{"half": 8, "float": 4},
		NumWorkerContexts:     6,
		TypeSize:              map[string]int{"half": 2, "float": 4},
	}
}

// TestMaxPoolPartitionFitsBudget checks the planner respects the tile
// budget for a typical max-pool shape.
func (s *poolplanSuite) TestMaxPoolPartitionFitsBudget(c *C) {
	p := poolplan.Params{
		InputType: target.Half, Batch: 4, ChansPerGroup: 64,
		OutputField: 112 * 112, WindowElems: 9, Method: estimator.PoolMax,
	}
	tgt := testTarget()
	opts := poolplan.Options{PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	part, cost, err := poolplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(part.UsedTiles() <= uint64(tgt.NumTiles()), Equals, true)
	c.Assert(cost.IsHighest(), Equals, false)
}

// TestAvgPoolCostsAtLeastAsMuchAsSum checks AvgPool's higher per-step cost
// over SumPool is reflected in the estimator.
func (s *poolplanSuite) TestAvgPoolCostsAtLeastAsMuchAsSum(c *C) {
	ec := estimator.NewCache()
	args := estimator.PoolVertexArgs{
		BatchElements: 1, ChansPerGroup: 16, OutputFieldElems: 64,
		WindowElems: 9, NumWorkers: 6, VectorWidth: 8,
	}
	args.Method = estimator.PoolSum
	sumCycles := ec.EstimatePoolingCycles(args)
	args.Method = estimator.PoolAvg
	avgCycles := ec.EstimatePoolingCycles(args)
	c.Assert(avgCycles >= sumCycles, Equals, true)
}
