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

package sparseplan_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/sparseplan"
	"github.com/ipu-tools/tileplan/target"
)

func TestSparseplan(t *testing.T) { TestingT(t) }

var _ = Suite(&sparseplanSuite{})

type sparseplanSuite struct{}

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

func baseParams() sparseplan.Params {
	return sparseplan.Params{
		InputType: target.Half, OutputType: target.Half,
		Groups: 1, InChans: 512, OutChans: 512, Batch: 32,
		NzRatio: 0.9,
	}
}

// TestScenarioForwardOnlyPicksForwardMethod realizes spec §8 scenario 4:
// with neither gradient pass requested, only the forward plan is built,
// its method is the plain sparse-forward kernel, and its bucket sizes are
// exact multiples of the target's exchange atom counts.
func (s *sparseplanSuite) TestScenarioForwardOnlyPicksForwardMethod(c *C) {
	p := baseParams()
	tgt := testTarget()
	opts := sparseplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	res, err := sparseplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(res.Forward.Method.Method, Equals, plan.MethodSparseForward)
	c.Assert(res.ForwardBuckets.NzElemsPerBucket%8, Equals, uint64(0))
	c.Assert(res.ForwardBuckets.MetaInfoElemsPerBucket%4, Equals, uint64(0))
	c.Assert(res.GradABuckets.MetaInfoElemsPerBucket, Equals, uint64(0))
	c.Assert(res.GradA.Partitions, HasLen, 0)
}

// TestScenarioSharedBucketsGradAReusesForward realizes spec §8 scenario 5:
// when SharedBuckets is set, gradA picks the Transpose method and its
// bucket sizing is exactly the forward pass's, since the planner hands
// gradA the forward bucket sizes unchanged.
func (s *sparseplanSuite) TestScenarioSharedBucketsGradAReusesForward(c *C) {
	p := baseParams()
	p.DoGradAPass = true
	p.SharedBuckets = true
	tgt := testTarget()
	opts := sparseplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	res, err := sparseplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(res.GradA.Method.Method, Equals, plan.MethodSparseTranspose)
	c.Assert(res.GradABuckets, Equals, res.ForwardBuckets)
}

// TestPartitionFitsTileBudget realizes spec §8's partition-product
// property for the sparse planner: forward never uses more tiles than the
// target has.
func (s *sparseplanSuite) TestPartitionFitsTileBudget(c *C) {
	p := baseParams()
	tgt := testTarget()
	opts := sparseplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	res, err := sparseplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(res.ForwardCost.TotalTiles <= uint64(tgt.NumTiles()), Equals, true)
}

// TestGradWIndependentOfSharedBuckets realizes the gradW pass always
// gathers its own buckets, regardless of SharedBuckets.
func (s *sparseplanSuite) TestGradWIndependentOfSharedBuckets(c *C) {
	p := baseParams()
	p.DoGradWPass = true
	tgt := testTarget()
	opts := sparseplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	res, err := sparseplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(res.GradW.Method.Method, Equals, plan.MethodSparseGradW)
	c.Assert(res.GradWCost.IsHighest(), Equals, false)
}

// TestPlanConstraintsPinsForwardPartition realizes spec §6's planConstraints
// option reused for the sparse planner: pinning the forward pass's group
// split forces that exact split into the solution.
func (s *sparseplanSuite) TestPlanConstraintsPinsForwardPartition(c *C) {
	p := baseParams()
	tgt := testTarget()
	pinned := uint64(1)
	opts := sparseplan.Options{
		PartialsType: target.Float, AvailableMemoryProportion: 0.6,
		PlanConstraints: planconstraints.Tree{Levels: []planconstraints.Level{{
			Partition: &planconstraints.Partition{ConvGroupSplit: &pinned},
		}}},
	}

	res, err := sparseplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(res.Forward.Partitions[0].ConvGroupSplit, Equals, pinned)
}
