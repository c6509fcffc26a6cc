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

package convplan_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/convplan"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

func TestConvplan(t *testing.T) { TestingT(t) }

var _ = Suite(&convplanSuite{})

type convplanSuite struct{}

func testTarget() *target.Target {
	return &target.Target{
		Name: "test", NumIPUs: 1, TilesPerIPU: 1216,
		BytesPerTile:              256 * 1024,
		ExchangeBytesPerCycle:     []float64{4},
		DataPathWidth:             64,
		VectorWidth:               map[string]int{"half": 8, "float": 4},
		NumWorkerContexts:         6,
		TypeSize:                  map[string]int{"half": 2, "float": 4},
		ConvUnitsPerTypePair:      map[string]int{"half/half": 16, "half/float": 8, "float/float": 8},
		SupportsSharedExchangeBus: true,
		TilesPerSharedExchangeBus: 4,
		MemcpyBytesPerCycle:       16,
		WeightsPerConvUnit:        8,
	}
}

func inferenceFwdParams() convparams.Params {
	return convparams.Params{
		InputType: target.Half, OutputType: target.Half,
		Batch: 1,
		Field: []convparams.FieldDim{
			{InputSize: 4, KernelSize: 3, OutputStride: 1, InputTransform: convparams.DimTransform{Dilation: 1}, KernelTransform: convparams.DimTransform{Dilation: 1}},
			{InputSize: 4, KernelSize: 3, OutputStride: 1, InputTransform: convparams.DimTransform{Dilation: 1}, KernelTransform: convparams.DimTransform{Dilation: 1}},
		},
		InChansPerGroup: 16, OutChansPerGroup: 16,
		NumConvGroups: 1, NumInGroups: 1, NumOutGroups: 1,
	}
}

// TestScenarioInferenceForwardPicksAMP realizes spec §8 scenario 1: a
// half/half inference-forward convolution should pick AMP, not swap
// operands, use at least one tile, and produce a finite cycle count.
func (s *convplanSuite) TestScenarioInferenceForwardPicksAMP(c *C) {
	p := inferenceFwdParams()
	t := testTarget()
	opts := convplan.Options{
		Pass: convplan.PassInferenceFwd, PartialsType: target.Half,
		AvailableMemoryProportion: 0.6,
	}

	got, cost, err := convplan.Plan(p, t, opts)
	c.Assert(err, IsNil)
	c.Assert(got.Method.Method, Equals, plan.MethodAMP)
	c.Assert(got.Transforms[0].SwapOperands, Equals, false)
	c.Assert(got.UsedTiles() >= 1, Equals, true)
	c.Assert(cost.IsHighest(), Equals, false)
}

// TestPartitionFitsTileBudget realizes spec §8's partition-product
// property: no plan ever uses more tiles than the target has.
func (s *convplanSuite) TestPartitionFitsTileBudget(c *C) {
	p := inferenceFwdParams()
	tgt := testTarget()
	opts := convplan.Options{Pass: convplan.PassInferenceFwd, PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	got, _, err := convplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(got.UsedTiles() <= uint64(tgt.NumTiles()), Equals, true)
}

// TestInnermostKernelNeverParallelSplit realizes spec §8's architecture
// invariant: the innermost kernel dimension's split is always 1.
func (s *convplanSuite) TestInnermostKernelNeverParallelSplit(c *C) {
	p := inferenceFwdParams()
	tgt := testTarget()
	opts := convplan.Options{Pass: convplan.PassInferenceFwd, PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	got, _, err := convplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(len(got.Partitions) > 0, Equals, true)
	ks := got.Partitions[0].KernelSplit
	c.Assert(ks[len(ks)-1], Equals, uint64(1))
}

// TestScenarioJointFCTrainingForward realizes spec §8 scenario 2: a joint
// FC forward plan swaps operands and never splits output channels in
// parallel.
func (s *convplanSuite) TestScenarioJointFCTrainingForward(c *C) {
	p := convparams.Params{
		InputType: target.Half, OutputType: target.Float,
		Batch: 32,
		Field: []convparams.FieldDim{{InputSize: 1, KernelSize: 1, OutputStride: 1, InputTransform: convparams.DimTransform{Dilation: 1}, KernelTransform: convparams.DimTransform{Dilation: 1}}},
		InChansPerGroup: 1024, OutChansPerGroup: 1024,
		NumConvGroups: 1, NumInGroups: 1, NumOutGroups: 1,
	}
	tgt := testTarget()
	opts := convplan.Options{PartialsType: target.Float, AvailableMemoryProportion: 0.6}

	got, _, err := convplan.PlanFullyConnected(p, tgt, opts)
	c.Assert(err, IsNil)
	c.Assert(got.IsJointPlan, Equals, true)
	c.Assert(got.Transforms[0].SwapOperands, Equals, true)
	c.Assert(got.Partitions[0].OutChanSplit.Parallel, Equals, uint64(1))
}

// TestPlanConstraintsRoundTrip realizes spec §8's round-trip property:
// planning once, pinning the method the search chose via a plan-constraints
// tree, and planning again yields the same method and cost.
func (s *convplanSuite) TestPlanConstraintsRoundTrip(c *C) {
	p := inferenceFwdParams()
	tgt := testTarget()
	opts := convplan.Options{Pass: convplan.PassInferenceFwd, PartialsType: target.Half, AvailableMemoryProportion: 0.6}

	first, firstCost, err := convplan.Plan(p, tgt, opts)
	c.Assert(err, IsNil)

	methodToken := first.Method.Method.String()
	pinned := opts
	pinned.PlanConstraints = planconstraints.Tree{Levels: []planconstraints.Level{{
		Method: &planconstraints.Method{Method: &methodToken},
	}}}

	second, secondCost, err := convplan.Plan(p, tgt, pinned)
	c.Assert(err, IsNil)
	c.Assert(second.Method.Method, Equals, first.Method.Method)
	c.Assert(secondCost.TotalCycles, Equals, firstCost.TotalCycles)
}

// TestPlanConstraintsRejectsOutOfRangeFieldSplit realizes spec §7's
// configuration-error category: an out-of-range dimension index in a
// plan-constraints tree is a hard error, not silently ignored.
func (s *convplanSuite) TestPlanConstraintsRejectsOutOfRangeFieldSplit(c *C) {
	p := inferenceFwdParams()
	tgt := testTarget()
	bogus := uint64(2)
	opts := convplan.Options{
		Pass: convplan.PassInferenceFwd, PartialsType: target.Half, AvailableMemoryProportion: 0.6,
		PlanConstraints: planconstraints.Tree{Levels: []planconstraints.Level{{
			Partition: &planconstraints.Partition{FieldSplit: []uint64{bogus, bogus, bogus, bogus, bogus}},
		}}},
	}

	_, _, err := convplan.Plan(p, tgt, opts)
	c.Assert(err, NotNil)
}

// TestOrderingPropertyKeepsCheaperCandidate realizes spec §8's ordering
// testable property directly against plan.Objective.
func (s *convplanSuite) TestOrderingPropertyKeepsCheaperCandidate(c *C) {
	obj := plan.MinimiseCyclesObjective()
	cheap := plan.Cost{TotalCycles: 100, TotalTempBytes: 10}
	expensive := plan.Cost{TotalCycles: 200, TotalTempBytes: 5}
	c.Assert(obj.Best(cheap, expensive), Equals, cheap)
	c.Assert(obj.Best(expensive, cheap), Equals, cheap)
}
