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

package estimator_test

import (
	"sync"
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/estimator"
)

func TestEstimator(t *testing.T) { TestingT(t) }

var _ = Suite(&estimatorSuite{})

type estimatorSuite struct{}

func (s *estimatorSuite) TestCacheIsPureUnderConcurrentAccess(c *C) {
	cache := estimator.NewCache()
	args := estimator.ConvVertexArgs{
		BatchElements:       4,
		OutputFieldShape:    [4]uint64{4, 4},
		NumFieldDims:        2,
		KernelShape:         [4]uint64{3, 3},
		NumKernelDims:       2,
		InChansPerGroup:     16,
		OutChansPerGroup:    16,
		NumConvUnits:        16,
		InputLoadElemsPerCycle: 4,
		NumWorkerContexts:   6,
	}

	var wg sync.WaitGroup
	results := make([]uint64, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.EstimateAMP1x1Cycles(args)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		c.Assert(r, Equals, results[0])
	}
}

func (s *estimatorSuite) TestMultiStageReductionDescendingDepth(c *C) {
	stages := estimator.PlanMultiStageReduction(100, 64, 4)
	c.Assert(len(stages) > 0, Equals, true)
	for i := 1; i < len(stages); i++ {
		c.Assert(stages[i].Depth <= stages[i-1].Depth, Equals, true)
		c.Assert(stages[i].OutputSize <= stages[i-1].OutputSize, Equals, true)
	}
}

func (s *estimatorSuite) TestSingleReductionDepthIsFree(c *C) {
	stages := estimator.PlanMultiStageReduction(1, 64, 4)
	c.Assert(stages, IsNil)
}

func (s *estimatorSuite) TestZeroDimensionProducesZeroCycles(c *C) {
	cache := estimator.NewCache()
	cycles := cache.EstimateZeroCycles(estimator.ZeroArgs{NumElements: 0, TypeSize: 4, NumWorkers: 6})
	c.Assert(cycles, Equals, uint64(0))
}

func (s *estimatorSuite) TestSharedExchangeBusDoublesBandwidth(c *C) {
	base := estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
		Bytes: 1 << 20, BytesPerCycleScaled: 4 * estimator.ScaleFactor,
	})
	shared := estimator.EstimateExchangeCycles(estimator.ExchangeArgs{
		Bytes: 1 << 20, BytesPerCycleScaled: 4 * estimator.ScaleFactor,
		SharedBus: true, ConsecutiveTilesSameData: 4, TilesPerSharedBus: 4,
	})
	c.Assert(shared*2 <= base+1, Equals, true)
}

func (s *estimatorSuite) TestFullSparsityEmptiesBuckets(c *C) {
	dense := estimator.SizeBuckets(16, 16, 0.0, 0.1, 4, 4)
	sparse := estimator.SizeBuckets(16, 16, 1.0, 0.1, 4, 4)
	c.Assert(sparse.NzElemsPerBucket < dense.NzElemsPerBucket, Equals, true)
	c.Assert(sparse.NzElemsPerBucket, Equals, uint64(0))
}

func (s *estimatorSuite) TestLogAddReduceUsesSmallerOperand(c *C) {
	v1 := estimator.LogAddReduce(1.0, 2.0)
	v2 := estimator.LogAddReduce(2.0, 1.0)
	c.Assert(v1, Equals, v2)
}
