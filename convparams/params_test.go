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

package convparams_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/target"
)

func TestConvParams(t *testing.T) { TestingT(t) }

var _ = Suite(&paramsSuite{})

type paramsSuite struct{}

func sample() convparams.Params {
	return convparams.Params{
		InputType:  target.Half,
		OutputType: target.Half,
		Batch:      1,
		Field: []convparams.FieldDim{
			{InputSize: 4, KernelSize: 3, OutputStride: 1,
				InputTransform:  convparams.DimTransform{Dilation: 1},
				KernelTransform: convparams.DimTransform{Dilation: 1}},
			{InputSize: 4, KernelSize: 3, OutputStride: 1,
				InputTransform:  convparams.DimTransform{Dilation: 1},
				KernelTransform: convparams.DimTransform{Dilation: 1}},
		},
		InChansPerGroup:  16,
		OutChansPerGroup: 16,
		NumInGroups:      1,
		NumOutGroups:     1,
		NumConvGroups:    1,
	}
}

func (s *paramsSuite) TestCanonIdempotent(c *C) {
	p := sample()
	once := convparams.Canon(p)
	twice := convparams.Canon(once)
	c.Assert(twice, DeepEquals, once)
}

func (s *paramsSuite) TestSwapOperandsInvolution(c *C) {
	p := convparams.Canon(sample())
	swapped := convparams.SwapOperands(p)
	back := convparams.SwapOperands(swapped)
	c.Assert(back, DeepEquals, p)
}

func (s *paramsSuite) TestExpandDimsMovesKernelIntoChannels(c *C) {
	p := convparams.Canon(sample())
	expanded := convparams.ExpandDims(p, []int{0})
	c.Assert(expanded.Field[0].KernelSize, Equals, uint64(1))
	c.Assert(expanded.InChansPerGroup, Equals, p.InChansPerGroup*3)
}

func (s *paramsSuite) TestCombineConvGroupsRoundsUp(c *C) {
	p := convparams.Canon(sample())
	p.NumConvGroups = 5
	combined := convparams.CombineConvGroups(p, 2)
	c.Assert(combined.NumConvGroups, Equals, uint64(3)) // ceil(5/2)
	c.Assert(combined.InChansPerGroup, Equals, p.InChansPerGroup*2)
}

func (s *paramsSuite) TestFlattenRejectsDimWithActiveTransform(c *C) {
	p := convparams.Canon(sample())
	p.Field[0].OutputStride = 2
	_, ok := convparams.FlattenDims(p, []int{0})
	c.Assert(ok, Equals, false)
}

func (s *paramsSuite) TestFlattenFoldsIntoBatch(c *C) {
	p := convparams.Canon(sample())
	p.Field[0].KernelSize = 1
	flattened, ok := convparams.FlattenDims(p, []int{0})
	c.Assert(ok, Equals, true)
	c.Assert(flattened.Batch, Equals, p.Batch*4)
}
