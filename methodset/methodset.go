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

// Package methodset enumerates, for a given convolution's canonical
// parameters and target, the set of (method, grouping, type) candidates
// consistent with the method-applicability predicates in spec §4.3. The
// ordering is heuristic: most-likely-best first, so that the search
// driver's incremental best-cost pruning is tightest earliest.
package methodset

import (
	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/target"
)

// Candidate is one (method, grouping, type) combination the constraint
// model builder may try.
type Candidate struct {
	Method             plan.Method
	ConvGroupsPerGroup uint64
	InChansPerGroup    uint64
	PartialChansPerGroup uint64
	PartialType        target.DataType
	SLICWindowWidth    uint64
}

// Constraints restricts the candidates the enumerator yields, mirroring
// the subset of spec §6's options that pin down a method directly.
type Constraints struct {
	Method          *plan.Method
	InChansPerGroup *uint64
}

func (c Constraints) allows(cand Candidate) bool {
	if c.Method != nil && *c.Method != cand.Method {
		return false
	}
	if c.InChansPerGroup != nil && *c.InChansPerGroup != cand.InChansPerGroup {
		return false
	}
	return true
}

// Candidates returns the ordered list of applicable method candidates for
// p against t, filtered by cs and, when joint is true, excluding methods
// disallowed in joint fully-connected plans (SLIC, per spec §4.3).
// use128BitConvUnitLoad mirrors Options.Use128BitConvUnitLoad: AMP's
// aligned-load predicate widens the weight chunk it requires to be a whole
// multiple of 16 bytes rather than 8 when set.
func Candidates(p convparams.Params, t *target.Target, cs Constraints, joint bool, use128BitConvUnitLoad bool) []Candidate {
	var out []Candidate

	tryAdd := func(cand Candidate) {
		if cs.allows(cand) {
			out = append(out, cand)
		}
	}

	// AMP first: it is almost always the cheapest method when applicable.
	if units, ok := t.ConvUnitsFor(target.TypePair{Input: p.InputType, Partial: p.OutputType}); ok && units > 0 {
		if weightsPerConvUnit(t)%p.InChansPerGroup == 0 {
			if p.OutChansPerGroup%uint64(units) == 0 && p.NumConvGroups == 1 &&
				ampAlignedLoadsFeasible(p, t, use128BitConvUnitLoad) {
				tryAdd(Candidate{
					Method:              plan.MethodAMP,
					ConvGroupsPerGroup:  1,
					InChansPerGroup:     p.InChansPerGroup,
					PartialChansPerGroup: uint64(units),
					PartialType:         p.OutputType,
				})
			}
		}
	}

	if !joint && slicApplicable(p) {
		for _, grouping := range [][2]uint64{{1, 4}, {2, 2}, {4, 1}} {
			tryAdd(Candidate{
				Method:              plan.MethodSLIC,
				ConvGroupsPerGroup:  grouping[0],
				InChansPerGroup:     grouping[1],
				PartialChansPerGroup: grouping[1],
				PartialType:         p.OutputType,
				SLICWindowWidth:     4,
			})
		}
	}

	if macApplicable(p) {
		grain := uint64(1)
		partialGrain := uint64(1)
		if p.InputType == target.Half {
			grain = 2
		}
		if p.OutputType == target.Half { // the candidate's PartialType
			partialGrain = 2
		}
		method := plan.MethodMAC
		if p.InputType == target.Half {
			method = plan.MethodHMAC
		}
		tryAdd(Candidate{
			Method:              method,
			ConvGroupsPerGroup:  1,
			InChansPerGroup:     grain,
			PartialChansPerGroup: partialGrain,
			PartialType:         p.OutputType,
		})
	}

	if vmacApplicable(p) {
		for w := t.VectorWidthOf(target.Half); w*t.TypeSizeOf(target.Half) >= 8; w /= 2 {
			tryAdd(Candidate{
				Method:              plan.MethodVMAC,
				ConvGroupsPerGroup:  uint64(w),
				InChansPerGroup:     1,
				PartialChansPerGroup: 1,
				PartialType:         p.OutputType,
			})
			if w <= 1 {
				break
			}
		}
	}

	if outerProductApplicable(p) {
		tryAdd(Candidate{
			Method:              plan.MethodOuterProduct,
			ConvGroupsPerGroup:  1,
			InChansPerGroup:     1,
			PartialChansPerGroup: p.OutChansPerGroup,
			PartialType:         p.OutputType,
		})
	}

	return out
}

func weightsPerConvUnit(t *target.Target) uint64 {
	if t.WeightsPerConvUnit <= 0 {
		return 1
	}
	return uint64(t.WeightsPerConvUnit)
}

// ampAlignedLoadsFeasible implements spec §4.3's fourth AMP predicate: the
// convolution unit loads a whole number of bytes-per-cycle's worth of
// weights at a time, so the per-group input-channel chunk
// (InChansPerGroup elements) must fill a whole number of load-width chunks
// in bytes. Load width is 8 bytes normally, 16 when the target is
// configured for 128-bit convolution-unit loads.
func ampAlignedLoadsFeasible(p convparams.Params, t *target.Target, use128BitConvUnitLoad bool) bool {
	loadWidth := uint64(8)
	if use128BitConvUnitLoad {
		loadWidth = 16
	}
	chunkBytes := p.InChansPerGroup * uint64(t.TypeSizeOf(p.InputType))
	return chunkBytes%loadWidth == 0
}

// slicApplicable implements spec §4.3's SLIC predicate: half-precision
// activations, no per-dim flip, no kernel dilation/padding/flip, innermost
// output stride <= 2, kernel window width exactly 4.
func slicApplicable(p convparams.Params) bool {
	if p.InputType != target.Half {
		return false
	}
	if len(p.Field) == 0 {
		return false
	}
	last := p.Field[len(p.Field)-1]
	if last.OutputStride > 2 {
		return false
	}
	for _, f := range p.Field {
		if f.InputTransform.Flip || f.KernelTransform.Flip {
			return false
		}
		if f.KernelTransform.Dilation > 1 {
			return false
		}
		if f.InputTransform.PaddingLower != 0 || f.InputTransform.PaddingUpper != 0 {
			return false
		}
	}
	totalKernel := uint64(1)
	for _, f := range p.Field {
		totalKernel *= max1(f.KernelSize)
	}
	return totalKernel == 4
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// macApplicable implements the MAC/HMAC predicate, which accepts every
// convolution. Candidates sets the MAC/HMAC grain sizes: 1 for float
// inputs, 2 for half; partial-chans-per-group 1 for float partials, 2 for
// half.
func macApplicable(p convparams.Params) bool {
	return true
}

// vmacApplicable implements the VMAC predicate: half activations, input
// type size 2 bytes.
func vmacApplicable(p convparams.Params) bool {
	return p.InputType == target.Half
}

// outerProductApplicable implements the OuterProduct predicate: one input
// channel, batch 1 on the tile, kernel is all 1s, no input dilation or
// flip, no output stride.
func outerProductApplicable(p convparams.Params) bool {
	if p.InChansPerGroup != 1 || p.NumInGroups != 1 || p.NumConvGroups != 1 {
		return false
	}
	if p.Batch != 1 {
		return false
	}
	for _, f := range p.Field {
		if f.KernelSize != 1 {
			return false
		}
		if f.InputTransform.Dilation > 1 || f.InputTransform.Flip {
			return false
		}
		if f.OutputStride > 1 {
			return false
		}
	}
	return true
}
