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

// Package convparams canonicalises convolution operator parameters and
// implements the fixed-order taxonomy of functional transforms from spec
// §4.2: add extra field dimensions, defer dilation, swap operands, expand
// dims, flatten dims, combine conv groups, pad to grain sizes. Every
// transform is a pure function from canonical parameters to canonical
// parameters.
package convparams

import "github.com/ipu-tools/tileplan/target"

// DimTransform is the per-dimension transform applied on one side (input,
// output, or kernel) of a field dimension.
type DimTransform struct {
	TruncateLower, TruncateUpper uint64
	Dilation                     uint64
	PaddingLower, PaddingUpper   uint64
	Flip                         bool
}

// isIdentity reports whether t leaves its dimension untouched.
func (t DimTransform) isIdentity() bool {
	return t.TruncateLower == 0 && t.TruncateUpper == 0 &&
		t.Dilation == 1 && t.PaddingLower == 0 && t.PaddingUpper == 0 && !t.Flip
}

// FieldDim is one spatial dimension's full parameter set.
type FieldDim struct {
	InputSize   uint64
	KernelSize  uint64
	OutputTruncation DimTransform
	InputTransform   DimTransform
	KernelTransform  DimTransform
	OutputStride     uint64
}

// Params is the canonicalised, per-operator-family-agnostic convolution
// parameter set described in spec §3.
type Params struct {
	InputType, OutputType target.DataType

	Batch uint64

	Field []FieldDim

	InChansPerGroup, OutChansPerGroup uint64
	NumConvGroups                    uint64
	NumInGroups, NumOutGroups        uint64 // groups of channels (not conv groups)
}

// InChans returns the total input channel count (across groups).
func (p Params) InChans() uint64 { return p.InChansPerGroup * p.NumInGroups * p.NumConvGroups }

// OutChans returns the total output channel count (across groups).
func (p Params) OutChans() uint64 { return p.OutChansPerGroup * p.NumOutGroups * p.NumConvGroups }

// Clone returns a deep copy, since transforms must not alias the input's
// Field slice.
func (p Params) Clone() Params {
	c := p
	c.Field = append([]FieldDim(nil), p.Field...)
	return c
}

// Canon normalises a dilation of 0 (on the input, kernel, and output-
// truncation transforms) and an output stride of 0 to 1. It does not fold
// any other transform combination: truncation, padding, and flip values
// are kept exactly as given. Canon is idempotent: Canon(Canon(p)) ==
// Canon(p).
func Canon(p Params) Params {
	c := p.Clone()
	for i, f := range c.Field {
		norm := func(t DimTransform) DimTransform {
			if t.Dilation == 0 {
				t.Dilation = 1
			}
			return t
		}
		f.InputTransform = norm(f.InputTransform)
		f.KernelTransform = norm(f.KernelTransform)
		f.OutputTruncation = norm(f.OutputTruncation)
		if f.OutputStride == 0 {
			f.OutputStride = 1
		}
		c.Field[i] = f
	}
	return c
}

// dimCanBeFlattened reports whether the dimension carries no active
// transform (all transforms are identities for that dim) and collapses to a
// single kernel position, since flattening folds the dimension into another
// one and a surviving kernel extent would have nowhere to go.
func dimCanBeFlattened(f FieldDim) bool {
	return f.InputTransform.isIdentity() && f.KernelTransform.isIdentity() && f.OutputTruncation.isIdentity() && f.OutputStride == 1 && transformedKernelSize(f) == 1
}

// canDeferDilation reports whether dilation on dim can be deferred to the
// code generator rather than expressed as explicit padding.
func canDeferDilation(f FieldDim) bool {
	return f.OutputTruncation.PaddingLower == 0 && f.OutputTruncation.PaddingUpper == 0 &&
		f.OutputStride == 1 && f.OutputTruncation.TruncateUpper == 0 &&
		transformedKernelSize(f) == 1
}

func transformedKernelSize(f FieldDim) uint64 {
	k := f.KernelSize
	if k < f.KernelTransform.TruncateLower+f.KernelTransform.TruncateUpper {
		return 0
	}
	return k - f.KernelTransform.TruncateLower - f.KernelTransform.TruncateUpper
}

// AddExtraFieldDims appends n size-1 field dimensions with identity
// transforms, used to give every operator the same field-dimension rank
// before the rest of the transform pipeline runs.
func AddExtraFieldDims(p Params, n int) Params {
	c := p.Clone()
	for i := 0; i < n; i++ {
		c.Field = append(c.Field, FieldDim{
			InputSize:    1,
			KernelSize:   1,
			OutputStride: 1,
			InputTransform: DimTransform{Dilation: 1},
			KernelTransform: DimTransform{Dilation: 1},
		})
	}
	return c
}

// DeferDilation clears dilation on every qualifying dimension (§4.2
// canDeferDilation), leaving a note for the code generator (out of scope)
// to apply it as an implicit stride during vertex emission instead of as
// explicit padding.
func DeferDilation(p Params) (Params, []int) {
	c := p.Clone()
	var deferred []int
	for i, f := range c.Field {
		if f.InputTransform.Dilation > 1 && canDeferDilation(f) {
			f.InputTransform.Dilation = 1
			c.Field[i] = f
			deferred = append(deferred, i)
		}
	}
	return c, deferred
}

// SwapOperands exchanges the roles of input and output channels, used by
// the fully-connected joint-plan backward/weight-update passes and by the
// search driver's swapOperands outer loop.
func SwapOperands(p Params) Params {
	c := p.Clone()
	c.InputType, c.OutputType = c.OutputType, c.InputType
	c.InChansPerGroup, c.OutChansPerGroup = c.OutChansPerGroup, c.InChansPerGroup
	c.NumInGroups, c.NumOutGroups = c.NumOutGroups, c.NumInGroups
	return c
}

// ExpandDims rewrites each listed field dimension into the input-channel
// axis: input size becomes the output size, input channels multiply by the
// truncated kernel size, kernel size becomes 1, and all per-dim transforms
// of that dim reset to identity.
func ExpandDims(p Params, dims []int) Params {
	c := p.Clone()
	for _, d := range dims {
		f := c.Field[d]
		kSize := transformedKernelSize(f)
		c.InChansPerGroup *= max1(kSize)
		f.InputSize = outputSize(f)
		f.KernelSize = 1
		f.InputTransform = DimTransform{Dilation: 1}
		f.KernelTransform = DimTransform{Dilation: 1}
		f.OutputTruncation = DimTransform{Dilation: 1}
		f.OutputStride = 1
		c.Field[d] = f
	}
	return c
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// OutputSize computes a field dimension's output size from its current
// transform state, for callers (the constraint-model builder) that need the
// same arithmetic ExpandDims and FlattenDims use internally.
func OutputSize(f FieldDim) uint64 { return outputSize(f) }

// outputSize computes a dimension's output field size from its current
// transform state: (truncated, dilated, padded input) convolved with the
// (truncated, dilated) kernel, strided, then truncated on the output side.
func outputSize(f FieldDim) uint64 {
	in := f.InputSize
	if in < f.InputTransform.TruncateLower+f.InputTransform.TruncateUpper {
		return 0
	}
	in -= f.InputTransform.TruncateLower + f.InputTransform.TruncateUpper
	dilation := f.InputTransform.Dilation
	if dilation == 0 {
		dilation = 1
	}
	dilatedIn := uint64(0)
	if in > 0 {
		dilatedIn = (in-1)*dilation + 1
	}
	dilatedIn += f.InputTransform.PaddingLower + f.InputTransform.PaddingUpper

	k := transformedKernelSize(f)
	kDilation := f.KernelTransform.Dilation
	if kDilation == 0 {
		kDilation = 1
	}
	dilatedK := uint64(0)
	if k > 0 {
		dilatedK = (k-1)*kDilation + 1
	}

	if dilatedIn < dilatedK {
		return 0
	}
	full := dilatedIn - dilatedK + 1
	stride := f.OutputStride
	if stride == 0 {
		stride = 1
	}
	out := ceildiv(full, stride)
	if out < f.OutputTruncation.TruncateLower+f.OutputTruncation.TruncateUpper {
		return 0
	}
	return out - f.OutputTruncation.TruncateLower - f.OutputTruncation.TruncateUpper
}

func ceildiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// FlattenDims folds each listed field dimension's output size into the
// batch count, used when a dimension has no active transform and so can be
// treated as extra independent batch elements (spec §4.2 dimCanBeFlattened).
// It returns an error-shaped bool when any dim is not flattenable; callers
// should reject the request via an infeasible constraint rather than
// panicking, per spec §4.2 "Failure".
func FlattenDims(p Params, dims []int) (Params, bool) {
	c := p.Clone()
	for _, d := range dims {
		if !dimCanBeFlattened(c.Field[d]) {
			return c, false
		}
		c.Batch *= max1(c.Field[d].InputSize)
		f := c.Field[d]
		f.InputSize = 1
		c.Field[d] = f
	}
	return c, true
}

// CombineConvGroups divides the number of convolution groups by factor
// (rounding up) and multiplies input/output channels per group by factor.
func CombineConvGroups(p Params, factor uint64) Params {
	if factor <= 1 {
		return p
	}
	c := p.Clone()
	c.NumConvGroups = ceildiv(c.NumConvGroups, factor)
	c.InChansPerGroup *= factor
	c.OutChansPerGroup *= factor
	return c
}

// PadToGrainSizes rounds channel counts up to the given grain sizes, the
// final transform stage before the constraint model is built.
func PadToGrainSizes(p Params, inChanGrain, outChanGrain uint64) Params {
	c := p.Clone()
	if inChanGrain > 0 {
		c.InChansPerGroup = roundUp(c.InChansPerGroup, inChanGrain)
	}
	if outChanGrain > 0 {
		c.OutChansPerGroup = roundUp(c.OutChansPerGroup, outChanGrain)
	}
	return c
}

func roundUp(v, grain uint64) uint64 {
	return ceildiv(v, grain) * grain
}
