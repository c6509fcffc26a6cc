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

package estimator

import "math"

// BucketSizing gives the per-tile meta-info and non-zero-value bucket
// sizes for a sparse operand (spec §4.6).
type BucketSizing struct {
	MetaInfoElemsPerBucket uint64
	NzElemsPerBucket       uint64
}

// SizeBuckets estimates bucket sizes for a perfectly-uniform sparsity
// pattern of density (1 - sparsityRatio) over a rows x cols matrix of
// groups, scaled by (1 + oversizeProportion) and rounded up to the
// exchange-atom count for the respective type.
//
// Rather than the flat expectation rows*cols*density, this follows the
// original's getNumGroupsGivenUniformSparsityPattern: a row group of cols
// elements is non-zero with probability 1-ProbabilityRowAllZero(density,
// cols), which gives the number of row groups actually holding a non-zero
// element; the total non-zero group count divided by that gives the
// column-group count implied per non-zero row. Their product is usually
// larger than the flat expectation, since a uniform-but-sparse pattern
// still touches most rows at least once long before it fills them.
func SizeBuckets(rows, cols uint64, sparsityRatio, oversizeProportion float64, metaAtomElems, nzAtomElems uint64) BucketSizing {
	density := 1 - sparsityRatio
	if density < 0 {
		density = 0
	}
	if density > 1 {
		density = 1
	}

	pRowHasNonZero := 1 - ProbabilityRowAllZero(density, cols)
	nonZeroRows := uint64(math.Ceil(float64(rows) * pRowHasNonZero))
	if nonZeroRows == 0 {
		nonZeroRows = 1
	}
	totalNonZero := uint64(math.Ceil(float64(rows) * float64(cols) * density))
	nonZeroCols := ceildiv(totalNonZero, nonZeroRows)

	oversized := float64(nonZeroRows*nonZeroCols) * (1 + oversizeProportion)

	meta := roundUpF(oversized, metaAtomElems)
	nz := roundUpF(oversized, nzAtomElems)
	return BucketSizing{MetaInfoElemsPerBucket: meta, NzElemsPerBucket: nz}
}

func roundUpF(v float64, atom uint64) uint64 {
	if atom == 0 {
		atom = 1
	}
	iv := uint64(math.Ceil(v))
	return ceildiv(iv, atom) * atom
}

// ProbabilityRowAllZero returns P(row entirely zero) = (1-density)^cols,
// the binomial identity spec §4.6 uses to estimate non-zero groups per row
// (and, with rows/cols swapped, per column).
func ProbabilityRowAllZero(density float64, cols uint64) float64 {
	return math.Pow(1-density, float64(cols))
}

// SparseGatherArgs bundles the parameters of the sparse bucket-gather
// vertex.
type SparseGatherArgs struct {
	NumBuckets      uint64
	NzElemsPerBucket uint64
	NumWorkers      uint64
}

// EstimateSparseGatherCycles estimates the cycles to gather non-zero
// elements across NumBuckets buckets.
func (c *Cache) EstimateSparseGatherCycles(a SparseGatherArgs) uint64 {
	return memo(c, a, func() uint64 {
		work := a.NumBuckets * a.NzElemsPerBucket
		return distributeOverWorkers(work, a.NumWorkers, 1.0, 16, 0)
	})
}

// SparseDenseElemWiseArgs bundles the parameters of the on-tile
// sparse x dense multiply-accumulate vertex shared by Forward/GradA/
// Transpose/GradW.
type SparseDenseElemWiseArgs struct {
	NzElemsPerBucket uint64
	DenseColumns     uint64
	NumWorkers       uint64
	PartialsAreFloat bool
}

// EstimateSparseDenseElemWiseCycles estimates the on-tile compute cycles
// for the sparse x dense element-wise family.
func (c *Cache) EstimateSparseDenseElemWiseCycles(a SparseDenseElemWiseArgs) uint64 {
	return memo(c, a, func() uint64 {
		work := a.NzElemsPerBucket * a.DenseColumns
		perElem := 1.0
		if a.PartialsAreFloat {
			perElem = 1.5
		}
		return distributeOverWorkers(work, a.NumWorkers, perElem, 12, 0)
	})
}

// PropagatingExchangeArgs bundles the parameters of the ring-rotation
// exchange that sweeps sparse buckets around the tiles of a column/row.
type PropagatingExchangeArgs struct {
	BucketBytes         uint64
	NumPropagationSteps uint64
	BytesPerCycleScaled uint64
}

// EstimatePropagatingExchangeCycles estimates the cost of rotating a bucket
// NumPropagationSteps times around the ring during the bucket sweep.
func EstimatePropagatingExchangeCycles(a PropagatingExchangeArgs) uint64 {
	perStep := EstimateExchangeCycles(ExchangeArgs{
		Bytes:               a.BucketBytes,
		BytesPerCycleScaled: a.BytesPerCycleScaled,
	})
	return perStep * a.NumPropagationSteps
}
