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

// ZeroArgs bundles the parameters of a zero/memset supervisor vertex.
type ZeroArgs struct {
	NumElements uint64
	TypeSize    uint64
	NumWorkers  uint64
}

// EstimateZeroCycles estimates the cycles to broadcast a zero constant
// over NumElements, used both by memset-zero and by the tile-level
// transform cost for input-channel padding (spec §4.4).
func (c *Cache) EstimateZeroCycles(a ZeroArgs) uint64 {
	return memo(c, a, func() uint64 {
		if a.NumElements == 0 {
			return 0
		}
		bytes := a.NumElements * max1(a.TypeSize)
		perWorkerBytes := ceildiv(bytes, max1(a.NumWorkers))
		return ceildiv(perWorkerBytes, 8) * max1(a.NumWorkers)
	})
}

// CastArgs bundles the parameters of a type-cast vertex.
type CastArgs struct {
	NumElements    uint64
	SrcTypeSize    uint64
	DstTypeSize    uint64
	NumWorkers     uint64
}

// EstimateCastCycles estimates the cycles to cast NumElements from one
// numeric type to another.
func (c *Cache) EstimateCastCycles(a CastArgs) uint64 {
	return memo(c, a, func() uint64 {
		if a.NumElements == 0 {
			return 0
		}
		widest := a.SrcTypeSize
		if a.DstTypeSize > widest {
			widest = a.DstTypeSize
		}
		bytes := a.NumElements * widest
		perWorker := ceildiv(bytes, max1(a.NumWorkers))
		return ceildiv(perWorker, 4)*max1(a.NumWorkers) + 6
	})
}

// ExchangeArgs bundles the parameters of an inter-tile exchange cost.
type ExchangeArgs struct {
	Bytes                  uint64
	BytesPerCycleScaled    uint64 // exchange bytes/cycle, scaled (see ScaleFactor) and rounded
	ScaleFactor            uint64
	SharedBus              bool
	ConsecutiveTilesSameData uint64
	TilesPerSharedBus      uint64
}

// ScaleFactor is the fixed-point scale applied to exchange bytes/cycle
// before dividing, to preserve precision when the bandwidth is fractional
// (spec §4.4 "Exchange cycles").
const ScaleFactor = 1024

// EstimateExchangeCycles estimates the cycles to move Bytes across the
// exchange fabric, doubling effective bandwidth when the shared-exchange
// -bus condition (spec §4.4) is met: the bus is supported and the number
// of consecutive tiles receiving the same data is a whole multiple of the
// bus's tile span.
func EstimateExchangeCycles(a ExchangeArgs) uint64 {
	bw := a.BytesPerCycleScaled
	if bw == 0 {
		bw = 1
	}
	if a.SharedBus && a.TilesPerSharedBus > 0 && a.ConsecutiveTilesSameData > 0 &&
		a.ConsecutiveTilesSameData%a.TilesPerSharedBus == 0 {
		bw *= 2
	}
	scaled := a.Bytes * ScaleFactor
	return ceildiv(scaled, bw)
}
