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

// Package dither picks the starting tile offset used to spread otherwise
// identical convolutions across the device, so that repeated invocations
// of the same operator shape don't all contend for the same physical
// tiles. Per spec design note: this choice is orthogonal to planning and
// must never affect which plan is selected, only where its tiles begin.
package dither

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// Direction is the sweep direction used when laying a plan's tiles out from
// the chosen start.
type Direction int

const (
	// Ascending lays tiles out from the start offset upward.
	Ascending Direction = iota
	// Descending lays tiles out from the start offset downward.
	Descending
)

// Key is the pass-oblivious subset of an operator's parameters the start
// tile is hashed from: it must be identical across forward/backward/weight
// update passes of the same logical operator so that they dither together.
type Key struct {
	InputType, OutputType string
	Batch                 uint64
	Field, Kernel         []uint64
	InChans, OutChans     uint64
	ConvGroups            uint64
}

func (k Key) bytes() []byte {
	buf := make([]byte, 0, 64)
	put := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	buf = append(buf, k.InputType...)
	buf = append(buf, 0)
	buf = append(buf, k.OutputType...)
	buf = append(buf, 0)
	put(k.Batch)
	for _, f := range k.Field {
		put(f)
	}
	for _, kd := range k.Kernel {
		put(kd)
	}
	put(k.InChans)
	put(k.OutChans)
	put(k.ConvGroups)
	return buf
}

// StartTile returns a deterministic (start tile, direction) pair for key,
// folded into a span aligned to the shared-exchange-bus width so that the
// dithered start never splits a shared-bus group across the fold boundary.
func StartTile(key Key, numTiles, sharedBusWidth int) (tile int, dir Direction) {
	if numTiles <= 0 {
		return 0, Ascending
	}
	if sharedBusWidth <= 0 {
		sharedBusWidth = 1
	}
	h := murmur3.Sum64(key.bytes())

	span := numTiles / sharedBusWidth
	if span <= 0 {
		span = 1
	}
	group := int(h % uint64(span))
	tile = group * sharedBusWidth
	if tile >= numTiles {
		tile = numTiles - 1
	}
	if h&1 == 1 {
		dir = Descending
	} else {
		dir = Ascending
	}
	return tile, dir
}
