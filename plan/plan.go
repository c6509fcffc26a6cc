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

package plan

import "github.com/ipu-tools/tileplan/target"

// DimSplit is a per-dimension split: parallel divides work across tiles at
// a level, serial becomes a repeat loop at run time instead.
type DimSplit struct {
	Parallel uint64
	Serial   uint64 // 1 when the dimension has no serial axis
}

// TransformRecord captures the transform decisions made at one hierarchy
// level: which dimensions were expanded into input channels, which were
// flattened (OutChanFlattenDims; convparams.FlattenDims folds them into the
// batch axis, and no dimension is folded into the output-channel axis),
// whether operands were swapped, and the convolution-group combining
// factor.
type TransformRecord struct {
	SwapOperands      bool
	ExpandDims        []int
	OutChanFlattenDims []int
	CombineConvGroupsFactor uint64
}

// PartitionRecord is one level of the tile hierarchy, ordered leaves-first
// per spec §3.
type PartitionRecord struct {
	FieldSplit    []uint64 // parallel split per field dimension
	BatchSplit    uint64
	OutChanSplit  DimSplit
	KernelSplit   []uint64 // parallel split per kernel dimension (innermost always 1)
	InChanSplit   DimSplit
	ConvGroupSplit uint64
}

// TypeRecord names the partial and result type carried between two
// adjacent hierarchy levels.
type TypeRecord struct {
	PartialType target.DataType
	ResultType  target.DataType
}

// Method is a tagged sum over the closed set of on-tile compute kernels
// spec §4.3 describes; dispatch over it is a plain switch, never
// interface-based virtual dispatch, per spec §9's design note.
type Method int

const (
	MethodAMP Method = iota
	MethodSLIC
	MethodMAC
	MethodHMAC
	MethodVMAC
	MethodOuterProduct
	// Sparse-dense methods, §4.6.
	MethodSparseForward
	MethodSparseGradA
	MethodSparseTranspose
	MethodSparseGradW
)

func (m Method) String() string {
	switch m {
	case MethodAMP:
		return "AMP"
	case MethodSLIC:
		return "SLIC"
	case MethodMAC:
		return "MAC"
	case MethodHMAC:
		return "HMAC"
	case MethodVMAC:
		return "VMAC"
	case MethodOuterProduct:
		return "OuterProduct"
	case MethodSparseForward:
		return "Forward"
	case MethodSparseGradA:
		return "GradA"
	case MethodSparseTranspose:
		return "Transpose"
	case MethodSparseGradW:
		return "GradW"
	}
	return "Unknown"
}

// MethodParams holds the method-specific scalars named in spec §3.
type MethodParams struct {
	Method              Method
	ConvGroupsPerGroup  uint64
	InChansPerGroup     uint64
	PartialChansPerGroup uint64
	SLICWindowWidth     uint64 // SLIC kernel window width, always 4
	NumEngines          uint64
}

// Plan is the planner's output: a value type, comparable member-wise, safe
// to store by value in a cache.
type Plan struct {
	Transforms  []TransformRecord
	Partitions  []PartitionRecord
	Types       []TypeRecord
	Method      MethodParams
	GrainSizes  GrainSizes
	IsJointPlan bool
	StartTile   int
}

// GrainSizes are the minimum multiples dimensions must round up to for the
// chosen method (spec GLOSSARY "Grain / grain size").
type GrainSizes struct {
	ConvGroup    uint64
	InChan       uint64
	PartialChan  uint64
}

// UsedTiles returns the product of parallel splits across every level,
// i.e. the number of physical tiles this plan occupies.
func (p Plan) UsedTiles() uint64 {
	var used uint64 = 1
	for _, part := range p.Partitions {
		level := part.ConvGroupSplit * part.BatchSplit * part.OutChanSplit.Parallel * part.InChanSplit.Parallel
		for _, f := range part.FieldSplit {
			level *= f
		}
		for _, k := range part.KernelSplit {
			level *= k
		}
		if level == 0 {
			level = 1
		}
		used *= level
	}
	return used
}
