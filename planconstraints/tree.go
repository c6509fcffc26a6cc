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

// Package planconstraints is the plan-constraints option-tree interpreter
// from spec §6: a JSON-encoded hierarchical key/value tree that pins
// chosen transform, partition, and method fields instead of letting the
// search driver pick them. Files are named by pass, e.g.
// "myLayer_FWD.json", so a single operator's three training passes never
// collide in one directory.
package planconstraints

import (
	"encoding/json"
	"os"

	"github.com/pingcap/errors"

	"github.com/ipu-tools/tileplan/plan"
	"github.com/ipu-tools/tileplan/planerrors"
)

// DimSplit pins a dimension's parallel and/or serial split factor.
type DimSplit struct {
	Parallel *uint64 `json:"parallel,omitempty"`
	Serial   *uint64 `json:"serial,omitempty"`
}

// Transform pins the parameter-transform decisions at one hierarchy
// level, spec §4.2.
type Transform struct {
	SwapOperands       *bool   `json:"swapOperands,omitempty"`
	ExpandDims         []int   `json:"expandDims,omitempty"`
	OutChanFlattenDims []int   `json:"outChanFlattenDims,omitempty"`
	CombineConvGroups  *uint64 `json:"combineConvGroups,omitempty"`
}

// Partition pins the split decisions at one hierarchy level, spec §4.4.
type Partition struct {
	FieldSplit     []uint64  `json:"fieldSplit,omitempty"`
	BatchSplit     *uint64   `json:"batchSplit,omitempty"`
	OutChanSplit   *DimSplit `json:"outChanSplit,omitempty"`
	KernelSplit    []uint64  `json:"kernelSplit,omitempty"`
	InChanSplit    *DimSplit `json:"inChanSplit,omitempty"`
	ConvGroupSplit *uint64   `json:"convGroupSplit,omitempty"`
}

// Method pins the method-candidate scalars at one hierarchy level, spec
// §4.3.
type Method struct {
	Method               *string `json:"method,omitempty"`
	ConvGroupsPerGroup   *uint64 `json:"convGroupsPerGroup,omitempty"`
	InChansPerGroup      *uint64 `json:"inChansPerGroup,omitempty"`
	PartialChansPerGroup *uint64 `json:"partialChansPerGroup,omitempty"`
}

// Level bundles the three kinds of pin at one hierarchy level.
type Level struct {
	Transform *Transform `json:"transform,omitempty"`
	Partition *Partition `json:"partition,omitempty"`
	Method    *Method    `json:"method,omitempty"`
}

// Tree is the plan-constraints document: one Level per hierarchy level,
// leaves-first, matching plan.Plan.Partitions' ordering. The planner
// collapses its hierarchy to a single level (see DESIGN.md), so in
// practice Levels has exactly one entry, but the schema does not assume
// that.
type Tree struct {
	Levels []Level `json:"levels"`
}

// Load reads a plan-constraints tree from a JSON file.
func Load(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tree{}, errors.Annotatef(err, "loading plan constraints %q", path)
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return Tree{}, errors.Annotatef(err, "parsing plan constraints %q", path)
	}
	return t, nil
}

// Save writes t to path as indented JSON.
func Save(path string, t Tree) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Annotatef(err, "writing plan constraints %q", path)
	}
	return nil
}

// FilenameForPass suffixes base with the pass tag and the .json
// extension, e.g. FilenameForPass("myLayer", "FWD") == "myLayer_FWD.json".
func FilenameForPass(base, passTag string) string {
	return base + "_" + passTag + ".json"
}

// ParseMethod maps a plan-constraints method token to the corresponding
// plan.Method, returning a planerrors configuration error for an
// unrecognised token.
func ParseMethod(token string) (plan.Method, error) {
	switch token {
	case "AMP":
		return plan.MethodAMP, nil
	case "SLIC":
		return plan.MethodSLIC, nil
	case "MAC":
		return plan.MethodMAC, nil
	case "HMAC":
		return plan.MethodHMAC, nil
	case "VMAC":
		return plan.MethodVMAC, nil
	case "OuterProduct":
		return plan.MethodOuterProduct, nil
	case "Forward":
		return plan.MethodSparseForward, nil
	case "GradA":
		return plan.MethodSparseGradA, nil
	case "Transpose":
		return plan.MethodSparseTranspose, nil
	case "GradW":
		return plan.MethodSparseGradW, nil
	}
	return 0, planerrors.NewUnknownMethodError(token)
}

// AtLevel returns the constraints for level i, or the zero Level if the
// tree has no such level (constraints are optional; absence means
// "search freely").
func (t Tree) AtLevel(i int) Level {
	if i < 0 || i >= len(t.Levels) {
		return Level{}
	}
	return t.Levels[i]
}
