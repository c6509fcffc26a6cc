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

// Package convplan builds the convolution constraint model (spec §4.4) and
// drives the outer search over transforms, operand swap, and method
// candidates (spec §4.5).
package convplan

import (
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

// Pass names the role of a convolution within a larger training step, spec
// §6.
type Pass int

const (
	PassNone Pass = iota
	PassNoneMatmul
	PassInferenceFwd
	PassTrainingFwd
	PassTrainingBwd
	PassTrainingWU
	PassFCInferenceFwd
	PassFCTrainingFwd
	PassFCTrainingBwd
	PassFCTrainingWU
)

// IsFullyConnected reports whether pass is one of the FC_* variants. Plan
// uses it to leave out the methods joint fully-connected plans disallow;
// Plan does not plan the three passes jointly itself, PlanFullyConnected
// does.
func (p Pass) IsFullyConnected() bool {
	switch p {
	case PassFCInferenceFwd, PassFCTrainingFwd, PassFCTrainingBwd, PassFCTrainingWU:
		return true
	}
	return false
}

// Options bundles the convolution planning options from spec §6.
type Options struct {
	Pass Pass

	PartialsType          target.DataType
	InterTilePartialsType target.DataType
	InterIPUPartialsType  target.DataType

	// AvailableMemoryProportion is in [0, 1]; 0 selects pure memory
	// minimisation.
	AvailableMemoryProportion float64

	EnableMultiStageReduce  bool
	EnableFastReduce        bool
	EnableSingleInputReduce bool
	EnableAmpHalfEnginesPlan bool
	EnableConvDithering     bool
	Use128BitConvUnitLoad   bool

	NumIPUs     int
	TilesPerIPU int

	// PlanConstraints pins chosen transform, partition, and method fields
	// instead of letting the search driver pick them (spec §6, §9 "Option
	// trees"). The zero value (no Levels) searches freely.
	PlanConstraints planconstraints.Tree

	// CostDiffSecondaryIsTiles selects the MinimiseCostDiff objective's
	// secondary sort key, used only when planning against a reference
	// cost: true breaks ties on tile count, false (the default) on temp
	// bytes. Plan always plans without a reference cost, so through Plan
	// this option has no effect.
	CostDiffSecondaryIsTiles bool
}
