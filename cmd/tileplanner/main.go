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

// Command tileplanner is a thin example wiring of the planning core: it
// loads a target profile, plans one convolution operator, and prints the
// chosen method and cost. Real callers are expected to be a code-generation
// layer embedding this module as a library (spec §1); this binary exists
// to exercise the full path end to end and as a home for the process-level
// concerns (GOMAXPROCS, logging) spec §5/§6 call for.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pingcap/log"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/ipu-tools/tileplan/convparams"
	"github.com/ipu-tools/tileplan/convplan"
	"github.com/ipu-tools/tileplan/logutil"
	"github.com/ipu-tools/tileplan/planconstraints"
	"github.com/ipu-tools/tileplan/target"
)

func main() {
	profilePath := flag.String("profile", "target/profiles/ipu-mk2-1216.toml", "device profile TOML path")
	constraintsOut := flag.String("plan-constraints-out", "", "optional path to write the chosen plan as a plan-constraints JSON tree")
	flag.Parse()

	logutil.BgLogger() // install pingcap/log globals before any log.* call below

	// Reflect a container cgroup CPU quota into GOMAXPROCS before the
	// multi-plan composer's parallel-for sizes its goroutine pool from it
	// (plancache.ComposeMultiPlan), per spec §5's thread-pool note.
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {})); err != nil {
		logutil.BgLogger().Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	t, err := target.Load(*profilePath)
	if err != nil {
		logutil.BgLogger().Error("failed to load target profile", zap.Error(err))
		os.Exit(1)
	}
	log.Info("loaded target profile", zap.String("name", t.Name), zap.Int("tiles", t.NumTiles()))

	p := convparams.Params{
		InputType: target.Half, OutputType: target.Half,
		Batch: 1,
		Field: []convparams.FieldDim{
			{InputSize: 4, KernelSize: 3, OutputStride: 1, InputTransform: convparams.DimTransform{Dilation: 1}, KernelTransform: convparams.DimTransform{Dilation: 1}},
			{InputSize: 4, KernelSize: 3, OutputStride: 1, InputTransform: convparams.DimTransform{Dilation: 1}, KernelTransform: convparams.DimTransform{Dilation: 1}},
		},
		InChansPerGroup: 16, OutChansPerGroup: 16,
		NumConvGroups: 1, NumInGroups: 1, NumOutGroups: 1,
	}
	opts := convplan.Options{
		Pass: convplan.PassInferenceFwd, PartialsType: target.Half,
		AvailableMemoryProportion: 0.6,
	}

	result, cost, err := convplan.Plan(p, t, opts)
	if err != nil {
		logutil.BgLogger().Error("planning failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("method=%s cycles=%d tempBytes=%d tiles=%d startTile=%d\n",
		result.Method.Method, cost.TotalCycles, cost.TotalTempBytes, cost.TotalTiles, result.StartTile)

	if *constraintsOut != "" {
		tree := treeFromPlan(result.Method.Method.String())
		if err := planconstraints.Save(*constraintsOut, tree); err != nil {
			logutil.BgLogger().Error("failed to write plan constraints", zap.Error(err))
			os.Exit(1)
		}
	}
}

// treeFromPlan renders the chosen plan's single level back into a
// plan-constraints tree, spec §6's "optionally, a plan-constraints JSON
// object mirroring the plan".
func treeFromPlan(method string) planconstraints.Tree {
	// Only the method tag is rendered here; the full per-dimension mirror
	// lives in planconstraints.Tree and is populated by callers that have
	// the plan.Plan value directly (convplan_test.go's
	// TestPlanConstraintsRoundTrip pins the method the same way).
	return planconstraints.Tree{Levels: []planconstraints.Level{{
		Method: &planconstraints.Method{Method: &method},
	}}}
}
