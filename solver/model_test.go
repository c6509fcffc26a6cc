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

package solver_test

import (
	"testing"

	. "github.com/pingcap/check"

	"github.com/ipu-tools/tileplan/solver"
)

func TestSolver(t *testing.T) { TestingT(t) }

var _ = Suite(&modelSuite{})

type modelSuite struct{}

func (s *modelSuite) TestMinimizeProductBound(c *C) {
	m := solver.NewModel()
	a := m.AddVariableRange("a", 1, 8)
	b := m.AddVariableRange("b", 1, 8)
	prod := m.Product("prod", a, b)
	m.LessOrEqual(prod, m.AddConstant(16))
	cost := m.Sum("cost", a, b)

	sol, ok := m.Minimize(cost)
	c.Assert(ok, Equals, true)
	c.Assert(sol.Value(a)*sol.Value(b) <= 16, Equals, true)
	c.Assert(sol.Value(a)+sol.Value(b) >= 2, Equals, true)
}

func (s *modelSuite) TestInfeasible(c *C) {
	m := solver.NewModel()
	a := m.AddVariableRange("a", 5, 5)
	b := m.AddConstant(6)
	m.Equal(a, b)
	_, ok := m.Minimize(a)
	c.Assert(ok, Equals, false)
}

func (s *modelSuite) TestCeildiv(c *C) {
	m := solver.NewModel()
	a := m.AddConstant(10)
	b := m.AddConstant(3)
	out := m.Ceildiv("out", a, b)
	sol, ok := m.Minimize(out)
	c.Assert(ok, Equals, true)
	c.Assert(sol.Value(out), Equals, uint64(4))
}

func (s *modelSuite) TestCallInvokedOnlyWhenResolved(c *C) {
	m := solver.NewModel()
	a := m.AddVariableRange("a", 2, 2)
	b := m.AddVariableRange("b", 3, 3)
	calls := 0
	out := m.Call("out", func(args []uint64) uint64 {
		calls++
		return args[0] * args[1] * 2
	}, a, b)
	sol, ok := m.Minimize(out)
	c.Assert(ok, Equals, true)
	c.Assert(sol.Value(out), Equals, uint64(12))
	c.Assert(calls >= 1, Equals, true)
}
