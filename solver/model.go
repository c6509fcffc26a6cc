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

// Package solver is a small integer constraint model in the style of
// PopLibs' popsolver: variables have bounded domains, constraints narrow
// those domains, and Minimize performs bound-consistency propagation
// followed by a branch-and-bound search over the remaining choices. The
// model is acyclic by construction: every variable and constraint is
// introduced in the order the caller builds them, and a constraint may only
// reference variables introduced earlier.
package solver

import (
	"math"

	"github.com/pingcap/errors"
)

// Variable is an opaque handle to a decision variable or derived expression
// inside a Model. The zero Variable is never valid; handles are returned by
// the Model's constructors.
type Variable int

const maxDomain = math.MaxUint32

// Model owns a set of variables and the constraints relating them.
type Model struct {
	names       []string
	lowerBounds []uint64
	upperBounds []uint64
	constraints []constraint
}

// constraint narrows the domain of its output variable given the current
// bounds of its inputs; it returns false if it proved the model infeasible.
type constraint interface {
	propagate(m *Model) (ok bool)
	vars() []Variable
}

// NewModel returns an empty constraint model.
func NewModel() *Model {
	return &Model{}
}

func (m *Model) newVar(name string, lo, hi uint64) Variable {
	m.names = append(m.names, name)
	m.lowerBounds = append(m.lowerBounds, lo)
	m.upperBounds = append(m.upperBounds, hi)
	return Variable(len(m.names) - 1)
}

// AddVariable introduces a new decision variable with domain [0, maxDomain].
func (m *Model) AddVariable(name string) Variable {
	return m.newVar(name, 0, maxDomain)
}

// AddVariableRange introduces a new decision variable with an explicit
// inclusive domain.
func (m *Model) AddVariableRange(name string, lo, hi uint64) Variable {
	return m.newVar(name, lo, hi)
}

// AddConstant introduces a variable fixed to a single value.
func (m *Model) AddConstant(v uint64) Variable {
	return m.newVar("", v, v)
}

// Zero is a convenience constant variable equal to 0.
func (m *Model) Zero() Variable { return m.AddConstant(0) }

// One is a convenience constant variable equal to 1.
func (m *Model) One() Variable { return m.AddConstant(1) }

// LowerBound returns the current lower bound of v.
func (m *Model) LowerBound(v Variable) uint64 { return m.lowerBounds[v] }

// UpperBound returns the current upper bound of v.
func (m *Model) UpperBound(v Variable) uint64 { return m.upperBounds[v] }

func (m *Model) narrow(v Variable, lo, hi uint64) bool {
	if lo > m.lowerBounds[v] {
		m.lowerBounds[v] = lo
	}
	if hi < m.upperBounds[v] {
		m.upperBounds[v] = hi
	}
	return m.lowerBounds[v] <= m.upperBounds[v]
}

func (m *Model) add(c constraint) {
	m.constraints = append(m.constraints, c)
}

// Sum returns a variable constrained to equal the sum of vars.
func (m *Model) Sum(name string, vars ...Variable) Variable {
	out := m.AddVariable(name)
	m.add(&sumConstraint{out: out, in: vars})
	return out
}

// Product returns a variable constrained to equal the product of vars.
func (m *Model) Product(name string, vars ...Variable) Variable {
	out := m.AddVariable(name)
	m.add(&productConstraint{out: out, in: vars})
	return out
}

// Max returns a variable constrained to equal the maximum of vars.
func (m *Model) Max(name string, vars ...Variable) Variable {
	out := m.AddVariable(name)
	m.add(&maxConstraint{out: out, in: vars})
	return out
}

// Min returns a variable constrained to equal the minimum of vars.
func (m *Model) Min(name string, vars ...Variable) Variable {
	out := m.AddVariable(name)
	m.add(&minConstraint{out: out, in: vars})
	return out
}

// Ceildiv returns a variable constrained to equal ceil(a / b).
func (m *Model) Ceildiv(name string, a, b Variable) Variable {
	out := m.AddVariable(name)
	m.add(&divConstraint{out: out, a: a, b: b, ceil: true})
	return out
}

// Floordiv returns a variable constrained to equal floor(a / b).
func (m *Model) Floordiv(name string, a, b Variable) Variable {
	out := m.AddVariable(name)
	m.add(&divConstraint{out: out, a: a, b: b, ceil: false})
	return out
}

// Call returns a variable constrained to equal fn applied to the current
// values of in once all of in are fixed; it is the hook estimator
// call-backs attach through.
func (m *Model) Call(name string, fn func(args []uint64) uint64, in ...Variable) Variable {
	out := m.AddVariable(name)
	m.add(&callConstraint{out: out, in: in, fn: fn})
	return out
}

// LessOrEqual constrains a <= b.
func (m *Model) LessOrEqual(a, b Variable) {
	m.add(&leConstraint{a: a, b: b})
}

// Equal constrains a == b.
func (m *Model) Equal(a, b Variable) {
	m.add(&eqConstraint{a: a, b: b})
}

// EqualConst constrains v == c.
func (m *Model) EqualConst(v Variable, c uint64) {
	m.Equal(v, m.AddConstant(c))
}

// Infeasible adds a constraint that can never be satisfied, used by the
// parameter-transform module to reject invalid transform requests.
func (m *Model) Infeasible() {
	m.add(&infeasibleConstraint{})
}

// Solution holds the fixed values found by a successful Minimize call.
type Solution struct {
	values []uint64
}

// Value returns the value assigned to v in the solution.
func (s Solution) Value(v Variable) uint64 {
	if int(v) >= len(s.values) {
		return 0
	}
	return s.values[v]
}

// Minimize searches for an assignment of every variable satisfying all
// constraints that minimises the tuple of objective variables in
// lexicographic order. It returns ok=false if the model is infeasible.
func (m *Model) Minimize(objectives ...Variable) (Solution, bool) {
	work := m.clone()
	if !work.propagateToFixpoint() {
		return Solution{}, false
	}
	best, ok := work.search(objectives, nil)
	if !ok {
		return Solution{}, false
	}
	return Solution{values: best}, true
}

func (m *Model) clone() *Model {
	c := &Model{
		names:       append([]string(nil), m.names...),
		lowerBounds: append([]uint64(nil), m.lowerBounds...),
		upperBounds: append([]uint64(nil), m.upperBounds...),
		constraints: m.constraints,
	}
	return c
}

// propagateToFixpoint repeatedly narrows every variable's domain using every
// constraint until no domain changes, or a domain becomes empty.
func (m *Model) propagateToFixpoint() bool {
	for {
		changed := false
		for _, c := range m.constraints {
			before := m.snapshot(c.vars())
			if !c.propagate(m) {
				return false
			}
			if !m.sameSnapshot(c.vars(), before) {
				changed = true
			}
		}
		if !changed {
			return true
		}
	}
}

func (m *Model) snapshot(vars []Variable) []uint64 {
	s := make([]uint64, 0, len(vars)*2)
	for _, v := range vars {
		s = append(s, m.lowerBounds[v], m.upperBounds[v])
	}
	return s
}

func (m *Model) sameSnapshot(vars []Variable, before []uint64) bool {
	after := m.snapshot(vars)
	for i := range after {
		if after[i] != before[i] {
			return false
		}
	}
	return true
}

// search performs branch and bound: it picks the first unresolved variable
// (lowerBound != upperBound), branches on its low and high halves, and
// keeps the cheapest complete assignment found under lexicographic
// objective order. incumbent, when non-nil, prunes branches that cannot
// beat it.
func (m *Model) search(objectives []Variable, incumbent []uint64) ([]uint64, bool) {
	v, resolved := m.firstUnresolved()
	if resolved {
		vals := make([]uint64, len(m.lowerBounds))
		copy(vals, m.lowerBounds)
		if incumbent != nil && !lexLess(objValues(vals, objectives), objValues(incumbent, objectives)) {
			return nil, false
		}
		return vals, true
	}
	lo, hi := m.lowerBounds[v], m.upperBounds[v]
	mid := lo + (hi-lo)/2

	var best []uint64
	tryHalf := func(halfLo, halfHi uint64) {
		branch := m.clone()
		if !branch.narrow(v, halfLo, halfHi) {
			return
		}
		if !branch.propagateToFixpoint() {
			return
		}
		cur := best
		if cur == nil {
			cur = incumbent
		}
		if cur != nil && !lexLess(objValues(branch.lowerBounds, objectives), objValues(cur, objectives)) {
			return // no completion of this branch can beat cur
		}
		candidate, ok := branch.search(objectives, cur)
		if !ok {
			return
		}
		if best == nil || lexLess(objValues(candidate, objectives), objValues(best, objectives)) {
			best = candidate
		}
	}
	tryHalf(lo, mid)
	tryHalf(mid+1, hi)
	if best == nil {
		return nil, false
	}
	return best, true
}

func (m *Model) firstUnresolved() (Variable, bool) {
	for i := range m.lowerBounds {
		if m.lowerBounds[i] != m.upperBounds[i] {
			return Variable(i), false
		}
	}
	return 0, true
}

func objValues(vals []uint64, objectives []Variable) []uint64 {
	out := make([]uint64, len(objectives))
	for i, o := range objectives {
		out[i] = vals[o]
	}
	return out
}

func lexLess(a, b []uint64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

var errInfeasible = errors.New("solver: model is infeasible")

// ErrInfeasible is returned by callers that want a sentinel for "no
// solution" distinct from a configuration error.
func ErrInfeasible() error { return errInfeasible }
