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

package solver

// sumConstraint: out == sum(in).
type sumConstraint struct {
	out Variable
	in  []Variable
}

func (c *sumConstraint) vars() []Variable { return append([]Variable{c.out}, c.in...) }

func (c *sumConstraint) propagate(m *Model) bool {
	var lo, hi uint64
	for _, v := range c.in {
		lo += m.lowerBounds[v]
		hi += m.upperBounds[v]
	}
	return m.narrow(c.out, lo, hi)
}

// productConstraint: out == product(in).
type productConstraint struct {
	out Variable
	in  []Variable
}

func (c *productConstraint) vars() []Variable { return append([]Variable{c.out}, c.in...) }

func (c *productConstraint) propagate(m *Model) bool {
	lo, hi := uint64(1), uint64(1)
	for _, v := range c.in {
		lo *= m.lowerBounds[v]
		if hi > maxDomain/max1(m.upperBounds[v]) {
			hi = maxDomain
		} else {
			hi *= m.upperBounds[v]
		}
	}
	return m.narrow(c.out, lo, hi)
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// maxConstraint: out == max(in).
type maxConstraint struct {
	out Variable
	in  []Variable
}

func (c *maxConstraint) vars() []Variable { return append([]Variable{c.out}, c.in...) }

func (c *maxConstraint) propagate(m *Model) bool {
	var lo, hi uint64
	for i, v := range c.in {
		if i == 0 || m.lowerBounds[v] > lo {
			lo = m.lowerBounds[v]
		}
		if i == 0 || m.upperBounds[v] > hi {
			hi = m.upperBounds[v]
		}
	}
	return m.narrow(c.out, lo, hi)
}

// minConstraint: out == min(in).
type minConstraint struct {
	out Variable
	in  []Variable
}

func (c *minConstraint) vars() []Variable { return append([]Variable{c.out}, c.in...) }

func (c *minConstraint) propagate(m *Model) bool {
	var lo, hi uint64
	for i, v := range c.in {
		if i == 0 || m.lowerBounds[v] < lo {
			lo = m.lowerBounds[v]
		}
		if i == 0 || m.upperBounds[v] < hi {
			hi = m.upperBounds[v]
		}
	}
	return m.narrow(c.out, lo, hi)
}

// divConstraint: out == ceil(a/b) or floor(a/b).
type divConstraint struct {
	out  Variable
	a, b Variable
	ceil bool
}

func (c *divConstraint) vars() []Variable { return []Variable{c.out, c.a, c.b} }

func (c *divConstraint) propagate(m *Model) bool {
	bLo := m.lowerBounds[c.b]
	if bLo == 0 {
		bLo = 1
	}
	bHi := m.upperBounds[c.b]
	if bHi == 0 {
		bHi = 1
	}
	var lo, hi uint64
	if c.ceil {
		lo = ceildiv(m.lowerBounds[c.a], bHi)
		hi = ceildiv(m.upperBounds[c.a], bLo)
	} else {
		lo = m.lowerBounds[c.a] / bHi
		hi = m.upperBounds[c.a] / bLo
	}
	return m.narrow(c.out, lo, hi)
}

func ceildiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// callConstraint: out == fn(in) once every input is fixed; before that it
// leaves out unconstrained (estimator call-backs are only invoked on
// concrete leaves, mirroring popsolver's Model::call semantics).
type callConstraint struct {
	out Variable
	in  []Variable
	fn  func(args []uint64) uint64
}

func (c *callConstraint) vars() []Variable { return append([]Variable{c.out}, c.in...) }

func (c *callConstraint) propagate(m *Model) bool {
	args := make([]uint64, len(c.in))
	for i, v := range c.in {
		if m.lowerBounds[v] != m.upperBounds[v] {
			return true // not all inputs fixed yet
		}
		args[i] = m.lowerBounds[v]
	}
	val := c.fn(args)
	return m.narrow(c.out, val, val)
}

// leConstraint: a <= b.
type leConstraint struct{ a, b Variable }

func (c *leConstraint) vars() []Variable { return []Variable{c.a, c.b} }

func (c *leConstraint) propagate(m *Model) bool {
	if m.lowerBounds[c.a] > m.upperBounds[c.b] {
		return false
	}
	ok := m.narrow(c.a, m.lowerBounds[c.a], m.upperBounds[c.b])
	ok = ok && m.narrow(c.b, m.lowerBounds[c.a], m.upperBounds[c.b])
	return ok
}

// eqConstraint: a == b.
type eqConstraint struct{ a, b Variable }

func (c *eqConstraint) vars() []Variable { return []Variable{c.a, c.b} }

func (c *eqConstraint) propagate(m *Model) bool {
	lo := m.lowerBounds[c.a]
	if m.lowerBounds[c.b] > lo {
		lo = m.lowerBounds[c.b]
	}
	hi := m.upperBounds[c.a]
	if m.upperBounds[c.b] < hi {
		hi = m.upperBounds[c.b]
	}
	ok := m.narrow(c.a, lo, hi)
	ok = ok && m.narrow(c.b, lo, hi)
	return ok
}

// infeasibleConstraint always fails propagation.
type infeasibleConstraint struct{}

func (c *infeasibleConstraint) vars() []Variable { return nil }
func (c *infeasibleConstraint) propagate(_ *Model) bool { return false }
