// Package linprog holds the in-memory representation of one linear or
// mixed-integer linear program: variables with bounds, linear constraints and
// a linear objective. The model is a plain data structure built once per solve
// and handed to a solver; it is never mutated by solvers.
package linprog

import (
	"fmt"
	"math"
)

// VarType distinguishes continuous columns from binary ones.
type VarType int

const (
	Continuous VarType = iota
	Binary
)

// Sense is the direction of a constraint row.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

// Term is one coefficient of a linear expression, referencing a variable by id.
type Term struct {
	Var  int
	Coef float64
}

// Variable is a single column of the program. Lo/Hi may be +-Inf.
type Variable struct {
	ID   int
	Name string
	Lo   float64
	Hi   float64
	Type VarType
}

// Constraint is a single row: sum(Terms) Sense RHS.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Model is an append-only program under construction. Variables and
// constraints keep the order they were added in, so two builds from the same
// inputs produce byte-identical programs.
type Model struct {
	name   string
	vars   []Variable
	byName map[string]int
	cons   []Constraint
	obj    []Term
}

// New returns an empty model with the given name.
func New(name string) *Model {
	return &Model{name: name, byName: make(map[string]int)}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// AddVar appends a variable and returns its id. Names must be unique; they are
// used to map external solver solutions back onto columns.
func (m *Model) AddVar(name string, lo, hi float64, t VarType) int {
	id := len(m.vars)
	m.vars = append(m.vars, Variable{ID: id, Name: name, Lo: lo, Hi: hi, Type: t})
	m.byName[name] = id
	return id
}

// AddConstraint appends a row to the model.
func (m *Model) AddConstraint(c Constraint) {
	m.cons = append(m.cons, c)
}

// AddConstraints appends rows preserving their order.
func (m *Model) AddConstraints(cs []Constraint) {
	m.cons = append(m.cons, cs...)
}

// SetObjective replaces the (minimization) objective.
func (m *Model) SetObjective(terms []Term) {
	m.obj = terms
}

// Objective returns the objective terms.
func (m *Model) Objective() []Term { return m.obj }

// NumVars returns the number of columns.
func (m *Model) NumVars() int { return len(m.vars) }

// NumConstraints returns the number of rows.
func (m *Model) NumConstraints() int { return len(m.cons) }

// Var returns the variable with the given id.
func (m *Model) Var(id int) Variable { return m.vars[id] }

// Vars returns all variables in creation order.
func (m *Model) Vars() []Variable { return m.vars }

// Constraints returns all rows in creation order.
func (m *Model) Constraints() []Constraint { return m.cons }

// VarByName resolves a column name to its id.
func (m *Model) VarByName(name string) (int, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// HasIntegers reports whether any column is binary.
func (m *Model) HasIntegers() bool {
	for _, v := range m.vars {
		if v.Type == Binary {
			return true
		}
	}
	return false
}

// Eval evaluates a linear expression at the given point.
func Eval(terms []Term, x []float64) float64 {
	total := 0.0
	for _, t := range terms {
		total += t.Coef * x[t.Var]
	}
	return total
}

// Residual returns how far the point x is from satisfying the constraint: zero
// for a satisfied row, positive for a violated one.
func (c Constraint) Residual(x []float64) float64 {
	v := Eval(c.Terms, x)
	switch c.Sense {
	case LessEq:
		return math.Max(0, v-c.RHS)
	case GreaterEq:
		return math.Max(0, c.RHS-v)
	default:
		return math.Abs(v - c.RHS)
	}
}

// Validate checks structural sanity before the model is handed to a solver:
// every referenced variable exists and no bound pair is inverted.
func (m *Model) Validate() error {
	for _, v := range m.vars {
		if v.Lo > v.Hi {
			return fmt.Errorf("variable %q has inverted bounds [%v, %v]", v.Name, v.Lo, v.Hi)
		}
	}
	check := func(terms []Term, where string) error {
		for _, t := range terms {
			if t.Var < 0 || t.Var >= len(m.vars) {
				return fmt.Errorf("%s references unknown variable id %d", where, t.Var)
			}
		}
		return nil
	}
	if err := check(m.obj, "objective"); err != nil {
		return err
	}
	for _, c := range m.cons {
		if err := check(c.Terms, fmt.Sprintf("constraint %q", c.Name)); err != nil {
			return err
		}
	}
	return nil
}
