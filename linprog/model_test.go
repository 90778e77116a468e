package linprog

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func buildSmallModel() *Model {
	// minimize 2x + 3y s.t. x + y >= 4, x - y = 1, 0 <= x <= 10, y free
	m := New("small")
	x := m.AddVar("x", 0, 10, Continuous)
	y := m.AddVar("y", math.Inf(-1), math.Inf(1), Continuous)
	m.AddConstraint(Constraint{Name: "cover", Terms: []Term{{x, 1}, {y, 1}}, Sense: GreaterEq, RHS: 4})
	m.AddConstraint(Constraint{Name: "link", Terms: []Term{{x, 1}, {y, -1}}, Sense: Equal, RHS: 1})
	m.SetObjective([]Term{{x, 2}, {y, 3}})
	return m
}

func TestModelAccounting(t *testing.T) {
	m := buildSmallModel()
	if m.NumVars() != 2 {
		t.Errorf("got %d vars, expected 2", m.NumVars())
	}
	if m.NumConstraints() != 2 {
		t.Errorf("got %d constraints, expected 2", m.NumConstraints())
	}
	if id, ok := m.VarByName("y"); !ok || id != 1 {
		t.Errorf("VarByName(y) = %d, %v", id, ok)
	}
	if m.HasIntegers() {
		t.Error("continuous model reported integers")
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEvalAndResidual(t *testing.T) {
	m := buildSmallModel()
	x := []float64{2.5, 1.5}

	if got := Eval(m.Objective(), x); got != 2*2.5+3*1.5 {
		t.Errorf("Eval = %f", got)
	}

	type subTest struct {
		name     string
		con      Constraint
		point    []float64
		expected float64
	}

	subTests := []subTest{
		{"satisfied GE", m.Constraints()[0], []float64{3, 2}, 0},
		{"violated GE", m.Constraints()[0], []float64{1, 1}, 2},
		{"satisfied EQ", m.Constraints()[1], []float64{3, 2}, 0},
		{"violated EQ", m.Constraints()[1], []float64{3, 3}, 1},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			got := subTest.con.Residual(subTest.point)
			if got != subTest.expected {
				t.Errorf("Got %f, expected %f", got, subTest.expected)
			}
		})
	}
}

func TestValidateCatchesBadReferences(t *testing.T) {
	m := New("bad")
	m.AddVar("x", 0, 1, Continuous)
	m.AddConstraint(Constraint{Name: "oops", Terms: []Term{{7, 1}}, Sense: LessEq, RHS: 1})
	if err := m.Validate(); err == nil {
		t.Error("expected an error for an unknown variable id")
	}
}

func TestWriteMPS(t *testing.T) {
	m := New("plan")
	x := m.AddVar("build", 0, 1, Binary)
	p := m.AddVar("dispatch", 0, math.Inf(1), Continuous)
	m.AddConstraint(Constraint{Name: "cap", Terms: []Term{{p, 1}, {x, -50}}, Sense: LessEq, RHS: 0})
	m.AddConstraint(Constraint{Name: "bal", Terms: []Term{{p, 1}}, Sense: Equal, RHS: 40})
	m.SetObjective([]Term{{x, 186}, {p, 0.5}})

	var buf bytes.Buffer
	if err := m.WriteMPS(&buf); err != nil {
		t.Fatalf("WriteMPS: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"NAME plan",
		"ROWS",
		" N OBJ",
		" L cap",
		" E bal",
		"'INTORG'",
		"'INTEND'",
		" BV BND build",
		"    RHS bal 40",
		"ENDATA",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("MPS output missing %q:\n%s", want, out)
		}
	}

	// Deterministic output: a second write must be byte identical.
	var buf2 bytes.Buffer
	if err := m.WriteMPS(&buf2); err != nil {
		t.Fatalf("WriteMPS: %v", err)
	}
	if buf.String() != buf2.String() {
		t.Error("two writes of the same model differ")
	}
}

func TestSolutionValue(t *testing.T) {
	s := Solution{Status: StatusOptimal, ColValues: []float64{1, 2}}
	if !s.IsOptimal() {
		t.Error("expected optimal")
	}
	if s.Value(1) != 2 {
		t.Errorf("Value(1) = %f", s.Value(1))
	}
	if s.Value(5) != 0 {
		t.Errorf("out of range Value should be 0, got %f", s.Value(5))
	}
}
