package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/cepro/microplan/linprog"
)

// Embedded solves programs in-process with gonum's simplex. It handles linear
// programs directly; for mixed-integer programs it solves the relaxation and
// accepts the result only when every integer column comes out integral.
// Branching is deliberately left to external backends.
type Embedded struct{}

// NewEmbedded returns the in-process backend.
func NewEmbedded() *Embedded { return &Embedded{} }

func (e *Embedded) Name() string { return "embedded" }

// presolveTol is the feasibility tolerance of the presolve pass.
const presolveTol = 1e-9

// boxBound is the artificial bound used to double-check a claimed-unbounded
// program: the re-solve inside this box either lands a column on the box,
// confirming a real ray, or produces the optimum the first pass missed.
const boxBound = 1e9

type simplexResult struct {
	sol *linprog.Solution
	err error
}

// Solve presolves the model, converts what is left to standard form and runs
// the simplex. The simplex itself cannot be interrupted, so it runs in its own
// goroutine and the solve abandons it when the context or time limit expires.
func (e *Embedded) Solve(ctx context.Context, m *linprog.Model, opts Options) (*linprog.Solution, error) {
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	start := time.Now()
	done := make(chan simplexResult, 1)
	go func() {
		sol, err := e.run(m, opts)
		done <- simplexResult{sol: sol, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Solver: e.Name(), Elapsed: time.Since(start)}
		}
		return nil, ctx.Err()
	case res := <-done:
		return res.sol, res.err
	}
}

func (e *Embedded) run(m *linprog.Model, opts Options) (*linprog.Solution, error) {
	pre, err := e.presolve(m)
	if err != nil {
		return nil, err
	}

	cols, obj, err := e.simplex(pre, false)
	if err != nil && !errors.Is(err, lp.ErrInfeasible) {
		// Degenerate but bounded programs can trip the simplex's phase one
		// into a false unbounded verdict or a singular basis. Re-solve inside
		// a finite box: a real ray pushes a column onto the box, anything
		// else is the optimum the first pass missed.
		bCols, bObj, bErr := e.simplex(pre, true)
		switch {
		case bErr == nil && pre.atBox(bCols):
			return nil, &UnboundedError{Solver: e.Name()}
		case bErr == nil:
			cols, obj, err = bCols, bObj, nil
		case errors.Is(err, lp.ErrUnbounded):
			return nil, &UnboundedError{Solver: e.Name()}
		}
	}
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return nil, &InfeasibleError{Solver: e.Name()}
	case err != nil:
		return nil, fmt.Errorf("embedded simplex: %w", err)
	}

	if m.HasIntegers() {
		tol := opts.intTol()
		for _, v := range m.Vars() {
			if v.Type != linprog.Binary {
				continue
			}
			if math.Abs(cols[v.ID]-math.Round(cols[v.ID])) > tol {
				return nil, &UnavailableError{
					Solver: e.Name(),
					Reason: fmt.Sprintf("relaxation of %q is fractional (%v); use a branching-capable backend", v.Name, cols[v.ID]),
				}
			}
			cols[v.ID] = math.Round(cols[v.ID])
		}
	}

	return &linprog.Solution{
		Status:     linprog.StatusOptimal,
		ColValues:  cols,
		Objective:  obj,
		SolverName: e.Name(),
	}, nil
}

// presolved is the model after constraint propagation: zero coefficients
// dropped, singleton rows folded into the bounds, and columns pinned by their
// bounds substituted out. Planning models carry many such columns (renewable
// dispatch under zero availability, storage behind an unbuilt battery) and
// they are what makes the raw matrices degenerate.
type presolved struct {
	n        int
	fixed    []bool
	val      []float64
	lo, hi   []float64
	obj      []float64
	objConst float64
	rows     []linprog.Constraint
	keep     []int // surviving column ids, ascending
	colOf    []int // column id -> reduced index, -1 when fixed
}

func (e *Embedded) presolve(m *linprog.Model) (*presolved, error) {
	n := m.NumVars()
	p := &presolved{
		n:     n,
		fixed: make([]bool, n),
		val:   make([]float64, n),
		lo:    make([]float64, n),
		hi:    make([]float64, n),
		obj:   make([]float64, n),
	}
	for _, v := range m.Vars() {
		p.lo[v.ID], p.hi[v.ID] = v.Lo, v.Hi
	}
	for _, t := range m.Objective() {
		p.obj[t.Var] += t.Coef
	}

	rows := make([]linprog.Constraint, len(m.Constraints()))
	for i, con := range m.Constraints() {
		rows[i] = linprog.Constraint{
			Name:  con.Name,
			Terms: append([]linprog.Term(nil), con.Terms...),
			Sense: con.Sense,
			RHS:   con.RHS,
		}
	}

	for changed := true; changed; {
		changed = false

		live := rows[:0]
		for _, r := range rows {
			kept := r.Terms[:0]
			for _, t := range r.Terms {
				switch {
				case t.Coef == 0:
					changed = true
				case p.fixed[t.Var]:
					r.RHS -= t.Coef * p.val[t.Var]
					changed = true
				default:
					kept = append(kept, t)
				}
			}
			r.Terms = kept

			switch len(kept) {
			case 0:
				ok := false
				switch r.Sense {
				case linprog.LessEq:
					ok = r.RHS >= -presolveTol
				case linprog.GreaterEq:
					ok = r.RHS <= presolveTol
				default:
					ok = math.Abs(r.RHS) <= presolveTol
				}
				if !ok {
					return nil, &InfeasibleError{Solver: e.Name()}
				}
			case 1:
				t := kept[0]
				b := r.RHS / t.Coef
				switch {
				case r.Sense == linprog.Equal:
					p.lo[t.Var] = math.Max(p.lo[t.Var], b)
					p.hi[t.Var] = math.Min(p.hi[t.Var], b)
				case (r.Sense == linprog.LessEq) == (t.Coef > 0):
					p.hi[t.Var] = math.Min(p.hi[t.Var], b)
				default:
					p.lo[t.Var] = math.Max(p.lo[t.Var], b)
				}
				changed = true
			default:
				live = append(live, r)
			}
		}
		rows = live

		for id := 0; id < n; id++ {
			if p.fixed[id] {
				continue
			}
			if p.lo[id] > p.hi[id]+presolveTol {
				return nil, &InfeasibleError{Solver: e.Name()}
			}
			if p.hi[id]-p.lo[id] <= presolveTol {
				p.fixed[id] = true
				p.val[id] = p.lo[id]
				changed = true
			}
		}
	}

	p.colOf = make([]int, n)
	for id := 0; id < n; id++ {
		if p.fixed[id] {
			p.colOf[id] = -1
			p.objConst += p.obj[id] * p.val[id]
			continue
		}
		p.colOf[id] = len(p.keep)
		p.keep = append(p.keep, id)
	}
	p.rows = rows
	return p, nil
}

// atBox reports whether any free column sits on the artificial box, the
// signature of a genuine unbounded ray.
func (p *presolved) atBox(cols []float64) bool {
	for _, id := range p.keep {
		if math.Abs(cols[id]) >= boxBound*(1-1e-6) {
			return true
		}
	}
	return false
}

// simplex solves the reduced program and maps the result back onto the full
// column vector. With boxed set, every free direction is clamped to boxBound.
func (e *Embedded) simplex(p *presolved, boxed bool) ([]float64, float64, error) {
	full := make([]float64, p.n)
	for id, isFixed := range p.fixed {
		if isFixed {
			full[id] = p.val[id]
		}
	}
	if len(p.keep) == 0 {
		return full, p.objConst, nil
	}

	nr := len(p.keep)
	c := make([]float64, nr)
	for i, id := range p.keep {
		c[i] = p.obj[id]
	}

	type denseRow struct {
		coefs []float64
		rhs   float64
	}
	var ineq, eq []denseRow
	rowOf := func(terms []linprog.Term, sign float64) []float64 {
		coefs := make([]float64, nr)
		for _, t := range terms {
			coefs[p.colOf[t.Var]] += sign * t.Coef
		}
		return coefs
	}
	for _, con := range p.rows {
		switch con.Sense {
		case linprog.LessEq:
			ineq = append(ineq, denseRow{coefs: rowOf(con.Terms, 1), rhs: con.RHS})
		case linprog.GreaterEq:
			ineq = append(ineq, denseRow{coefs: rowOf(con.Terms, -1), rhs: -con.RHS})
		case linprog.Equal:
			eq = append(eq, denseRow{coefs: rowOf(con.Terms, 1), rhs: con.RHS})
		default:
			return nil, 0, fmt.Errorf("constraint %q has unknown sense", con.Name)
		}
	}

	// Converted columns are free, so the tightened variable bounds become
	// inequality rows.
	for i, id := range p.keep {
		lo, hi := p.lo[id], p.hi[id]
		if boxed {
			lo = math.Max(lo, -boxBound)
			hi = math.Min(hi, boxBound)
		}
		if !math.IsInf(hi, 1) {
			coefs := make([]float64, nr)
			coefs[i] = 1
			ineq = append(ineq, denseRow{coefs: coefs, rhs: hi})
		}
		if !math.IsInf(lo, -1) {
			coefs := make([]float64, nr)
			coefs[i] = -1
			ineq = append(ineq, denseRow{coefs: coefs, rhs: -lo})
		}
	}

	pack := func(rowsIn []denseRow) (mat.Matrix, []float64) {
		if len(rowsIn) == 0 {
			return nil, nil
		}
		data := make([]float64, 0, len(rowsIn)*nr)
		rhs := make([]float64, len(rowsIn))
		for i, r := range rowsIn {
			data = append(data, r.coefs...)
			rhs[i] = r.rhs
		}
		return mat.NewDense(len(rowsIn), nr, data), rhs
	}
	g, h := pack(ineq)
	a, b := pack(eq)

	cNew, aNew, bNew := lp.Convert(c, g, h, a, b)
	optF, optX, err := lp.Simplex(cNew, aNew, bNew, 1e-10, nil)
	if err != nil {
		return nil, 0, err
	}

	// Standard form splits each free column into a positive and a negative
	// part; the original value is their difference.
	for i, id := range p.keep {
		full[id] = optX[i] - optX[nr+i]
	}
	return full, optF + p.objConst, nil
}
