package linprog

// Status indicates the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	StatusTimeLimit
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeLimit:
		return "time limit"
	default:
		return "unknown"
	}
}

// Solution contains the results from solving a model.
type Solution struct {
	// Status indicates the outcome of the solve.
	Status Status

	// ColValues contains the primal solution values for each column, indexed
	// by variable id.
	ColValues []float64

	// Objective is the value of the objective function at the solution.
	Objective float64

	// SolverName records which solver produced the solution.
	SolverName string
}

// IsOptimal returns true if the solution is optimal.
func (s *Solution) IsOptimal() bool { return s.Status == StatusOptimal }

// Value returns the solution value for a variable by id.
// Returns 0 if the id is out of range.
func (s *Solution) Value(id int) float64 {
	if id < 0 || id >= len(s.ColValues) {
		return 0
	}
	return s.ColValues[id]
}
