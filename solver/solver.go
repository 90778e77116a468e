// Package solver runs assembled programs through one of several backends: an
// embedded simplex for linear programs, a local solver binary spoken to over
// MPS files, or a remote solve service. All backends present the same Solver
// interface so callers pick one by configuration, not by code.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/cepro/microplan/linprog"
)

// Solver runs one program to completion or failure. Implementations must not
// mutate the model and must honor context cancellation on anything that
// blocks.
type Solver interface {
	// Name identifies the backend in logs and run records.
	Name() string

	// Solve runs the program. A solution is returned only for optimal
	// outcomes; infeasible, unbounded and unavailable outcomes surface as
	// typed errors.
	Solve(ctx context.Context, m *linprog.Model, opts Options) (*linprog.Solution, error)
}

// Options are per-solve tunables shared by all backends. Backends ignore
// options they have no equivalent for.
type Options struct {
	// TimeLimit bounds the solve wall time. Zero means no limit.
	TimeLimit time.Duration

	// IntTol is the tolerance under which a fractional value still counts as
	// integral. Zero selects the default of 1e-6.
	IntTol float64
}

func (o Options) intTol() float64 {
	if o.IntTol > 0 {
		return o.IntTol
	}
	return 1e-6
}

// InfeasibleError reports that the program has no feasible point. With
// shedding and curtailment outlets in the model this indicates broken input
// data rather than a tight plan.
type InfeasibleError struct {
	Solver string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%s: program is infeasible", e.Solver)
}

// UnboundedError reports that the objective can decrease without limit, which
// means a cost coefficient or a bound is wrong.
type UnboundedError struct {
	Solver string
}

func (e *UnboundedError) Error() string {
	return fmt.Sprintf("%s: program is unbounded", e.Solver)
}

// UnavailableError reports that a backend cannot run at all: a missing binary,
// an unreachable service, rejected credentials, or a program class the
// backend does not handle. The caller may retry with a different backend.
type UnavailableError struct {
	Solver string
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Solver, e.Reason)
}

// TimeoutError reports that the time limit or context deadline expired before
// the backend finished.
type TimeoutError struct {
	Solver  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: solve timed out after %s", e.Solver, e.Elapsed)
}

// New builds a solver by backend name. The options map carries
// backend-specific settings and is decoded into the matching option struct,
// so config files can select and tune a backend without code changes.
func New(name string, options map[string]interface{}) (Solver, error) {
	switch name {
	case "", "embedded":
		return NewEmbedded(), nil
	case "local":
		var opts LocalOptions
		if err := mapstructure.Decode(options, &opts); err != nil {
			return nil, fmt.Errorf("decoding local solver options: %w", err)
		}
		return NewLocal(opts)
	case "remote":
		var opts RemoteOptions
		if err := mapstructure.Decode(options, &opts); err != nil {
			return nil, fmt.Errorf("decoding remote solver options: %w", err)
		}
		return NewRemote(opts)
	default:
		return nil, fmt.Errorf("unknown solver backend %q", name)
	}
}
