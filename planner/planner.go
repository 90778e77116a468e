// Package planner is the engine's front door: it owns the lifecycle of one
// planning system, from loading and validating the input tables to handing a
// solved plan back as engineering results. All state lives in the System; no
// package-level caches survive a run.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/microplan/dataset"
	"github.com/cepro/microplan/model"
	"github.com/cepro/microplan/results"
	"github.com/cepro/microplan/solver"
)

// System is one loaded planning problem. The dataset is immutable after New,
// so any number of solves can run against the same System, sequentially or
// with different modes.
type System struct {
	ds  *dataset.Dataset
	log *slog.Logger
}

// New loads and validates the input tables under inputDir.
func New(inputDir string, cfg dataset.Config, log *slog.Logger) (*System, error) {
	if log == nil {
		log = slog.Default()
	}
	ds, err := dataset.Load(inputDir, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading planning inputs: %w", err)
	}
	log.Info("inputs loaded",
		"dir", inputDir,
		"buses", ds.NumBuses(),
		"units", ds.NumUnits(),
		"scenarios", ds.NumScenarios(),
		"timesteps", ds.NumTimesteps(),
	)
	return &System{ds: ds, log: log}, nil
}

// NewFromDataset wraps an already-built dataset. Intended for callers that
// assemble inputs programmatically rather than from CSV files.
func NewFromDataset(ds *dataset.Dataset, log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}
	return &System{ds: ds, log: log}
}

// Dataset returns the immutable input tables.
func (s *System) Dataset() *dataset.Dataset { return s.ds }

// SolveOptions select the mode and backend of one solve.
type SolveOptions struct {
	// Invest makes investment decisions binary; OnlyOpr fixes them at zero.
	Invest  bool
	OnlyOpr bool

	// Commit enables binary unit commitment for conventional generators.
	Commit bool

	// Solver names the backend: "embedded" (default), "local" or "remote".
	// SolverOptions carries backend-specific settings.
	Solver        string
	SolverOptions map[string]interface{}

	// TimeLimit bounds the solve wall time. Zero means unlimited.
	TimeLimit time.Duration
}

// Solve builds a fresh model from the dataset, runs it through the selected
// backend and extracts the results. Each call is independent: the model is
// rebuilt from scratch, so a failed or cancelled solve leaves nothing behind.
func (s *System) Solve(ctx context.Context, opts SolveOptions) (*results.Results, error) {
	if opts.Invest && opts.OnlyOpr {
		return nil, fmt.Errorf("invest and onlyopr are mutually exclusive")
	}

	start := time.Now()
	m, idx, err := model.NewBuilder(s.ds, model.Options{
		Invest:  opts.Invest,
		OnlyOpr: opts.OnlyOpr,
		Commit:  opts.Commit,
	}).Build()
	if err != nil {
		return nil, fmt.Errorf("building model: %w", err)
	}
	s.log.Info("model assembled",
		"variables", m.NumVars(),
		"constraints", m.NumConstraints(),
		"integer", m.HasIntegers(),
		"elapsed", time.Since(start),
	)

	backend, err := solver.New(opts.Solver, opts.SolverOptions)
	if err != nil {
		return nil, err
	}

	solveStart := time.Now()
	sol, err := backend.Solve(ctx, m, solver.Options{TimeLimit: opts.TimeLimit})
	if err != nil {
		s.log.Error("solve failed", "solver", backend.Name(), "elapsed", time.Since(solveStart), "err", err)
		return nil, err
	}
	s.log.Info("solve finished",
		"solver", backend.Name(),
		"objective", sol.Objective,
		"elapsed", time.Since(solveStart),
	)

	res, err := results.Extract(s.ds, idx, sol)
	if err != nil {
		return nil, fmt.Errorf("extracting results: %w", err)
	}
	return res, nil
}

