package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/cepro/microplan/config"
	"github.com/cepro/microplan/planner"
	"github.com/cepro/microplan/repository"
	"github.com/cepro/microplan/solver"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.json", "path to the run configuration file")
	invest := pflag.Bool("invest", false, "force binary investment decisions, overriding the config")
	onlyOpr := pflag.Bool("onlyopr", false, "dispatch existing assets only, overriding the config")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("Failed to read config", "error", err)
		os.Exit(1)
	}

	opts := cfg.Solve.SolveOptions()
	if *invest {
		opts.Invest = true
		opts.OnlyOpr = false
	}
	if *onlyOpr {
		opts.OnlyOpr = true
		opts.Invest = false
	}

	// a ctrl-c interrupt cancels the solve instead of killing the process
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sys, err := planner.New(cfg.InputDir, cfg.Construction.DatasetConfig(), logger)
	if err != nil {
		slog.Error("Failed to load inputs", "error", err)
		os.Exit(1)
	}

	var history *repository.Repository
	if cfg.HistoryDB != "" {
		history, err = repository.New(cfg.HistoryDB)
		if err != nil {
			slog.Error("Failed to open run history", "error", err)
			os.Exit(1)
		}
	}

	started := time.Now()
	res, err := sys.Solve(ctx, opts)
	wall := time.Since(started)

	if err != nil {
		slog.Error("Solve failed", "error", err, "elapsed", wall)
		if history != nil {
			run := repository.NewFailedPlanRun(started, opts.Invest, opts.OnlyOpr, opts.Commit, opts.Solver, err, wall)
			if herr := history.AddRun(run); herr != nil {
				slog.Error("Failed to record run", "error", herr)
			}
		}
		os.Exit(exitCode(err))
	}

	slog.Info("Plan solved",
		"total", res.Cost.Total,
		"investment", res.Cost.Investment,
		"operation", res.Cost.Operation,
		"shedding", res.Cost.Shedding,
		"solver", res.SolverName,
		"elapsed", wall,
	)

	if err := res.WriteCSVs(cfg.OutputDir); err != nil {
		slog.Error("Failed to write results", "error", err)
		os.Exit(1)
	}
	slog.Info("Results written", "dir", cfg.OutputDir)

	if history != nil {
		run := repository.NewPlanRun(started, opts.Invest, opts.OnlyOpr, opts.Commit, res, wall)
		if err := history.AddRun(run); err != nil {
			slog.Error("Failed to record run", "error", err)
		}
	}
}

// exitCode maps solve outcomes onto distinct exit codes so wrapper scripts can
// tell data problems from solver problems.
func exitCode(err error) int {
	var infeasible *solver.InfeasibleError
	var unbounded *solver.UnboundedError
	var unavailable *solver.UnavailableError
	var timeout *solver.TimeoutError
	switch {
	case errors.As(err, &infeasible):
		return 2
	case errors.As(err, &unbounded):
		return 3
	case errors.As(err, &unavailable):
		return 4
	case errors.As(err, &timeout):
		return 5
	default:
		return 1
	}
}
