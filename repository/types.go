package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/cepro/microplan/results"
)

// PlanRun is one planning run as persisted to the SQLite database.
type PlanRun struct {
	ID        string `gorm:"primaryKey"`
	StartedAt time.Time
	Invest    bool
	OnlyOpr   bool
	Commit    bool
	Solver    string
	Status    string

	Objective      float64
	InvestmentCost float64
	OperationCost  float64
	SheddingCost   float64

	WallTimeMs int64
}

// NewPlanRun builds the run row for a successful solve.
func NewPlanRun(startedAt time.Time, invest, onlyOpr, commit bool, res *results.Results, wallTime time.Duration) PlanRun {
	return PlanRun{
		ID:             uuid.New().String(),
		StartedAt:      startedAt,
		Invest:         invest,
		OnlyOpr:        onlyOpr,
		Commit:         commit,
		Solver:         res.SolverName,
		Status:         "optimal",
		Objective:      res.Cost.Total,
		InvestmentCost: res.Cost.Investment,
		OperationCost:  res.Cost.Operation,
		SheddingCost:   res.Cost.Shedding,
		WallTimeMs:     wallTime.Milliseconds(),
	}
}

// NewFailedPlanRun builds the run row for a solve that ended in an error.
func NewFailedPlanRun(startedAt time.Time, invest, onlyOpr, commit bool, solverName string, err error, wallTime time.Duration) PlanRun {
	return PlanRun{
		ID:         uuid.New().String(),
		StartedAt:  startedAt,
		Invest:     invest,
		OnlyOpr:    onlyOpr,
		Commit:     commit,
		Solver:     solverName,
		Status:     err.Error(),
		WallTimeMs: wallTime.Milliseconds(),
	}
}
