package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro/microplan/results"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	return repo
}

func TestAddAndListRuns(t *testing.T) {
	repo := testRepo(t)

	res := &results.Results{
		SolverName: "embedded",
		Cost:       results.CostBreakdown{Total: 40186, Investment: 186, Operation: 0, Shedding: 40000},
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := NewPlanRun(base, true, false, false, res, 120*time.Millisecond)
	second := NewPlanRun(base.Add(time.Hour), false, true, false, res, 80*time.Millisecond)
	require.NoError(t, repo.AddRun(first))
	require.NoError(t, repo.AddRun(second))

	runs, err := repo.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, second.ID, runs[0].ID)
	assert.True(t, runs[0].OnlyOpr)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.True(t, runs[1].Invest)
	assert.InDelta(t, 40186, runs[1].Objective, 1e-9)
	assert.InDelta(t, 186, runs[1].InvestmentCost, 1e-9)
	assert.Equal(t, "optimal", runs[1].Status)
	assert.Equal(t, int64(120), runs[1].WallTimeMs)
}

func TestRunsLimit(t *testing.T) {
	repo := testRepo(t)
	res := &results.Results{SolverName: "embedded"}

	for i := 0; i < 5; i++ {
		run := NewPlanRun(time.Now().Add(time.Duration(i)*time.Minute), true, false, false, res, time.Millisecond)
		require.NoError(t, repo.AddRun(run))
	}

	runs, err := repo.Runs(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRunByID(t *testing.T) {
	repo := testRepo(t)

	failed := NewFailedPlanRun(time.Now(), true, false, true, "local/cbc", assert.AnError, 50*time.Millisecond)
	require.NoError(t, repo.AddRun(failed))

	got, err := repo.RunByID(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "local/cbc", got.Solver)
	assert.True(t, got.Commit)
	assert.Contains(t, got.Status, assert.AnError.Error())

	_, err = repo.RunByID("missing")
	require.Error(t, err)
}
