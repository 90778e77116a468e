package results

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cepro/microplan/dataset"
	"github.com/cepro/microplan/linprog"
	"github.com/cepro/microplan/model"
	"github.com/cepro/microplan/pu"
)

func solvedSystem(t *testing.T) (*dataset.Dataset, *model.Index, *linprog.Solution) {
	t.Helper()

	cfg := dataset.DefaultConfig()
	cfg.Phase = 1
	cfg.SBase = 10 // makes the per-unit / kW distinction visible
	norm, err := pu.New(cfg.SBase, cfg.ScaleFactor)
	require.NoError(t, err)

	ds := &dataset.Dataset{
		Cfg:  cfg,
		Norm: norm,
		CandGens: []dataset.Generator{
			{Bus: 0, ICost: 186, OCost: 40, PMax: norm.ToPU(1000)},
		},
		Batteries: []dataset.Battery{
			{Bus: 0, ICost: 300, EC: 0.9, ED: 0.9, EMax: norm.ToPU(50), EIni: norm.ToPU(10), PMax: norm.ToPU(20)},
		},
		CandSolar: []dataset.Generator{
			{Bus: 0, ICost: 120, PMax: norm.ToPU(30)},
		},
		PDem:      [][]float64{{norm.ToPU(1000)}, {norm.ToPU(1000)}},
		QDem:      [][]float64{{0}, {0}},
		PRep:      [][]float64{{1}, {1}},
		QRep:      [][]float64{{1}, {1}},
		PSol:      [][]float64{{0}, {0.5}},
		QSol:      [][]float64{{0}, {0}},
		PWin:      [][]float64{{0}, {0}},
		QWin:      [][]float64{{0}, {0}},
		Durations: []float64{365},
	}

	m, idx, err := model.NewBuilder(ds, model.Options{Invest: true}).Build()
	require.NoError(t, err)

	// Hand-built solution: generator built and serving the full demand.
	x := make([]float64, m.NumVars())
	x[idx.XG[0]] = 1
	for h := 0; h < 2; h++ {
		x[idx.PCG[0][0][h]] = norm.ToPU(1000)
		x[idx.UCG[0][0][h]] = 1
		x[idx.Vol[0][0][h]] = 1
	}
	x[idx.ZInv] = 186
	x[idx.ZOpr] = 40 * 1000 * 2 * 365
	x[idx.ZShed] = 0

	sol := &linprog.Solution{
		Status:     linprog.StatusOptimal,
		ColValues:  x,
		Objective:  x[idx.ZInv] + x[idx.ZOpr],
		SolverName: "embedded",
	}
	return ds, idx, sol
}

func TestExtract(t *testing.T) {
	ds, idx, sol := solvedSystem(t)

	res, err := Extract(ds, idx, sol)
	require.NoError(t, err)

	assert.Equal(t, "embedded", res.SolverName)
	assert.InDelta(t, 186, res.Cost.Investment, 1e-9)
	assert.InDelta(t, 40*1000*2*365, res.Cost.Operation, 1e-6)
	assert.InDelta(t, 0, res.Cost.Shedding, 1e-9)
	assert.InDelta(t, res.Cost.Investment+res.Cost.Operation+res.Cost.Shedding, res.Cost.Total, 1e-9)

	require.Len(t, res.ConvGen.Builds, 1)
	build := res.ConvGen.Builds[0]
	assert.Equal(t, 0, build.Bus)
	assert.InDelta(t, 1, build.Built, 1e-9)
	assert.InDelta(t, 1000, build.InstalledKW, 1e-9, "capacity must be de-normalized back to kW")

	require.Len(t, res.ConvGen.CandDispatch, 2)
	assert.InDelta(t, 1000, res.ConvGen.CandDispatch[0].PKW, 1e-9)
	assert.Equal(t, 0, res.ConvGen.CandDispatch[0].Timestep)
	assert.Equal(t, 1, res.ConvGen.CandDispatch[1].Timestep)

	require.Len(t, res.Storage, 2)
	assert.InDelta(t, 0, res.Storage[0].ChargeKW, 1e-9)

	require.Len(t, res.Shedding, 2)
	assert.InDelta(t, 0, res.Shedding[0].ShedKW, 1e-9)

	require.Len(t, res.Voltages, 2)
	assert.InDelta(t, 1, res.Voltages[0].VPU, 1e-9)

	assert.Empty(t, res.ExistFlows)
	assert.Empty(t, res.LineBuilds)
}

func TestExtractRejectsFailedSolve(t *testing.T) {
	ds, idx, sol := solvedSystem(t)
	sol.Status = linprog.StatusInfeasible

	_, err := Extract(ds, idx, sol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infeasible")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteCSVs(t *testing.T) {
	ds, idx, sol := solvedSystem(t)
	res, err := Extract(ds, idx, sol)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, res.WriteCSVs(dir))

	for _, name := range []string{
		"obj.csv", "xg.csv", "xs.csv", "xw.csv", "xb.csv", "xl.csv",
		"pcg.csv", "peg.csv", "pcs.csv", "pes.csv", "pcw.csv", "pew.csv",
		"pbc.csv", "pbd.csv", "soc.csv",
		"pds.csv", "pss.csv", "pws.csv",
		"vol.csv", "pel.csv", "qel.csv", "pcl.csv", "qcl.csv",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	obj := readCSV(t, filepath.Join(dir, "obj.csv"))
	require.Len(t, obj, 2)
	assert.Equal(t, []string{"total", "investment", "operation", "shedding"}, obj[0])
	assert.Equal(t, "186", obj[1][1])

	xg := readCSV(t, filepath.Join(dir, "xg.csv"))
	require.Len(t, xg, 2)
	assert.Equal(t, []string{"unit", "bus", "built", "installed_kw"}, xg[0])
	assert.Equal(t, "1000", xg[1][3])

	// Tables with no rows still get their header.
	xw := readCSV(t, filepath.Join(dir, "xw.csv"))
	require.Len(t, xw, 1)
	assert.Equal(t, []string{"unit", "bus", "built", "installed_kw"}, xw[0])
}

func TestWriteCSVsDeterministic(t *testing.T) {
	ds, idx, sol := solvedSystem(t)
	res, err := Extract(ds, idx, sol)
	require.NoError(t, err)

	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	require.NoError(t, res.WriteCSVs(dirA))
	require.NoError(t, res.WriteCSVs(dirB))

	for _, name := range []string{"obj.csv", "xg.csv", "pcg.csv", "vol.csv"} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		assert.Equal(t, a, b, name)
	}
}
