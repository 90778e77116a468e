package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture holds one input directory under construction. Tests start from a
// complete valid two-bus system and override single files to provoke specific
// validation failures.
type fixture struct {
	t   *testing.T
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, dir: t.TempDir()}

	f.write(FileCandGen, "bus,icost,ocost,scost,pmin,pmax,qmin,qmax\n0,186,40,12,0,50,-10,10\n")
	f.write(FileExistGen, "bus,ocost,pmin,pmax,qmin,qmax\n1,55,0,20,-5,5\n")
	f.write(FileCandSolar, "bus,icost,ocost,pmin,pmax,qmin,qmax\n0,120,0,0,30,0,0\n")
	f.write(FileExistSolar, "bus,ocost,pmin,pmax,qmin,qmax\n")
	f.write(FileCandWind, "bus,icost,ocost,pmin,pmax,qmin,qmax\n")
	f.write(FileExistWind, "bus,ocost,pmin,pmax,qmin,qmax\n")
	f.write(FileBattery, "bus,icost,ocost,ec,ed,emin,emax,eini,pmin,pmax,qmin,qmax\n1,300,1,0.95,0.9,0,80,10,0,20,-5,5\n")
	f.write(FileLines, "from,to,ini,res,rea,sus,icost,smax,pmax,qmax\n0,1,1,0.01,0.02,0,0,25,20,20\n0,1,0,0.01,0.02,0,100,25,20,20\n")
	f.write(FileDemandP, "bus0,bus1\n10,20\n12,24\n")
	f.write(FileDemandQ, "bus0,bus1\n2,4\n2,4\n")
	f.write(FileProfileP, "s0,s1\n1,0.5\n1.2,0.6\n")
	f.write(FileProfileQ, "s0,s1\n1,0.5\n1.2,0.6\n")
	f.write(FileSolarP, "s0,s1\n0,0\n0.8,0.4\n")
	f.write(FileSolarQ, "s0,s1\n0,0\n0,0\n")
	f.write(FileWindP, "s0,s1\n0,0\n0,0\n")
	f.write(FileWindQ, "s0,s1\n0,0\n0,0\n")
	f.write(FileDurations, "dt\n250\n115\n")
	return f
}

func (f *fixture) write(name, content string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644))
}

func (f *fixture) remove(name string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.dir, name)))
}

func TestLoad(t *testing.T) {
	f := newFixture(t)

	cfg := DefaultConfig()
	cfg.SBase = 10
	ds, err := Load(f.dir, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.NumBuses())
	assert.Equal(t, 2, ds.NumTimesteps())
	assert.Equal(t, 2, ds.NumScenarios())
	assert.Equal(t, 4, ds.NumUnits())

	require.Len(t, ds.CandGens, 1)
	g := ds.CandGens[0]
	assert.Equal(t, 0, g.Bus)
	assert.Equal(t, 186.0, g.ICost, "costs stay in currency units")
	assert.Equal(t, 12.0, g.SCost)
	assert.InDelta(t, 5, g.PMax, 1e-12, "powers are normalized onto the base")
	assert.InDelta(t, -1, g.QMin, 1e-12)

	require.Len(t, ds.Batteries, 1)
	b := ds.Batteries[0]
	assert.InDelta(t, 8, b.EMax, 1e-12)
	assert.InDelta(t, 1, b.EIni, 1e-12)
	assert.Equal(t, 0.95, b.EC)

	require.Len(t, ds.ExistLines, 1)
	require.Len(t, ds.CandLines, 1)
	assert.True(t, ds.ExistLines[0].Ini)
	assert.Equal(t, 100.0, ds.CandLines[0].ICost)

	assert.Equal(t, []float64{250, 115}, ds.Durations)

	// demand = per-unit participation factor * scenario profile
	assert.InDelta(t, (24.0/10)*0.6, ds.ActiveDemand(1, 1, 1), 1e-9)
	assert.InDelta(t, 24*0.6, ds.Norm.FromPU(ds.ActiveDemand(1, 1, 1)), 1e-9)
	assert.InDelta(t, 0.2, ds.ReactiveShedRatio(0, 0, 0), 1e-9)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		cfg     func(c *Config)
		file    string
		column  string
		wantMsg string
	}{
		{
			name:   "missing file",
			mutate: func(f *fixture) { f.remove(FileBattery) },
			file:   FileBattery,
		},
		{
			name:   "missing required column",
			mutate: func(f *fixture) { f.write(FileCandGen, "bus,ocost,pmin,pmax,qmin,qmax\n0,40,0,50,0,0\n") },
			file:   FileCandGen,
			column: "icost",
		},
		{
			name:   "bus out of range",
			mutate: func(f *fixture) { f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n7,186,40,0,50,0,0\n") },
			file:   FileCandGen,
			column: "bus",
		},
		{
			name:   "negative cost",
			mutate: func(f *fixture) { f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n0,-5,40,0,50,0,0\n") },
			file:   FileCandGen,
			column: "icost",
		},
		{
			name:   "inverted power bounds",
			mutate: func(f *fixture) { f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n0,186,40,60,50,0,0\n") },
			file:   FileCandGen,
			column: "pmin",
		},
		{
			name:   "blank capacity cell",
			mutate: func(f *fixture) { f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n0,186,40,0,,-10,10\n") },
			file:   FileCandGen,
			column: "pmax",
		},
		{
			name:   "blank battery efficiency",
			mutate: func(f *fixture) {
				f.write(FileBattery, "bus,icost,ocost,ec,ed,emin,emax,eini,pmin,pmax,qmin,qmax\n1,300,1,,0.9,0,80,10,0,20,-5,5\n")
			},
			file:   FileBattery,
			column: "ec",
		},
		{
			name:   "line resistance not a number",
			mutate: func(f *fixture) { f.write(FileLines, "from,to,ini,res,rea,sus,icost,smax,pmax,qmax\n0,1,1,nan,0.02,0,0,25,20,20\n") },
			file:   FileLines,
			column: "res",
		},
		{
			name:   "battery efficiency out of range",
			mutate: func(f *fixture) { f.write(FileBattery, "bus,icost,ocost,ec,ed,emin,emax,eini,pmin,pmax,qmin,qmax\n1,300,1,1.2,0.9,0,80,10,0,20,0,0\n") },
			file:   FileBattery,
			column: "ec",
		},
		{
			name:   "initial energy outside band",
			mutate: func(f *fixture) { f.write(FileBattery, "bus,icost,ocost,ec,ed,emin,emax,eini,pmin,pmax,qmin,qmax\n1,300,1,0.95,0.9,20,80,10,0,20,0,0\n") },
			file:   FileBattery,
			column: "eini",
		},
		{
			name:   "line to itself",
			mutate: func(f *fixture) { f.write(FileLines, "from,to,ini,res,rea,sus,icost,smax,pmax,qmax\n1,1,1,0.01,0.02,0,0,25,20,20\n") },
			file:   FileLines,
			column: "to",
		},
		{
			name:   "availability above one",
			mutate: func(f *fixture) { f.write(FileSolarP, "s0,s1\n0,0\n1.4,0.4\n") },
			file:   FileSolarP,
		},
		{
			name:   "negative demand",
			mutate: func(f *fixture) { f.write(FileDemandP, "bus0,bus1\n10,-3\n12,24\n") },
			file:   FileDemandP,
		},
		{
			name:   "profile shape mismatch",
			mutate: func(f *fixture) { f.write(FileWindP, "s0\n0\n0\n") },
			file:   FileWindP,
		},
		{
			name:   "zero duration",
			mutate: func(f *fixture) { f.write(FileDurations, "dt\n250\n0\n") },
			file:   FileDurations,
			column: "dt",
		},
		{
			name: "reference bus out of range",
			cfg:  func(c *Config) { c.RefBus = 9 },
		},
		{
			name: "invalid voltage band",
			cfg:  func(c *Config) { c.VMin = 1.2; c.VMax = 0.9 },
		},
		{
			name: "non-positive base power",
			cfg:  func(c *Config) { c.SBase = 0 },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			if test.mutate != nil {
				test.mutate(f)
			}
			cfg := DefaultConfig()
			if test.cfg != nil {
				test.cfg(&cfg)
			}

			_, err := Load(f.dir, cfg)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want *ValidationError, got %T: %v", err, err)
			if test.file != "" {
				assert.Equal(t, test.file, verr.File)
			}
			if test.column != "" {
				assert.Equal(t, test.column, verr.Column)
			}
		})
	}
}

func TestLoadEmptyCandidateTables(t *testing.T) {
	// Header-only tables mean "no units of this kind" and must not error.
	f := newFixture(t)
	f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n")
	f.write(FileBattery, "bus,icost,ocost,ec,ed,emin,emax,eini,pmin,pmax,qmin,qmax\n")

	ds, err := Load(f.dir, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, ds.CandGens)
	assert.Empty(t, ds.Batteries)
	require.Len(t, ds.ExistGens, 1)
}

func TestScostIsOptional(t *testing.T) {
	f := newFixture(t)
	f.write(FileCandGen, "bus,icost,ocost,pmin,pmax,qmin,qmax\n0,186,40,0,50,0,0\n")

	ds, err := Load(f.dir, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, ds.CandGens, 1)
	assert.Equal(t, 0.0, ds.CandGens[0].SCost)
}
