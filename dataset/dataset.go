// Package dataset loads the microgrid planning input tables from CSV files,
// validates them and normalizes all power and energy columns onto the run's
// per-unit base. A Dataset is immutable once loaded: model builds and solver
// retries always start from the same tables.
package dataset

import (
	"math"

	"github.com/cepro/microplan/pu"
)

// Input file names are fixed by the upstream data-processing toolchain.
const (
	FileCandGen    = "cgen_dist.csv"
	FileExistGen   = "egen_dist.csv"
	FileCandSolar  = "csol_dist.csv"
	FileExistSolar = "esol_dist.csv"
	FileCandWind   = "cwin_dist.csv"
	FileExistWind  = "ewin_dist.csv"
	FileBattery    = "cbat_dist.csv"
	FileLines      = "elin_dist.csv"
	FileDemandP    = "pdem_dist.csv"
	FileDemandQ    = "qdem_dist.csv"
	FileProfileP   = "prep_dist.csv"
	FileProfileQ   = "qrep_dist.csv"
	FileSolarP     = "psol_dist.csv"
	FileSolarQ     = "qsol_dist.csv"
	FileWindP      = "pwin_dist.csv"
	FileWindQ      = "qwin_dist.csv"
	FileDurations  = "dtim_dist.csv"
)

// Config carries the structural options of one planning run.
type Config struct {
	RefBus         int     // reference bus, fixes the voltage reference
	DemandShedCost float64 // penalty price for unserved demand
	RenewShedCost  float64 // penalty price for curtailed renewable output
	Phase          int     // number of phases; reactive balance is modelled only when > 1
	VMin           float64 // minimum bus voltage, per unit
	VMax           float64 // maximum bus voltage, per unit
	SBase          float64 // base apparent power in kW
	ScaleFactor    float64 // scaling factor applied to all cost terms
}

// DefaultConfig mirrors the defaults of the upstream planning toolchain.
func DefaultConfig() Config {
	return Config{
		RefBus:         0,
		DemandShedCost: 1000000,
		RenewShedCost:  500,
		Phase:          3,
		VMin:           0.85,
		VMax:           1.15,
		SBase:          1,
		ScaleFactor:    1,
	}
}

// Generator describes one dispatchable or renewable unit. Power fields are in
// per-unit after loading. ICost is the annualized investment cost of the whole
// unit and is zero for existing units.
type Generator struct {
	Bus   int
	ICost float64
	OCost float64
	SCost float64
	PMin  float64
	PMax  float64
	QMin  float64
	QMax  float64
}

// Battery describes one candidate storage unit. Energy and power fields are in
// per-unit after loading.
type Battery struct {
	Bus   int
	ICost float64
	OCost float64
	SCost float64
	EC    float64 // charge efficiency, (0, 1]
	ED    float64 // discharge efficiency, (0, 1]
	EMin  float64
	EMax  float64
	EIni  float64
	PMin  float64
	PMax  float64
	QMin  float64
	QMax  float64
}

// Line describes one branch of the network. Candidate lines carry an
// investment cost and start unenergized; existing lines have Ini set.
type Line struct {
	From  int
	To    int
	Ini   bool
	Res   float64
	Rea   float64
	Sus   float64
	ICost float64
	SMax  float64 // apparent-power limit; zero means not enforced
	PMax  float64
	QMax  float64
}

// Dataset holds every validated, per-unit-normalized input table of one run.
type Dataset struct {
	Cfg  Config
	Norm pu.Normalizer

	CandGens   []Generator
	ExistGens  []Generator
	CandSolar  []Generator
	ExistSolar []Generator
	CandWind   []Generator
	ExistWind  []Generator
	Batteries  []Battery

	ExistLines []Line
	CandLines  []Line

	// PDem/QDem are per-bus demand participation factors in per-unit,
	// indexed [timestep][bus].
	PDem [][]float64
	QDem [][]float64

	// PRep/QRep are per-scenario demand scaling profiles, indexed [timestep][scenario].
	PRep [][]float64
	QRep [][]float64

	// Renewable availability fractions, indexed [timestep][scenario].
	PSol [][]float64
	QSol [][]float64
	PWin [][]float64
	QWin [][]float64

	// Durations holds the hours each representative day stands for, one per scenario.
	Durations []float64
}

// NumBuses returns the number of load points in the network.
func (d *Dataset) NumBuses() int {
	if len(d.PDem) == 0 {
		return 0
	}
	return len(d.PDem[0])
}

// NumTimesteps returns the number of hourly steps per representative day.
func (d *Dataset) NumTimesteps() int { return len(d.PRep) }

// NumScenarios returns the number of representative days.
func (d *Dataset) NumScenarios() int {
	if len(d.PRep) == 0 {
		return 0
	}
	return len(d.PRep[0])
}

// NumUnits returns the total number of generation and storage units.
func (d *Dataset) NumUnits() int {
	return len(d.CandGens) + len(d.ExistGens) +
		len(d.CandSolar) + len(d.ExistSolar) +
		len(d.CandWind) + len(d.ExistWind) +
		len(d.Batteries)
}

// ActiveDemand returns the per-unit active demand at a bus, timestep and
// scenario: the bus participation factor scaled by the scenario profile.
func (d *Dataset) ActiveDemand(bus, t, s int) float64 {
	return d.PDem[t][bus] * d.PRep[t][s]
}

// ReactiveDemand returns the per-unit reactive demand at a bus, timestep and
// scenario.
func (d *Dataset) ReactiveDemand(bus, t, s int) float64 {
	return d.QDem[t][bus] * d.QRep[t][s]
}

// ReactiveShedRatio is the reactive demand shed per unit of active demand shed
// at the given bus, timestep and scenario. Zero when there is no active demand
// to shed.
func (d *Dataset) ReactiveShedRatio(bus, t, s int) float64 {
	pd := d.ActiveDemand(bus, t, s)
	if pd == 0 {
		return 0
	}
	return d.ReactiveDemand(bus, t, s) / pd
}

func anyNaN(rows [][]float64) (int, int, bool) {
	for r, row := range rows {
		for c, v := range row {
			if math.IsNaN(v) {
				return r, c, true
			}
		}
	}
	return 0, 0, false
}
