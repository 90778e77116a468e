// Package results turns a raw solver solution back into engineering terms:
// build decisions, installed capacity, dispatch, storage cycles, shedding and
// network state, all de-normalized from per-unit into kW and kWh.
package results

import (
	"fmt"

	"github.com/cepro/microplan/dataset"
	"github.com/cepro/microplan/linprog"
	"github.com/cepro/microplan/model"
)

// CostBreakdown is the objective split into its accounting parts. Each figure
// is read from its own accounting variable, so Total is always the exact sum
// of the other three.
type CostBreakdown struct {
	Total      float64
	Investment float64
	Operation  float64
	Shedding   float64
}

// CapacityRow is one candidate unit's build outcome. Built is the investment
// decision (fractional in relaxed mode), InstalledKW the resulting capacity.
type CapacityRow struct {
	Unit        int
	Bus         int
	Built       float64
	InstalledKW float64
}

// LineRow is one candidate line's build outcome.
type LineRow struct {
	Line  int
	From  int
	To    int
	Built float64
}

// DispatchRow is one unit's output at one scenario and timestep.
type DispatchRow struct {
	Unit     int
	Scenario int
	Timestep int
	PKW      float64
	QKVAR    float64
}

// StorageRow is one battery's state at one scenario and timestep.
type StorageRow struct {
	Unit        int
	Scenario    int
	Timestep    int
	ChargeKW    float64
	DischargeKW float64
	SoCKWH      float64
}

// ShedRow is the unserved demand and curtailed renewable output at one bus,
// scenario and timestep.
type ShedRow struct {
	Bus         int
	Scenario    int
	Timestep    int
	ShedKW      float64
	SolarCurtKW float64
	WindCurtKW  float64
}

// FlowRow is one line's power flow at one scenario and timestep. Negative
// values flow from the line's "to" bus towards its "from" bus.
type FlowRow struct {
	Line     int
	Scenario int
	Timestep int
	PKW      float64
	QKVAR    float64
}

// VoltageRow is one bus voltage magnitude, in per-unit.
type VoltageRow struct {
	Bus      int
	Scenario int
	Timestep int
	VPU      float64
}

// TechResults groups one technology's build and dispatch outcome.
type TechResults struct {
	Builds        []CapacityRow
	CandDispatch  []DispatchRow
	ExistDispatch []DispatchRow
}

// Results is the full engineering view of one solved plan. Row slices are in
// fixed unit-major, scenario-major, timestep-minor order, so two identical
// runs produce byte-identical output files.
type Results struct {
	Cost       CostBreakdown
	SolverName string

	ConvGen TechResults
	Solar   TechResults
	Wind    TechResults

	BatteryBuilds []CapacityRow
	Storage       []StorageRow

	LineBuilds []LineRow
	Shedding   []ShedRow
	Voltages   []VoltageRow
	ExistFlows []FlowRow
	CandFlows  []FlowRow
}

// Extract maps a solution back through the variable index onto the dataset's
// units. The solution must be optimal; extraction never invents values for
// failed solves.
func Extract(ds *dataset.Dataset, idx *model.Index, sol *linprog.Solution) (*Results, error) {
	if !sol.IsOptimal() {
		return nil, fmt.Errorf("cannot extract results from a %s solution", sol.Status)
	}

	ns := ds.NumScenarios()
	nt := ds.NumTimesteps()
	nb := ds.NumBuses()

	res := &Results{SolverName: sol.SolverName}
	res.Cost = CostBreakdown{
		Investment: sol.Value(idx.ZInv),
		Operation:  sol.Value(idx.ZOpr),
		Shedding:   sol.Value(idx.ZShed),
	}
	res.Cost.Total = res.Cost.Investment + res.Cost.Operation + res.Cost.Shedding

	builds := func(xs []int, gens []dataset.Generator) []CapacityRow {
		rows := make([]CapacityRow, len(xs))
		for i, x := range xs {
			built := sol.Value(x)
			rows[i] = CapacityRow{
				Unit:        i,
				Bus:         gens[i].Bus,
				Built:       built,
				InstalledKW: built * ds.Norm.FromPU(gens[i].PMax),
			}
		}
		return rows
	}
	dispatch := func(p, q [][][]int) []DispatchRow {
		rows := make([]DispatchRow, 0, len(p)*ns*nt)
		for u := range p {
			for s := 0; s < ns; s++ {
				for h := 0; h < nt; h++ {
					row := DispatchRow{Unit: u, Scenario: s, Timestep: h, PKW: ds.Norm.FromPU(sol.Value(p[u][s][h]))}
					if q != nil {
						row.QKVAR = ds.Norm.FromPU(sol.Value(q[u][s][h]))
					}
					rows = append(rows, row)
				}
			}
		}
		return rows
	}

	res.ConvGen = TechResults{
		Builds:        builds(idx.XG, ds.CandGens),
		CandDispatch:  dispatch(idx.PCG, idx.QCG),
		ExistDispatch: dispatch(idx.PEG, idx.QEG),
	}
	res.Solar = TechResults{
		Builds:        builds(idx.XS, ds.CandSolar),
		CandDispatch:  dispatch(idx.PCS, idx.QCS),
		ExistDispatch: dispatch(idx.PES, idx.QES),
	}
	res.Wind = TechResults{
		Builds:        builds(idx.XW, ds.CandWind),
		CandDispatch:  dispatch(idx.PCW, idx.QCW),
		ExistDispatch: dispatch(idx.PEW, idx.QEW),
	}

	res.BatteryBuilds = make([]CapacityRow, len(idx.XB))
	for i, x := range idx.XB {
		built := sol.Value(x)
		res.BatteryBuilds[i] = CapacityRow{
			Unit:        i,
			Bus:         ds.Batteries[i].Bus,
			Built:       built,
			InstalledKW: built * ds.Norm.FromPU(ds.Batteries[i].PMax),
		}
	}
	for u := range ds.Batteries {
		for s := 0; s < ns; s++ {
			for h := 0; h < nt; h++ {
				res.Storage = append(res.Storage, StorageRow{
					Unit:        u,
					Scenario:    s,
					Timestep:    h,
					ChargeKW:    ds.Norm.FromPU(sol.Value(idx.PBC[u][s][h])),
					DischargeKW: ds.Norm.FromPU(sol.Value(idx.PBD[u][s][h])),
					SoCKWH:      ds.Norm.FromPU(sol.Value(idx.SOC[u][s][h])),
				})
			}
		}
	}

	res.LineBuilds = make([]LineRow, len(idx.XL))
	for i, x := range idx.XL {
		res.LineBuilds[i] = LineRow{
			Line:  i,
			From:  ds.CandLines[i].From,
			To:    ds.CandLines[i].To,
			Built: sol.Value(x),
		}
	}

	for bus := 0; bus < nb; bus++ {
		for s := 0; s < ns; s++ {
			for h := 0; h < nt; h++ {
				res.Shedding = append(res.Shedding, ShedRow{
					Bus:         bus,
					Scenario:    s,
					Timestep:    h,
					ShedKW:      ds.Norm.FromPU(sol.Value(idx.Shed[bus][s][h])),
					SolarCurtKW: ds.Norm.FromPU(sol.Value(idx.SolCurt[bus][s][h])),
					WindCurtKW:  ds.Norm.FromPU(sol.Value(idx.WinCurt[bus][s][h])),
				})
				res.Voltages = append(res.Voltages, VoltageRow{
					Bus:      bus,
					Scenario: s,
					Timestep: h,
					VPU:      sol.Value(idx.Vol[bus][s][h]),
				})
			}
		}
	}

	flows := func(p, q [][][]int) []FlowRow {
		rows := make([]FlowRow, 0, len(p)*ns*nt)
		for l := range p {
			for s := 0; s < ns; s++ {
				for h := 0; h < nt; h++ {
					row := FlowRow{Line: l, Scenario: s, Timestep: h, PKW: ds.Norm.FromPU(sol.Value(p[l][s][h]))}
					if q != nil {
						row.QKVAR = ds.Norm.FromPU(sol.Value(q[l][s][h]))
					}
					rows = append(rows, row)
				}
			}
		}
		return rows
	}
	res.ExistFlows = flows(idx.PEL, idx.QEL)
	res.CandFlows = flows(idx.PCL, idx.QCL)

	return res, nil
}
