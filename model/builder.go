// Package model turns a validated dataset into a mixed-integer linear program:
// investment and dispatch variables, power-balance, capacity, storage and
// network constraints, and the annualized cost objective.
package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/cepro/microplan/dataset"
	"github.com/cepro/microplan/linprog"
)

// Builder assembles one program from one dataset. A builder is cheap and
// single-use: every Solve starts from a fresh Build so a cancelled or failed
// solve never leaves partial state behind.
type Builder struct {
	ds   *dataset.Dataset
	opts Options
}

// NewBuilder returns a builder for the given dataset and operating mode.
func NewBuilder(ds *dataset.Dataset, opts Options) *Builder {
	return &Builder{ds: ds, opts: opts}
}

// scenarioBlock is the output of one scenario's constraint assembly. Blocks
// are produced concurrently, one goroutine per scenario, each writing only its
// own slot.
type scenarioBlock struct {
	cons      []linprog.Constraint
	oprTerms  []linprog.Term
	shedTerms []linprog.Term
}

// Build creates the full program. Investment variables are created once and
// shared by reference across all scenario blocks; dispatch variables are per
// scenario and timestep.
func (b *Builder) Build() (*linprog.Model, *Index, error) {
	ds := b.ds
	ns := ds.NumScenarios()
	nt := ds.NumTimesteps()
	nb := ds.NumBuses()
	if ns == 0 || nt == 0 {
		return nil, nil, &dataset.ValidationError{Msg: "model has no scenarios or timesteps"}
	}
	if nb == 0 {
		return nil, nil, &dataset.ValidationError{Msg: "model has no buses"}
	}

	m := linprog.New("microgrid-plan")
	idx := b.createVariables(m)

	if m.NumVars() == 0 {
		return nil, nil, &dataset.ValidationError{Msg: "model has no variables"}
	}

	// Scenario constraint blocks are independent given the shared investment
	// variables, so they are generated in parallel and concatenated in
	// scenario order to keep the model layout deterministic.
	blocks := make([]scenarioBlock, ns)
	var wg sync.WaitGroup
	for s := 0; s < ns; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			blocks[s] = b.buildScenario(idx, s)
		}(s)
	}
	wg.Wait()

	for s := 0; s < ns; s++ {
		m.AddConstraints(blocks[s].cons)
	}

	b.addInvestmentCoupling(m, idx)
	b.addCostDefinitions(m, idx, blocks)

	m.SetObjective([]linprog.Term{{Var: idx.ZInv, Coef: 1}, {Var: idx.ZOpr, Coef: 1}, {Var: idx.ZShed, Coef: 1}})

	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("assembled model is inconsistent: %w", err)
	}
	return m, idx, nil
}

// investBounds returns the variable shape of an investment decision under the
// current operating mode.
func (b *Builder) investBounds() (lo, hi float64, t linprog.VarType) {
	if b.opts.OnlyOpr {
		return 0, 0, linprog.Continuous
	}
	if b.opts.Invest {
		return 0, 1, linprog.Binary
	}
	return 0, 1, linprog.Continuous
}

func (b *Builder) createVariables(m *linprog.Model) *Index {
	ds := b.ds
	ns := ds.NumScenarios()
	nt := ds.NumTimesteps()
	nb := ds.NumBuses()
	reactive := ds.Cfg.Phase > 1
	inf := math.Inf(1)

	idx := &Index{}

	xlo, xhi, xtype := b.investBounds()
	addInvest := func(prefix string, n int) []int {
		ids := make([]int, n)
		for i := 0; i < n; i++ {
			ids[i] = m.AddVar(fmt.Sprintf("%s_%d", prefix, i), xlo, xhi, xtype)
		}
		return ids
	}
	idx.XG = addInvest("xg", len(ds.CandGens))
	idx.XS = addInvest("xs", len(ds.CandSolar))
	idx.XW = addInvest("xw", len(ds.CandWind))
	idx.XB = addInvest("xb", len(ds.Batteries))
	idx.XL = addInvest("xl", len(ds.CandLines))

	idx.ZInv = m.AddVar("zinv", math.Inf(-1), inf, linprog.Continuous)
	idx.ZOpr = m.AddVar("zopr", math.Inf(-1), inf, linprog.Continuous)
	idx.ZShed = m.AddVar("zshed", math.Inf(-1), inf, linprog.Continuous)

	addOp := func(prefix string, n int, lo, hi float64, t linprog.VarType) [][][]int {
		ids := grid3(n, ns, nt)
		for i := 0; i < n; i++ {
			for s := 0; s < ns; s++ {
				for h := 0; h < nt; h++ {
					ids[i][s][h] = m.AddVar(fmt.Sprintf("%s_%d_%d_%d", prefix, i, s, h), lo, hi, t)
				}
			}
		}
		return ids
	}

	utype := linprog.Continuous
	if b.opts.Commit {
		utype = linprog.Binary
	}

	// Conventional generation.
	idx.UCG = addOp("ucg", len(ds.CandGens), 0, 1, utype)
	idx.VCG = addOp("vcg", len(ds.CandGens), 0, inf, linprog.Continuous)
	idx.PCG = addOp("pcg", len(ds.CandGens), 0, inf, linprog.Continuous)
	idx.UEG = addOp("ueg", len(ds.ExistGens), 0, 1, utype)
	idx.VEG = addOp("veg", len(ds.ExistGens), 0, inf, linprog.Continuous)
	idx.PEG = addOp("peg", len(ds.ExistGens), 0, inf, linprog.Continuous)

	// Renewables.
	idx.PCS = addOp("pcs", len(ds.CandSolar), 0, inf, linprog.Continuous)
	idx.PES = addOp("pes", len(ds.ExistSolar), 0, inf, linprog.Continuous)
	idx.PCW = addOp("pcw", len(ds.CandWind), 0, inf, linprog.Continuous)
	idx.PEW = addOp("pew", len(ds.ExistWind), 0, inf, linprog.Continuous)

	// Batteries.
	idx.PBC = addOp("pbc", len(ds.Batteries), 0, inf, linprog.Continuous)
	idx.PBD = addOp("pbd", len(ds.Batteries), 0, inf, linprog.Continuous)
	idx.SOC = addOp("soc", len(ds.Batteries), 0, inf, linprog.Continuous)

	if reactive {
		idx.QCG = addOp("qcg", len(ds.CandGens), math.Inf(-1), inf, linprog.Continuous)
		idx.QEG = addOp("qeg", len(ds.ExistGens), math.Inf(-1), inf, linprog.Continuous)
		idx.QCS = addOp("qcs", len(ds.CandSolar), math.Inf(-1), inf, linprog.Continuous)
		idx.QES = addOp("qes", len(ds.ExistSolar), math.Inf(-1), inf, linprog.Continuous)
		idx.QCW = addOp("qcw", len(ds.CandWind), math.Inf(-1), inf, linprog.Continuous)
		idx.QEW = addOp("qew", len(ds.ExistWind), math.Inf(-1), inf, linprog.Continuous)
		idx.QCD = addOp("qcd", len(ds.Batteries), math.Inf(-1), inf, linprog.Continuous)
	}

	// Bus state. Shedding is bounded by the local demand so it can never
	// exceed what is actually there to shed; it is always available as a
	// feasibility outlet, never constrained to zero.
	idx.Shed = grid3(nb, ns, nt)
	idx.SolCurt = grid3(nb, ns, nt)
	idx.WinCurt = grid3(nb, ns, nt)
	idx.Vol = grid3(nb, ns, nt)
	for bus := 0; bus < nb; bus++ {
		for s := 0; s < ns; s++ {
			for h := 0; h < nt; h++ {
				idx.Shed[bus][s][h] = m.AddVar(fmt.Sprintf("pds_%d_%d_%d", bus, s, h), 0, ds.ActiveDemand(bus, h, s), linprog.Continuous)
				idx.SolCurt[bus][s][h] = m.AddVar(fmt.Sprintf("pss_%d_%d_%d", bus, s, h), 0, inf, linprog.Continuous)
				idx.WinCurt[bus][s][h] = m.AddVar(fmt.Sprintf("pws_%d_%d_%d", bus, s, h), 0, inf, linprog.Continuous)
				idx.Vol[bus][s][h] = m.AddVar(fmt.Sprintf("vol_%d_%d_%d", bus, s, h), ds.Cfg.VMin, ds.Cfg.VMax, linprog.Continuous)
			}
		}
	}

	// Line flows. Existing lines have fixed thermal limits so the bounds live
	// on the variables; candidate flows are limited by rows tied to the
	// investment decision.
	idx.PEL = grid3(len(ds.ExistLines), ns, nt)
	if reactive {
		idx.QEL = grid3(len(ds.ExistLines), ns, nt)
	}
	for l, line := range ds.ExistLines {
		for s := 0; s < ns; s++ {
			for h := 0; h < nt; h++ {
				idx.PEL[l][s][h] = m.AddVar(fmt.Sprintf("pel_%d_%d_%d", l, s, h), -line.PMax, line.PMax, linprog.Continuous)
				if reactive {
					idx.QEL[l][s][h] = m.AddVar(fmt.Sprintf("qel_%d_%d_%d", l, s, h), -line.QMax, line.QMax, linprog.Continuous)
				}
			}
		}
	}
	idx.PCL = addOp("pcl", len(ds.CandLines), math.Inf(-1), inf, linprog.Continuous)
	if reactive {
		idx.QCL = addOp("qcl", len(ds.CandLines), math.Inf(-1), inf, linprog.Continuous)
	}

	return idx
}

func term(v int, c float64) linprog.Term { return linprog.Term{Var: v, Coef: c} }

func row(name string, sense linprog.Sense, rhs float64, terms ...linprog.Term) linprog.Constraint {
	return linprog.Constraint{Name: name, Terms: terms, Sense: sense, RHS: rhs}
}

// buildScenario emits every constraint of one representative day plus that
// day's contribution to the operation and shedding cost definitions. It only
// reads shared state, so blocks for different scenarios can be built
// concurrently.
func (b *Builder) buildScenario(idx *Index, s int) scenarioBlock {
	ds := b.ds
	nt := ds.NumTimesteps()
	nb := ds.NumBuses()
	reactive := ds.Cfg.Phase > 1
	invPhase := 1.0 / float64(ds.Cfg.Phase)
	w := ds.Norm.OperationWeight(ds.Durations[s])
	ew := ds.Norm.EventWeight(ds.Durations[s])

	var blk scenarioBlock
	add := func(c linprog.Constraint) { blk.cons = append(blk.cons, c) }
	opr := func(v int, cost float64) {
		if cost != 0 {
			blk.oprTerms = append(blk.oprTerms, term(v, w*cost))
		}
	}
	evt := func(v int, cost float64) {
		if cost != 0 {
			blk.oprTerms = append(blk.oprTerms, term(v, ew*cost))
		}
	}

	for h := 0; h < nt; h++ {
		// Conventional candidates: dispatch within committed limits,
		// commitment within the investment decision, startups tracked for the
		// startup cost term.
		for g, gen := range ds.CandGens {
			u := idx.UCG[g][s][h]
			p := idx.PCG[g][s][h]
			v := idx.VCG[g][s][h]
			add(row(fmt.Sprintf("cg_pmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(p, 1), term(u, -gen.PMax)))
			add(row(fmt.Sprintf("cg_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(p, 1), term(u, -gen.PMin)))
			add(row(fmt.Sprintf("cg_commit_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(u, 1), term(idx.XG[g], -1)))
			if h == 0 {
				add(row(fmt.Sprintf("cg_start_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(u, 1), term(v, -1)))
			} else {
				add(row(fmt.Sprintf("cg_start_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(u, 1), term(idx.UCG[g][s][h-1], -1), term(v, -1)))
			}
			if reactive {
				q := idx.QCG[g][s][h]
				add(row(fmt.Sprintf("cg_qmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(q, 1), term(u, -gen.QMax)))
				add(row(fmt.Sprintf("cg_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(q, 1), term(u, -gen.QMin)))
			}
			opr(p, gen.OCost)
			evt(v, gen.SCost)
		}

		// Existing conventional units: same shape with the investment factor
		// fixed at one.
		for g, gen := range ds.ExistGens {
			u := idx.UEG[g][s][h]
			p := idx.PEG[g][s][h]
			v := idx.VEG[g][s][h]
			add(row(fmt.Sprintf("eg_pmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(p, 1), term(u, -gen.PMax)))
			add(row(fmt.Sprintf("eg_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(p, 1), term(u, -gen.PMin)))
			if h == 0 {
				add(row(fmt.Sprintf("eg_start_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(u, 1), term(v, -1)))
			} else {
				add(row(fmt.Sprintf("eg_start_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(u, 1), term(idx.UEG[g][s][h-1], -1), term(v, -1)))
			}
			if reactive {
				q := idx.QEG[g][s][h]
				add(row(fmt.Sprintf("eg_qmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(q, 1), term(u, -gen.QMax)))
				add(row(fmt.Sprintf("eg_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(q, 1), term(u, -gen.QMin)))
			}
			opr(p, gen.OCost)
			evt(v, gen.SCost)
		}

		// Renewables: dispatch capped by installed capacity times the hourly
		// availability fraction.
		for g, gen := range ds.CandSolar {
			p := idx.PCS[g][s][h]
			avail := ds.PSol[h][s]
			add(row(fmt.Sprintf("cs_pmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(p, 1), term(idx.XS[g], -gen.PMax*avail)))
			add(row(fmt.Sprintf("cs_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(p, 1), term(idx.XS[g], -gen.PMin)))
			if reactive {
				q := idx.QCS[g][s][h]
				add(row(fmt.Sprintf("cs_qmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(q, 1), term(idx.XS[g], -gen.QMax)))
				add(row(fmt.Sprintf("cs_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(q, 1), term(idx.XS[g], -gen.QMin)))
			}
			opr(p, gen.OCost)
		}
		for g, gen := range ds.ExistSolar {
			p := idx.PES[g][s][h]
			avail := ds.PSol[h][s]
			add(row(fmt.Sprintf("es_pmax_%d_%d_%d", g, s, h), linprog.LessEq, gen.PMax*avail, term(p, 1)))
			add(row(fmt.Sprintf("es_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, gen.PMin, term(p, 1)))
			if reactive {
				q := idx.QES[g][s][h]
				add(row(fmt.Sprintf("es_qmax_%d_%d_%d", g, s, h), linprog.LessEq, gen.QMax, term(q, 1)))
				add(row(fmt.Sprintf("es_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, gen.QMin, term(q, 1)))
			}
			opr(p, gen.OCost)
		}
		for g, gen := range ds.CandWind {
			p := idx.PCW[g][s][h]
			avail := ds.PWin[h][s]
			add(row(fmt.Sprintf("cw_pmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(p, 1), term(idx.XW[g], -gen.PMax*avail)))
			add(row(fmt.Sprintf("cw_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(p, 1), term(idx.XW[g], -gen.PMin)))
			if reactive {
				q := idx.QCW[g][s][h]
				add(row(fmt.Sprintf("cw_qmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(q, 1), term(idx.XW[g], -gen.QMax)))
				add(row(fmt.Sprintf("cw_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(q, 1), term(idx.XW[g], -gen.QMin)))
			}
			opr(p, gen.OCost)
		}
		for g, gen := range ds.ExistWind {
			p := idx.PEW[g][s][h]
			avail := ds.PWin[h][s]
			add(row(fmt.Sprintf("ew_pmax_%d_%d_%d", g, s, h), linprog.LessEq, gen.PMax*avail, term(p, 1)))
			add(row(fmt.Sprintf("ew_pmin_%d_%d_%d", g, s, h), linprog.GreaterEq, gen.PMin, term(p, 1)))
			if reactive {
				q := idx.QEW[g][s][h]
				add(row(fmt.Sprintf("ew_qmax_%d_%d_%d", g, s, h), linprog.LessEq, gen.QMax, term(q, 1)))
				add(row(fmt.Sprintf("ew_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, gen.QMin, term(q, 1)))
			}
			opr(p, gen.OCost)
		}

		// Batteries: power limits tied to the build decision, explicit state
		// of charge with charge/discharge efficiencies. Charge and discharge
		// are bounded independently; nothing forbids both being nonzero in
		// one timestep.
		for g, bat := range ds.Batteries {
			pc := idx.PBC[g][s][h]
			pd := idx.PBD[g][s][h]
			soc := idx.SOC[g][s][h]
			x := idx.XB[g]
			add(row(fmt.Sprintf("cb_cmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(pc, 1), term(x, -bat.PMax)))
			add(row(fmt.Sprintf("cb_cmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(pc, 1), term(x, -bat.PMin)))
			add(row(fmt.Sprintf("cb_dmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(pd, 1), term(x, -bat.PMax)))
			add(row(fmt.Sprintf("cb_dmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(pd, 1), term(x, -bat.PMin)))
			if h == 0 {
				add(row(fmt.Sprintf("cb_soc_%d_%d_%d", g, s, h), linprog.Equal, 0,
					term(soc, 1), term(x, -bat.EIni), term(pc, -bat.EC), term(pd, 1/bat.ED)))
			} else {
				add(row(fmt.Sprintf("cb_soc_%d_%d_%d", g, s, h), linprog.Equal, 0,
					term(soc, 1), term(idx.SOC[g][s][h-1], -1), term(pc, -bat.EC), term(pd, 1/bat.ED)))
			}
			add(row(fmt.Sprintf("cb_emax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(soc, 1), term(x, -bat.EMax)))
			add(row(fmt.Sprintf("cb_emin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(soc, 1), term(x, -bat.EMin)))
			if h == nt-1 {
				// Each representative day is energy neutral: the battery ends
				// where it started, scenarios stay independent.
				add(row(fmt.Sprintf("cb_cycle_%d_%d", g, s), linprog.Equal, 0, term(soc, 1), term(x, -bat.EIni)))
			}
			if reactive {
				q := idx.QCD[g][s][h]
				add(row(fmt.Sprintf("cb_qmax_%d_%d_%d", g, s, h), linprog.LessEq, 0, term(q, 1), term(x, -bat.QMax)))
				add(row(fmt.Sprintf("cb_qmin_%d_%d_%d", g, s, h), linprog.GreaterEq, 0, term(q, 1), term(x, -bat.QMin)))
			}
			opr(pd, bat.OCost)
		}

		// Curtailment definition: per bus, curtailed renewable output is the
		// installed available power minus what was dispatched.
		for bus := 0; bus < nb; bus++ {
			solTerms := []linprog.Term{term(idx.SolCurt[bus][s][h], 1)}
			solRHS := 0.0
			for g, gen := range ds.CandSolar {
				if gen.Bus != bus {
					continue
				}
				solTerms = append(solTerms, term(idx.XS[g], -gen.PMax*ds.PSol[h][s]), term(idx.PCS[g][s][h], 1))
			}
			for g, gen := range ds.ExistSolar {
				if gen.Bus != bus {
					continue
				}
				solRHS += gen.PMax * ds.PSol[h][s]
				solTerms = append(solTerms, term(idx.PES[g][s][h], 1))
			}
			add(row(fmt.Sprintf("sol_curt_%d_%d_%d", bus, s, h), linprog.Equal, solRHS, solTerms...))

			winTerms := []linprog.Term{term(idx.WinCurt[bus][s][h], 1)}
			winRHS := 0.0
			for g, gen := range ds.CandWind {
				if gen.Bus != bus {
					continue
				}
				winTerms = append(winTerms, term(idx.XW[g], -gen.PMax*ds.PWin[h][s]), term(idx.PCW[g][s][h], 1))
			}
			for g, gen := range ds.ExistWind {
				if gen.Bus != bus {
					continue
				}
				winRHS += gen.PMax * ds.PWin[h][s]
				winTerms = append(winTerms, term(idx.PEW[g][s][h], 1))
			}
			add(row(fmt.Sprintf("win_curt_%d_%d_%d", bus, s, h), linprog.Equal, winRHS, winTerms...))
		}

		// Network: linearized voltage drop on energized branches, big-M
		// relaxed on unbuilt candidates; flows on candidates limited by the
		// build decision.
		for l, line := range ds.ExistLines {
			terms := []linprog.Term{
				term(idx.Vol[line.From][s][h], 1),
				term(idx.Vol[line.To][s][h], -1),
				term(idx.PEL[l][s][h], -line.Res),
			}
			if reactive {
				terms = append(terms, term(idx.QEL[l][s][h], -line.Rea))
			}
			add(row(fmt.Sprintf("el_flow_%d_%d_%d", l, s, h), linprog.Equal, 0, terms...))
			if reactive && line.SMax > 0 {
				for i, signs := range [][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
					add(row(fmt.Sprintf("el_smax_%d_%d_%d_%d", l, s, h, i), linprog.LessEq, line.SMax,
						term(idx.PEL[l][s][h], signs[0]), term(idx.QEL[l][s][h], signs[1])))
				}
			}
		}
		for l, line := range ds.CandLines {
			x := idx.XL[l]
			p := idx.PCL[l][s][h]
			add(row(fmt.Sprintf("cl_pmax_%d_%d_%d", l, s, h), linprog.LessEq, 0, term(p, 1), term(x, -line.PMax)))
			add(row(fmt.Sprintf("cl_pmin_%d_%d_%d", l, s, h), linprog.GreaterEq, 0, term(p, 1), term(x, line.PMax)))
			bigM := (ds.Cfg.VMax - ds.Cfg.VMin) + line.Res*line.PMax + line.Rea*line.QMax
			terms := []linprog.Term{
				term(idx.Vol[line.From][s][h], 1),
				term(idx.Vol[line.To][s][h], -1),
				term(p, -line.Res),
			}
			if reactive {
				q := idx.QCL[l][s][h]
				terms = append(terms, term(q, -line.Rea))
				add(row(fmt.Sprintf("cl_qmax_%d_%d_%d", l, s, h), linprog.LessEq, 0, term(q, 1), term(x, -line.QMax)))
				add(row(fmt.Sprintf("cl_qmin_%d_%d_%d", l, s, h), linprog.GreaterEq, 0, term(q, 1), term(x, line.QMax)))
				if line.SMax > 0 {
					for i, signs := range [][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
						add(row(fmt.Sprintf("cl_smax_%d_%d_%d_%d", l, s, h, i), linprog.LessEq, 0,
							term(p, signs[0]), term(q, signs[1]), term(x, -line.SMax)))
					}
				}
			}
			up := append(append([]linprog.Term{}, terms...), term(x, bigM))
			lo := append(append([]linprog.Term{}, terms...), term(x, -bigM))
			add(row(fmt.Sprintf("cl_flow_up_%d_%d_%d", l, s, h), linprog.LessEq, bigM, up...))
			add(row(fmt.Sprintf("cl_flow_lo_%d_%d_%d", l, s, h), linprog.GreaterEq, -bigM, lo...))
		}

		// Voltage reference.
		add(row(fmt.Sprintf("vref_%d_%d", s, h), linprog.Equal, 1, term(idx.Vol[ds.Cfg.RefBus][s][h], 1)))

		// Power balance, the heart of the model: injections plus net line
		// inflow cover the unshed demand, with curtailment absorbing surplus
		// renewable output.
		for bus := 0; bus < nb; bus++ {
			blk.cons = append(blk.cons, b.balanceRows(idx, bus, s, h, invPhase)...)
		}

		// Shedding cost contributions.
		for bus := 0; bus < nb; bus++ {
			blk.shedTerms = append(blk.shedTerms,
				term(idx.Shed[bus][s][h], w*ds.Cfg.DemandShedCost),
				term(idx.SolCurt[bus][s][h], w*ds.Cfg.RenewShedCost),
				term(idx.WinCurt[bus][s][h], w*ds.Cfg.RenewShedCost),
			)
		}
	}

	return blk
}

// balanceRows emits the active (and, in multi-phase mode, reactive) power
// balance at one bus, timestep and scenario.
func (b *Builder) balanceRows(idx *Index, bus, s, h int, invPhase float64) []linprog.Constraint {
	ds := b.ds
	reactive := ds.Cfg.Phase > 1

	pTerms := []linprog.Term{}
	qTerms := []linprog.Term{}

	addUnit := func(gens []dataset.Generator, p, q [][][]int) {
		for g, gen := range gens {
			if gen.Bus != bus {
				continue
			}
			pTerms = append(pTerms, term(p[g][s][h], invPhase))
			if reactive && q != nil {
				qTerms = append(qTerms, term(q[g][s][h], invPhase))
			}
		}
	}
	addUnit(ds.CandGens, idx.PCG, idx.QCG)
	addUnit(ds.ExistGens, idx.PEG, idx.QEG)
	addUnit(ds.CandSolar, idx.PCS, idx.QCS)
	addUnit(ds.ExistSolar, idx.PES, idx.QES)
	addUnit(ds.CandWind, idx.PCW, idx.QCW)
	addUnit(ds.ExistWind, idx.PEW, idx.QEW)

	for g, bat := range ds.Batteries {
		if bat.Bus != bus {
			continue
		}
		pTerms = append(pTerms, term(idx.PBD[g][s][h], invPhase), term(idx.PBC[g][s][h], -invPhase))
		if reactive {
			qTerms = append(qTerms, term(idx.QCD[g][s][h], invPhase))
		}
	}

	addLines := func(lines []dataset.Line, p, q [][][]int) {
		for l, line := range lines {
			if line.To == bus {
				pTerms = append(pTerms, term(p[l][s][h], 1))
				if reactive {
					qTerms = append(qTerms, term(q[l][s][h], 1))
				}
			}
			if line.From == bus {
				pTerms = append(pTerms, term(p[l][s][h], -1))
				if reactive {
					qTerms = append(qTerms, term(q[l][s][h], -1))
				}
			}
		}
	}
	addLines(ds.ExistLines, idx.PEL, idx.QEL)
	addLines(ds.CandLines, idx.PCL, idx.QCL)

	// Shedding reduces the demand to serve; curtailment soaks up surplus.
	pTerms = append(pTerms,
		term(idx.Shed[bus][s][h], invPhase),
		term(idx.SolCurt[bus][s][h], -1),
		term(idx.WinCurt[bus][s][h], -1),
	)

	rows := []linprog.Constraint{
		row(fmt.Sprintf("act_bal_%d_%d_%d", bus, s, h), linprog.Equal, invPhase*ds.ActiveDemand(bus, h, s), pTerms...),
	}
	if reactive {
		// Shedding active demand sheds the proportional share of reactive
		// demand at the same bus.
		if ratio := ds.ReactiveShedRatio(bus, h, s); ratio != 0 {
			qTerms = append(qTerms, term(idx.Shed[bus][s][h], invPhase*ratio))
		}
		rows = append(rows,
			row(fmt.Sprintf("rea_bal_%d_%d_%d", bus, s, h), linprog.Equal, invPhase*ds.ReactiveDemand(bus, h, s), qTerms...),
		)
	}
	return rows
}

// addInvestmentCoupling keeps storage investment paired with renewable
// investment: batteries are only built alongside at least as many solar or
// wind units.
func (b *Builder) addInvestmentCoupling(m *linprog.Model, idx *Index) {
	if len(idx.XB) == 0 {
		return
	}
	terms := []linprog.Term{}
	for _, x := range idx.XB {
		terms = append(terms, term(x, 1))
	}
	for _, x := range idx.XS {
		terms = append(terms, term(x, -1))
	}
	for _, x := range idx.XW {
		terms = append(terms, term(x, -1))
	}
	m.AddConstraint(row("inv_bat", linprog.LessEq, 0, terms...))
}

// addCostDefinitions pins the three accounting variables to their objective
// terms so the cost breakdown can be read straight off the solution.
func (b *Builder) addCostDefinitions(m *linprog.Model, idx *Index, blocks []scenarioBlock) {
	ds := b.ds
	iw := ds.Norm.InvestmentWeight()

	invTerms := []linprog.Term{term(idx.ZInv, 1)}
	addIC := func(ids []int, cost func(i int) float64) {
		for i, x := range ids {
			if c := cost(i); c != 0 {
				invTerms = append(invTerms, term(x, -iw*c))
			}
		}
	}
	addIC(idx.XG, func(i int) float64 { return ds.CandGens[i].ICost })
	addIC(idx.XS, func(i int) float64 { return ds.CandSolar[i].ICost })
	addIC(idx.XW, func(i int) float64 { return ds.CandWind[i].ICost })
	addIC(idx.XB, func(i int) float64 { return ds.Batteries[i].ICost })
	addIC(idx.XL, func(i int) float64 { return ds.CandLines[i].ICost })
	m.AddConstraint(row("inv_cost_def", linprog.Equal, 0, invTerms...))

	oprTerms := []linprog.Term{term(idx.ZOpr, 1)}
	shedTerms := []linprog.Term{term(idx.ZShed, 1)}
	for _, blk := range blocks {
		for _, t := range blk.oprTerms {
			oprTerms = append(oprTerms, term(t.Var, -t.Coef))
		}
		for _, t := range blk.shedTerms {
			shedTerms = append(shedTerms, term(t.Var, -t.Coef))
		}
	}
	m.AddConstraint(row("opr_cost_def", linprog.Equal, 0, oprTerms...))
	m.AddConstraint(row("shed_cost_def", linprog.Equal, 0, shedTerms...))
}
