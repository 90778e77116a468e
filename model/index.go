package model

// Options selects the operating mode of one model build.
type Options struct {
	// Invest makes the investment decisions binary build-or-not choices.
	// When false the investment variables are relaxed to [0, 1].
	Invest bool

	// OnlyOpr fixes every investment decision at zero: no new candidate
	// capacity is installable and only existing assets dispatch.
	OnlyOpr bool

	// Commit makes the conventional-generator commitment variables binary.
	Commit bool
}

// Index maps every column of the assembled program back to its engineering
// meaning. Operational blocks are indexed [unit][scenario][timestep]; bus
// blocks [bus][scenario][timestep]. Reactive blocks are nil in single-phase
// mode.
type Index struct {
	// Investment decisions, one per candidate, shared across scenarios.
	XG []int // conventional generators
	XS []int // solar
	XW []int // wind
	XB []int // batteries
	XL []int // lines

	// Conventional generation: commitment, startup, dispatch.
	UCG, VCG, PCG, QCG [][][]int
	UEG, VEG, PEG, QEG [][][]int

	// Renewable dispatch.
	PCS, QCS [][][]int
	PES, QES [][][]int
	PCW, QCW [][][]int
	PEW, QEW [][][]int

	// Battery charge, discharge, reactive output and state of charge.
	PBC, PBD, QCD, SOC [][][]int

	// Per-bus shedding and curtailment.
	Shed    [][][]int
	SolCurt [][][]int
	WinCurt [][][]int

	// Network state.
	Vol      [][][]int // bus voltage magnitude
	PEL, QEL [][][]int // existing line flows
	PCL, QCL [][][]int // candidate line flows

	// Cost accounting variables; the objective is their sum.
	ZInv  int
	ZOpr  int
	ZShed int
}

func grid3(n, s, t int) [][][]int {
	out := make([][][]int, n)
	for i := range out {
		out[i] = make([][]int, s)
		for j := range out[i] {
			out[i][j] = make([]int, t)
		}
	}
	return out
}
