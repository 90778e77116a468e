package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/cepro/microplan/pu"
)

// Load reads every input table from dir, validates it and returns the
// per-unit-normalized dataset. Any structural or range problem is reported as
// a *ValidationError before any model is built.
func Load(dir string, cfg Config) (*Dataset, error) {
	if cfg.Phase < 1 {
		return nil, errf("", "", -1, "number of phases must be >= 1, got %d", cfg.Phase)
	}
	if cfg.VMin <= 0 || cfg.VMin > cfg.VMax {
		return nil, errf("", "", -1, "voltage band [%v, %v] is not physically meaningful", cfg.VMin, cfg.VMax)
	}
	if cfg.DemandShedCost < 0 || cfg.RenewShedCost < 0 {
		return nil, errf("", "", -1, "shedding penalty prices must be non-negative")
	}
	norm, err := pu.New(cfg.SBase, cfg.ScaleFactor)
	if err != nil {
		return nil, errf("", "", -1, "per-unit base: %v", err)
	}

	d := &Dataset{Cfg: cfg, Norm: norm}

	// Profiles first: they fix the bus, timestep and scenario counts that the
	// component tables are validated against.
	if d.PDem, err = loadMatrix(dir, FileDemandP); err != nil {
		return nil, err
	}
	if d.QDem, err = loadMatrix(dir, FileDemandQ); err != nil {
		return nil, err
	}
	if d.PRep, err = loadMatrix(dir, FileProfileP); err != nil {
		return nil, err
	}
	if d.QRep, err = loadMatrix(dir, FileProfileQ); err != nil {
		return nil, err
	}
	if d.PSol, err = loadMatrix(dir, FileSolarP); err != nil {
		return nil, err
	}
	if d.QSol, err = loadMatrix(dir, FileSolarQ); err != nil {
		return nil, err
	}
	if d.PWin, err = loadMatrix(dir, FileWindP); err != nil {
		return nil, err
	}
	if d.QWin, err = loadMatrix(dir, FileWindQ); err != nil {
		return nil, err
	}

	nt := len(d.PRep)
	if nt == 0 {
		return nil, errf(FileProfileP, "", -1, "no timesteps")
	}
	ns := len(d.PRep[0])
	nb := 0
	if len(d.PDem) > 0 {
		nb = len(d.PDem[0])
	}
	if nb == 0 {
		return nil, errf(FileDemandP, "", -1, "no load points")
	}
	if err := checkShape(FileDemandQ, d.QDem, nt, nb); err != nil {
		return nil, err
	}
	if err := checkShape(FileDemandP, d.PDem, nt, nb); err != nil {
		return nil, err
	}
	for _, m := range []struct {
		file string
		rows [][]float64
	}{
		{FileProfileQ, d.QRep},
		{FileSolarP, d.PSol},
		{FileSolarQ, d.QSol},
		{FileWindP, d.PWin},
		{FileWindQ, d.QWin},
	} {
		if err := checkShape(m.file, m.rows, nt, ns); err != nil {
			return nil, err
		}
	}
	if err := checkNonNegative(FileDemandP, d.PDem); err != nil {
		return nil, err
	}
	if err := checkNonNegative(FileProfileP, d.PRep); err != nil {
		return nil, err
	}
	if err := checkFraction(FileSolarP, d.PSol); err != nil {
		return nil, err
	}
	if err := checkFraction(FileWindP, d.PWin); err != nil {
		return nil, err
	}

	// Demand columns are physical kW / kvar; everything entering the model is
	// per-unit. The scenario profiles and availability fractions are
	// dimensionless and stay as loaded.
	normalizeMatrix(d.PDem, norm)
	normalizeMatrix(d.QDem, norm)

	if d.Durations, err = loadDurations(dir, ns); err != nil {
		return nil, err
	}

	if cfg.RefBus < 0 || cfg.RefBus >= nb {
		return nil, errf("", "", -1, "reference bus %d outside the bus range [0, %d)", cfg.RefBus, nb)
	}

	if d.CandGens, err = loadGenerators(dir, FileCandGen, true, nb, norm); err != nil {
		return nil, err
	}
	if d.ExistGens, err = loadGenerators(dir, FileExistGen, false, nb, norm); err != nil {
		return nil, err
	}
	if d.CandSolar, err = loadGenerators(dir, FileCandSolar, true, nb, norm); err != nil {
		return nil, err
	}
	if d.ExistSolar, err = loadGenerators(dir, FileExistSolar, false, nb, norm); err != nil {
		return nil, err
	}
	if d.CandWind, err = loadGenerators(dir, FileCandWind, true, nb, norm); err != nil {
		return nil, err
	}
	if d.ExistWind, err = loadGenerators(dir, FileExistWind, false, nb, norm); err != nil {
		return nil, err
	}
	if d.Batteries, err = loadBatteries(dir, nb, norm); err != nil {
		return nil, err
	}
	if d.ExistLines, d.CandLines, err = loadLines(dir, nb, norm); err != nil {
		return nil, err
	}

	return d, nil
}

// frame is a small numeric view over one CSV table.
type frame struct {
	file  string
	names []string
	cols  map[string][]float64
	order []string
	nrow  int
}

// readFrame parses a CSV file into named float columns. A file with only a
// header row yields an empty frame, which is how upstream writes "no units of
// this kind".
func readFrame(dir, file string) (*frame, error) {
	path := filepath.Join(dir, file)
	f, err := os.Open(path)
	if err != nil {
		return nil, errf(file, "", -1, "missing required input file: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errf(file, "", -1, "malformed CSV: %v", err)
	}
	if len(records) == 0 {
		return nil, errf(file, "", -1, "file is empty, expected at least a header row")
	}

	header := records[0]
	fr := &frame{file: file, names: header, cols: make(map[string][]float64), order: header}
	if len(records) == 1 {
		return fr, nil
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
	)
	if df.Err != nil {
		return nil, errf(file, "", -1, "parse table: %v", df.Err)
	}
	fr.nrow = df.Nrow()
	for _, name := range header {
		col := df.Col(name)
		if col.Err != nil {
			return nil, errf(file, name, -1, "read column: %v", col.Err)
		}
		fr.cols[name] = col.Float()
	}
	return fr, nil
}

// col returns the named column, or a zero column of the right length when the
// column is absent and a default is allowed.
func (f *frame) col(name string) []float64 {
	if c, ok := f.cols[name]; ok {
		return c
	}
	return make([]float64, f.nrow)
}

func (f *frame) require(names ...string) error {
	for _, n := range names {
		if !contains(f.names, n) {
			return errf(f.file, n, -1, "required column is missing")
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// loadMatrix reads a profile table as a row-major matrix, keeping the column
// order of the file.
func loadMatrix(dir, file string) ([][]float64, error) {
	fr, err := readFrame(dir, file)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, fr.nrow)
	for r := 0; r < fr.nrow; r++ {
		row := make([]float64, len(fr.order))
		for c, name := range fr.order {
			row[c] = fr.cols[name][r]
		}
		rows[r] = row
	}
	if r, c, bad := anyNaN(rows); bad {
		return nil, errf(file, fr.order[c], r, "value is not a number")
	}
	return rows, nil
}

func normalizeMatrix(rows [][]float64, norm pu.Normalizer) {
	for _, row := range rows {
		for c, v := range row {
			row[c] = norm.ToPU(v)
		}
	}
}

func checkShape(file string, rows [][]float64, nt, ncols int) error {
	if len(rows) != nt {
		return errf(file, "", -1, "expected %d timestep rows, got %d", nt, len(rows))
	}
	for r, row := range rows {
		if len(row) != ncols {
			return errf(file, "", r, "expected %d columns, got %d", ncols, len(row))
		}
	}
	return nil
}

func checkNonNegative(file string, rows [][]float64) error {
	for r, row := range rows {
		for c, v := range row {
			if v < 0 {
				return errf(file, fmt.Sprintf("%d", c), r, "value %v must be non-negative", v)
			}
		}
	}
	return nil
}

func checkFraction(file string, rows [][]float64) error {
	for r, row := range rows {
		for c, v := range row {
			if v < 0 || v > 1 {
				return errf(file, fmt.Sprintf("%d", c), r, "availability %v outside [0, 1]", v)
			}
		}
	}
	return nil
}

func loadDurations(dir string, ns int) ([]float64, error) {
	fr, err := readFrame(dir, FileDurations)
	if err != nil {
		return nil, err
	}
	if err := fr.require("dt"); err != nil {
		return nil, err
	}
	dt := fr.col("dt")
	if len(dt) != ns {
		return nil, errf(FileDurations, "dt", -1, "expected %d scenario durations, got %d", ns, len(dt))
	}
	for i, v := range dt {
		if math.IsNaN(v) || v <= 0 {
			return nil, errf(FileDurations, "dt", i, "duration %v must be positive", v)
		}
	}
	return dt, nil
}

func loadGenerators(dir, file string, candidate bool, nbus int, norm pu.Normalizer) ([]Generator, error) {
	fr, err := readFrame(dir, file)
	if err != nil {
		return nil, err
	}
	required := []string{"bus", "ocost", "pmin", "pmax", "qmin", "qmax"}
	if candidate {
		required = append(required, "icost")
	}
	if err := fr.require(required...); err != nil {
		return nil, err
	}

	bus := fr.col("bus")
	icost := fr.col("icost")
	ocost := fr.col("ocost")
	scost := fr.col("scost") // optional, zero when absent
	pmin := fr.col("pmin")
	pmax := fr.col("pmax")
	qmin := fr.col("qmin")
	qmax := fr.col("qmax")

	units := make([]Generator, fr.nrow)
	for i := 0; i < fr.nrow; i++ {
		b, err := busIndex(file, "bus", i, bus[i], nbus)
		if err != nil {
			return nil, err
		}
		if err := checkCells(file, i,
			cell{"pmin", pmin[i]}, cell{"pmax", pmax[i]},
			cell{"qmin", qmin[i]}, cell{"qmax", qmax[i]}); err != nil {
			return nil, err
		}
		if pmax[i] < 0 {
			return nil, errf(file, "pmax", i, "capacity %v is negative", pmax[i])
		}
		if pmin[i] > pmax[i] {
			return nil, errf(file, "pmin", i, "pmin %v exceeds pmax %v", pmin[i], pmax[i])
		}
		if qmin[i] > qmax[i] {
			return nil, errf(file, "qmin", i, "qmin %v exceeds qmax %v", qmin[i], qmax[i])
		}
		if err := checkCost(file, i, icost[i], ocost[i], scost[i]); err != nil {
			return nil, err
		}
		units[i] = Generator{
			Bus:   b,
			ICost: icost[i],
			OCost: ocost[i],
			SCost: scost[i],
			PMin:  norm.ToPU(pmin[i]),
			PMax:  norm.ToPU(pmax[i]),
			QMin:  norm.ToPU(qmin[i]),
			QMax:  norm.ToPU(qmax[i]),
		}
	}
	return units, nil
}

func loadBatteries(dir string, nbus int, norm pu.Normalizer) ([]Battery, error) {
	fr, err := readFrame(dir, FileBattery)
	if err != nil {
		return nil, err
	}
	if err := fr.require("bus", "icost", "ec", "ed", "emin", "emax", "eini", "pmin", "pmax", "qmin", "qmax"); err != nil {
		return nil, err
	}

	bus := fr.col("bus")
	icost := fr.col("icost")
	ocost := fr.col("ocost")
	scost := fr.col("scost")
	ec := fr.col("ec")
	ed := fr.col("ed")
	emin := fr.col("emin")
	emax := fr.col("emax")
	eini := fr.col("eini")
	pmin := fr.col("pmin")
	pmax := fr.col("pmax")
	qmin := fr.col("qmin")
	qmax := fr.col("qmax")

	units := make([]Battery, fr.nrow)
	for i := 0; i < fr.nrow; i++ {
		b, err := busIndex(FileBattery, "bus", i, bus[i], nbus)
		if err != nil {
			return nil, err
		}
		if err := checkCells(FileBattery, i,
			cell{"ec", ec[i]}, cell{"ed", ed[i]},
			cell{"emin", emin[i]}, cell{"emax", emax[i]}, cell{"eini", eini[i]},
			cell{"pmin", pmin[i]}, cell{"pmax", pmax[i]},
			cell{"qmin", qmin[i]}, cell{"qmax", qmax[i]}); err != nil {
			return nil, err
		}
		if ec[i] <= 0 || ec[i] > 1 {
			return nil, errf(FileBattery, "ec", i, "charge efficiency %v outside (0, 1]", ec[i])
		}
		if ed[i] <= 0 || ed[i] > 1 {
			return nil, errf(FileBattery, "ed", i, "discharge efficiency %v outside (0, 1]", ed[i])
		}
		if emin[i] < 0 || emin[i] > emax[i] {
			return nil, errf(FileBattery, "emin", i, "energy bounds [%v, %v] are not meaningful", emin[i], emax[i])
		}
		if eini[i] < emin[i] || eini[i] > emax[i] {
			return nil, errf(FileBattery, "eini", i, "initial energy %v outside [%v, %v]", eini[i], emin[i], emax[i])
		}
		if pmax[i] < 0 {
			return nil, errf(FileBattery, "pmax", i, "capacity %v is negative", pmax[i])
		}
		if err := checkCost(FileBattery, i, icost[i], ocost[i], scost[i]); err != nil {
			return nil, err
		}
		units[i] = Battery{
			Bus:   b,
			ICost: icost[i],
			OCost: ocost[i],
			SCost: scost[i],
			EC:    ec[i],
			ED:    ed[i],
			EMin:  norm.ToPU(emin[i]),
			EMax:  norm.ToPU(emax[i]),
			EIni:  norm.ToPU(eini[i]),
			PMin:  norm.ToPU(pmin[i]),
			PMax:  norm.ToPU(pmax[i]),
			QMin:  norm.ToPU(qmin[i]),
			QMax:  norm.ToPU(qmax[i]),
		}
	}
	return units, nil
}

// loadLines reads the line table and splits it into existing branches
// (ini == 1) and candidate branches (ini == 0, optionally carrying an
// investment cost).
func loadLines(dir string, nbus int, norm pu.Normalizer) (existing, candidates []Line, err error) {
	fr, err := readFrame(dir, FileLines)
	if err != nil {
		return nil, nil, err
	}
	if err := fr.require("from", "to", "ini", "res", "rea", "pmax", "qmax"); err != nil {
		return nil, nil, err
	}

	from := fr.col("from")
	to := fr.col("to")
	ini := fr.col("ini")
	res := fr.col("res")
	rea := fr.col("rea")
	sus := fr.col("sus")
	icost := fr.col("icost")
	smax := fr.col("smax")
	pmax := fr.col("pmax")
	qmax := fr.col("qmax")

	for i := 0; i < fr.nrow; i++ {
		f, err := busIndex(FileLines, "from", i, from[i], nbus)
		if err != nil {
			return nil, nil, err
		}
		t, err := busIndex(FileLines, "to", i, to[i], nbus)
		if err != nil {
			return nil, nil, err
		}
		if f == t {
			return nil, nil, errf(FileLines, "to", i, "line connects bus %d to itself", f)
		}
		if err := checkCells(FileLines, i,
			cell{"ini", ini[i]}, cell{"res", res[i]}, cell{"rea", rea[i]}, cell{"sus", sus[i]},
			cell{"icost", icost[i]}, cell{"smax", smax[i]},
			cell{"pmax", pmax[i]}, cell{"qmax", qmax[i]}); err != nil {
			return nil, nil, err
		}
		if ini[i] != 0 && ini[i] != 1 {
			return nil, nil, errf(FileLines, "ini", i, "initial status %v must be 0 or 1", ini[i])
		}
		if res[i] < 0 || rea[i] < 0 {
			return nil, nil, errf(FileLines, "res", i, "impedance (%v, %v) is negative", res[i], rea[i])
		}
		if pmax[i] < 0 || qmax[i] < 0 || smax[i] < 0 {
			return nil, nil, errf(FileLines, "pmax", i, "flow limit is negative")
		}
		if icost[i] < 0 {
			return nil, nil, errf(FileLines, "icost", i, "investment cost %v is negative", icost[i])
		}
		line := Line{
			From:  f,
			To:    t,
			Ini:   ini[i] == 1,
			Res:   res[i],
			Rea:   rea[i],
			Sus:   sus[i],
			ICost: icost[i],
			SMax:  norm.ToPU(smax[i]),
			PMax:  norm.ToPU(pmax[i]),
			QMax:  norm.ToPU(qmax[i]),
		}
		if line.Ini {
			existing = append(existing, line)
		} else {
			candidates = append(candidates, line)
		}
	}
	return existing, candidates, nil
}

func busIndex(file, column string, row int, v float64, nbus int) (int, error) {
	b := int(v)
	if math.IsNaN(v) || float64(b) != v || b < 0 || b >= nbus {
		return 0, errf(file, column, row, "bus %v outside the bus range [0, %d)", v, nbus)
	}
	return b, nil
}

// cell pairs a column name with one parsed value. Every numeric cell is
// screened for NaN before the range checks: comparisons are false for NaN, so
// an unscreened blank cell would sail straight through them.
type cell struct {
	col string
	v   float64
}

func checkCells(file string, row int, cells ...cell) error {
	for _, c := range cells {
		if math.IsNaN(c.v) {
			return errf(file, c.col, row, "value is not a number")
		}
	}
	return nil
}

func checkCost(file string, row int, icost, ocost, scost float64) error {
	if math.IsNaN(icost) || math.IsNaN(ocost) || math.IsNaN(scost) {
		return errf(file, "icost", row, "cost is not a number")
	}
	if icost < 0 || ocost < 0 || scost < 0 {
		return errf(file, "icost", row, "costs (%v, %v, %v) must be non-negative", icost, ocost, scost)
	}
	return nil
}
