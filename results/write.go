package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

func itoa(v int) string     { return strconv.Itoa(v) }
func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteCSVs writes every result table into dir, one file per table, using the
// output names of the upstream planning toolchain. The directory is created if
// missing; existing files are overwritten. The fixed row order of the tables
// makes repeated runs produce byte-identical files.
func (r *Results) WriteCSVs(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	files := map[string][][]string{
		"obj.csv": {
			{"total", "investment", "operation", "shedding"},
			{ftoa(r.Cost.Total), ftoa(r.Cost.Investment), ftoa(r.Cost.Operation), ftoa(r.Cost.Shedding)},
		},
		"xg.csv": capacityRecords(r.ConvGen.Builds),
		"xs.csv": capacityRecords(r.Solar.Builds),
		"xw.csv": capacityRecords(r.Wind.Builds),
		"xb.csv": capacityRecords(r.BatteryBuilds),
		"xl.csv": lineRecords(r.LineBuilds),

		"pcg.csv": dispatchRecords(r.ConvGen.CandDispatch),
		"peg.csv": dispatchRecords(r.ConvGen.ExistDispatch),
		"pcs.csv": dispatchRecords(r.Solar.CandDispatch),
		"pes.csv": dispatchRecords(r.Solar.ExistDispatch),
		"pcw.csv": dispatchRecords(r.Wind.CandDispatch),
		"pew.csv": dispatchRecords(r.Wind.ExistDispatch),

		"pbc.csv": storageRecords(r.Storage, func(s StorageRow) float64 { return s.ChargeKW }, "charge_kw"),
		"pbd.csv": storageRecords(r.Storage, func(s StorageRow) float64 { return s.DischargeKW }, "discharge_kw"),
		"soc.csv": storageRecords(r.Storage, func(s StorageRow) float64 { return s.SoCKWH }, "soc_kwh"),

		"pds.csv": shedRecords(r.Shedding, func(s ShedRow) float64 { return s.ShedKW }, "shed_kw"),
		"pss.csv": shedRecords(r.Shedding, func(s ShedRow) float64 { return s.SolarCurtKW }, "solar_curt_kw"),
		"pws.csv": shedRecords(r.Shedding, func(s ShedRow) float64 { return s.WindCurtKW }, "wind_curt_kw"),

		"vol.csv": voltageRecords(r.Voltages),

		"pel.csv": flowRecords(r.ExistFlows, func(f FlowRow) float64 { return f.PKW }, "p_kw"),
		"qel.csv": flowRecords(r.ExistFlows, func(f FlowRow) float64 { return f.QKVAR }, "q_kvar"),
		"pcl.csv": flowRecords(r.CandFlows, func(f FlowRow) float64 { return f.PKW }, "p_kw"),
		"qcl.csv": flowRecords(r.CandFlows, func(f FlowRow) float64 { return f.QKVAR }, "q_kvar"),
	}

	for name, records := range files {
		if err := writeRecords(filepath.Join(dir, name), records); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// writeRecords renders one table. Dataframes cannot represent a header-only
// table, so empty tables are written as a bare header line.
func writeRecords(path string, records [][]string) error {
	if len(records) == 1 {
		return os.WriteFile(path, []byte(strings.Join(records[0], ",")+"\n"), 0o644)
	}
	df := dataframe.LoadRecords(records)
	if df.Error() != nil {
		return df.Error()
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func capacityRecords(rows []CapacityRow) [][]string {
	records := [][]string{{"unit", "bus", "built", "installed_kw"}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Unit), itoa(r.Bus), ftoa(r.Built), ftoa(r.InstalledKW)})
	}
	return records
}

func lineRecords(rows []LineRow) [][]string {
	records := [][]string{{"line", "from", "to", "built"}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Line), itoa(r.From), itoa(r.To), ftoa(r.Built)})
	}
	return records
}

func dispatchRecords(rows []DispatchRow) [][]string {
	records := [][]string{{"unit", "scenario", "timestep", "p_kw", "q_kvar"}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Unit), itoa(r.Scenario), itoa(r.Timestep), ftoa(r.PKW), ftoa(r.QKVAR)})
	}
	return records
}

func storageRecords(rows []StorageRow, value func(StorageRow) float64, column string) [][]string {
	records := [][]string{{"unit", "scenario", "timestep", column}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Unit), itoa(r.Scenario), itoa(r.Timestep), ftoa(value(r))})
	}
	return records
}

func shedRecords(rows []ShedRow, value func(ShedRow) float64, column string) [][]string {
	records := [][]string{{"bus", "scenario", "timestep", column}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Bus), itoa(r.Scenario), itoa(r.Timestep), ftoa(value(r))})
	}
	return records
}

func voltageRecords(rows []VoltageRow) [][]string {
	records := [][]string{{"bus", "scenario", "timestep", "v_pu"}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Bus), itoa(r.Scenario), itoa(r.Timestep), ftoa(r.VPU)})
	}
	return records
}

func flowRecords(rows []FlowRow, value func(FlowRow) float64, column string) [][]string {
	records := [][]string{{"line", "scenario", "timestep", column}}
	for _, r := range rows {
		records = append(records, []string{itoa(r.Line), itoa(r.Scenario), itoa(r.Timestep), ftoa(value(r))})
	}
	return records
}
