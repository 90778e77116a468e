// Package config reads the engine's JSON run configuration: where the input
// tables live, how the network is modelled, which solver backend to use and
// where to keep outputs and run history.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cepro/microplan/dataset"
	"github.com/cepro/microplan/planner"
)

// ConstructionConfig mirrors the structural options of the planning model.
// Absent keys keep the engine defaults.
type ConstructionConfig struct {
	RefBus         int     `json:"refBus"`
	DemandShedCost float64 `json:"demandShedCost"`
	RenewShedCost  float64 `json:"renewShedCost"`
	Phase          int     `json:"phase"`
	VMin           float64 `json:"vmin"`
	VMax           float64 `json:"vmax"`
	SBase          float64 `json:"sbase"`
	ScaleFactor    float64 `json:"scaleFactor"`
}

// SolveConfig selects the run mode and solver backend.
type SolveConfig struct {
	Invest        bool                   `json:"invest"`
	OnlyOpr       bool                   `json:"onlyOpr"`
	Commit        bool                   `json:"commit"`
	Solver        string                 `json:"solver"`
	SolverOptions map[string]interface{} `json:"solverOptions"`
	TimeLimitSecs int                    `json:"timeLimitSecs"`
}

type Config struct {
	InputDir     string             `json:"inputDir"`
	OutputDir    string             `json:"outputDir"`
	HistoryDB    string             `json:"historyDb"`
	Construction ConstructionConfig `json:"construction"`
	Solve        SolveConfig        `json:"solve"`
}

// Read loads the configuration file at path. Construction keys that are left
// out keep the engine defaults, so a minimal config only names the input
// directory.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	config := Config{Construction: defaultConstruction()}
	err = json.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if config.InputDir == "" {
		return Config{}, fmt.Errorf("config is missing inputDir")
	}
	if config.OutputDir == "" {
		config.OutputDir = "results"
	}

	return config, nil
}

func defaultConstruction() ConstructionConfig {
	d := dataset.DefaultConfig()
	return ConstructionConfig{
		RefBus:         d.RefBus,
		DemandShedCost: d.DemandShedCost,
		RenewShedCost:  d.RenewShedCost,
		Phase:          d.Phase,
		VMin:           d.VMin,
		VMax:           d.VMax,
		SBase:          d.SBase,
		ScaleFactor:    d.ScaleFactor,
	}
}

// DatasetConfig converts the construction section into the loader's form.
func (c ConstructionConfig) DatasetConfig() dataset.Config {
	return dataset.Config{
		RefBus:         c.RefBus,
		DemandShedCost: c.DemandShedCost,
		RenewShedCost:  c.RenewShedCost,
		Phase:          c.Phase,
		VMin:           c.VMin,
		VMax:           c.VMax,
		SBase:          c.SBase,
		ScaleFactor:    c.ScaleFactor,
	}
}

// SolveOptions converts the solve section into the planner's form.
func (s SolveConfig) SolveOptions() planner.SolveOptions {
	return planner.SolveOptions{
		Invest:        s.Invest,
		OnlyOpr:       s.OnlyOpr,
		Commit:        s.Commit,
		Solver:        s.Solver,
		SolverOptions: s.SolverOptions,
		TimeLimit:     time.Duration(s.TimeLimitSecs) * time.Second,
	}
}
