// Package pu normalizes physical quantities onto a common per-unit base so
// that generation, storage and network figures are numerically comparable
// inside one optimization model.
package pu

import "fmt"

// Normalizer converts between physical units (kW, kWh) and per-unit values
// against a single base apparent power. One normalizer is built per run and
// every table in the run goes through the same instance.
type Normalizer struct {
	sbase float64 // base apparent power in kW
	scale float64 // scaling factor applied to all cost terms
}

// New returns a normalizer for the given base apparent power and cost scaling
// factor. Both must be strictly positive: there is no sensible way to coerce a
// zero or negative base and silently "fixing" it would distort every cost in
// the objective.
func New(sbase, scale float64) (Normalizer, error) {
	if sbase <= 0 {
		return Normalizer{}, fmt.Errorf("base apparent power must be positive, got %v", sbase)
	}
	if scale <= 0 {
		return Normalizer{}, fmt.Errorf("scaling factor must be positive, got %v", scale)
	}
	return Normalizer{sbase: sbase, scale: scale}, nil
}

// SBase returns the base apparent power in kW.
func (n Normalizer) SBase() float64 { return n.sbase }

// Scale returns the cost scaling factor.
func (n Normalizer) Scale() float64 { return n.scale }

// ToPU converts a physical power or energy value into per-unit.
func (n Normalizer) ToPU(v float64) float64 { return v / n.sbase }

// FromPU converts a per-unit value back into physical units.
func (n Normalizer) FromPU(v float64) float64 { return v * n.sbase }

// OperationWeight is the multiplier applied to a per-unit dispatch cost term
// for a scenario with duration weight dt, so that the objective is expressed
// in currency: scale * sbase * dt.
func (n Normalizer) OperationWeight(dt float64) float64 {
	return n.scale * n.sbase * dt
}

// EventWeight is the multiplier applied to per-event cost terms, such as
// generator startups, for a scenario with duration weight dt: scale * dt.
// Events are counted, not metered, so the power base does not apply.
func (n Normalizer) EventWeight(dt float64) float64 {
	return n.scale * dt
}

// InvestmentWeight is the multiplier applied to annualized investment costs.
func (n Normalizer) InvestmentWeight() float64 { return n.scale }
