package pu

import "testing"

func TestNormalizerRoundTrip(t *testing.T) {

	type subTest struct {
		name  string
		sbase float64
		value float64
	}

	subTests := []subTest{
		{"unit base", 1, 90},
		{"kilo base", 1000, 340e3},
		{"fractional value", 500, 0.25},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			n, err := New(subTest.sbase, 1)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got := n.FromPU(n.ToPU(subTest.value))
			if got != subTest.value {
				t.Errorf("Got %f, expected %f", got, subTest.value)
			}
		})
	}
}

func TestNormalizerRejectsBadBase(t *testing.T) {

	type subTest struct {
		name  string
		sbase float64
		scale float64
	}

	subTests := []subTest{
		{"zero base", 0, 1},
		{"negative base", -10, 1},
		{"zero scale", 1, 0},
		{"negative scale", 1, -2},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			if _, err := New(subTest.sbase, subTest.scale); err == nil {
				t.Errorf("expected an error for sbase=%v scale=%v", subTest.sbase, subTest.scale)
			}
		})
	}
}

func TestOperationWeight(t *testing.T) {
	n, err := New(100, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// scale * sbase * dt
	if got := n.OperationWeight(365); got != 2*100*365 {
		t.Errorf("Got %f, expected %f", got, 2.0*100*365)
	}
	if got := n.InvestmentWeight(); got != 2 {
		t.Errorf("Got %f, expected 2", got)
	}
	// events are counted, not metered, so sbase does not apply
	if got := n.EventWeight(365); got != 2*365 {
		t.Errorf("Got %f, expected %f", got, 2.0*365)
	}
}
