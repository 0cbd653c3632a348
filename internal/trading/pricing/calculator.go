// Package pricing defines the pricing model contract consumed by the leveraged
// strategy engine and the concrete curve families implementing it.
//
// A curve maps price to position for a given power (steepness), asymmetry and
// neutral price. All curves share the same center convention: the curve holds a
// zero position at Price0 = neutral*(1+asym), and its value (the unrealized P&L
// of following the curve from the center) is zero there and negative elsewhere.
//
// Every function is pure. Degenerate inputs yield NaN or Inf rather than errors;
// callers decide whether to keep a previous value.
package pricing

import (
	"fmt"
	"sort"

	apperrors "leveraged/pkg/errors"
)

// MinMax is a closed price interval
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether price lies inside the interval
func (m MinMax) Contains(price float64) bool {
	return price >= m.Min && price <= m.Max
}

// Instrument carries the market metadata a curve depends on
type Instrument struct {
	Leveraged   bool
	InvertPrice bool
}

// Calculator is the pricing model capability
type Calculator interface {
	Name() string

	// Power solves the leverage multiplier matching balance at price
	Power(price, balance, asym float64) float64
	// Price0 returns the center price of the curve
	Price0(neutral, asym float64) float64
	Position(power, asym, neutral, price float64) float64
	PriceFromPosition(power, asym, neutral, position float64) float64
	// Neutral returns the neutral price at which the curve holds position at price
	Neutral(power, asym, position, price float64) float64
	NeutralFromPrice0(asym, price0 float64) float64
	// NeutralFromValue relocates the neutral price so the curve value at price
	// equals value. The current neutral selects the branch.
	NeutralFromValue(power, asym, neutral, value, price float64) float64
	PosValue(power, asym, neutral, price float64) float64
	// Roots returns the prices where the curve value reaches -lossLimit
	Roots(power, asym, neutral, lossLimit float64) MinMax

	Init(inst Instrument) Calculator
	IsValid(inst Instrument) bool
}

type factory func() Calculator

var registry = map[string]factory{
	LinearName:      func() Calculator { return Linear{} },
	InverseName:     func() Calculator { return Inverse{} },
	ExponentialName: func() Calculator { return Exponential{} },
}

// New returns an unbound calculator of the named family
func New(name string) (Calculator, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownCalculator, name)
	}
	return f(), nil
}

// Names lists registered curve families
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// binding records the instrument a calculator was initialized for
type binding struct {
	inst  Instrument
	bound bool
}

func (b binding) IsValid(inst Instrument) bool {
	return b.bound && b.inst == inst
}

func bind(inst Instrument) binding {
	return binding{inst: inst, bound: true}
}

func price0(neutral, asym float64) float64 {
	return neutral * (1 + asym)
}

func neutralFromPrice0(asym, p0 float64) float64 {
	return p0 / (1 + asym)
}
