package pricing

import "math"

// LinearName identifies the linear curve family
const LinearName = "linear"

// Linear holds a position that falls linearly with price:
//
//	p(x) = P*(1 - x/c)
//	V(x) = -P*(x-c)^2/(2c)
//
// All functions have closed forms.
type Linear struct {
	binding
}

func (Linear) Name() string { return LinearName }

func (Linear) Init(inst Instrument) Calculator {
	return Linear{binding: bind(inst)}
}

func (Linear) Power(price, balance, asym float64) float64 {
	return balance / price
}

func (Linear) Price0(neutral, asym float64) float64 {
	return price0(neutral, asym)
}

func (Linear) NeutralFromPrice0(asym, p0 float64) float64 {
	return neutralFromPrice0(asym, p0)
}

func (Linear) Position(power, asym, neutral, price float64) float64 {
	c := price0(neutral, asym)
	return power * (1 - price/c)
}

func (Linear) PriceFromPosition(power, asym, neutral, position float64) float64 {
	c := price0(neutral, asym)
	return c * (1 - position/power)
}

func (Linear) Neutral(power, asym, position, price float64) float64 {
	r := 1 - position/power
	if !(r > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, price/r)
}

func (Linear) PosValue(power, asym, neutral, price float64) float64 {
	c := price0(neutral, asym)
	d := price - c
	return -power * d * d / (2 * c)
}

func (Linear) NeutralFromValue(power, asym, neutral, value, price float64) float64 {
	if value > 0 || !(power > 0) {
		return math.NaN()
	}
	if value == 0 {
		return neutralFromPrice0(asym, price)
	}
	// P*(x-c)^2 = 2*c*v, solved for c
	v := -value
	base := price + v/power
	disc := math.Sqrt(v*v+2*power*price*v) / power
	var c float64
	if price0(neutral, asym) >= price {
		c = base + disc
	} else {
		c = base - disc
	}
	if !(c > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, c)
}

func (Linear) Roots(power, asym, neutral, lossLimit float64) MinMax {
	c := price0(neutral, asym)
	if degenerate(power, lossLimit) {
		return MinMax{Min: c, Max: c}
	}
	d := math.Sqrt(2 * c * lossLimit / power)
	return MinMax{Min: math.Max(c-d, 0), Max: c + d}
}
