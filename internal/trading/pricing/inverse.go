package pricing

import "math"

// InverseName identifies the inverse curve family
const InverseName = "inverse"

// Inverse holds a position inversely proportional to price:
//
//	p(x) = P*(c/x - 1)
//	V(x) = P*(c*ln(x/c) - (x - c))
//
// Long exposure is unbounded as price falls, short exposure is capped at -P.
type Inverse struct {
	binding
}

func (Inverse) Name() string { return InverseName }

func (Inverse) Init(inst Instrument) Calculator {
	return Inverse{binding: bind(inst)}
}

func (Inverse) Power(price, balance, asym float64) float64 {
	return balance / price
}

func (Inverse) Price0(neutral, asym float64) float64 {
	return price0(neutral, asym)
}

func (Inverse) NeutralFromPrice0(asym, p0 float64) float64 {
	return neutralFromPrice0(asym, p0)
}

func (Inverse) Position(power, asym, neutral, price float64) float64 {
	c := price0(neutral, asym)
	return power * (c/price - 1)
}

func (Inverse) PriceFromPosition(power, asym, neutral, position float64) float64 {
	r := 1 + position/power
	if !(r > 0) {
		return math.NaN()
	}
	return price0(neutral, asym) / r
}

func (Inverse) Neutral(power, asym, position, price float64) float64 {
	c := price * (1 + position/power)
	if !(c > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, c)
}

func inverseValue(power, c, price float64) float64 {
	return power * (c*math.Log(price/c) - (price - c))
}

func (Inverse) PosValue(power, asym, neutral, price float64) float64 {
	return inverseValue(power, price0(neutral, asym), price)
}

func (Inverse) NeutralFromValue(power, asym, neutral, value, price float64) float64 {
	if value > 0 || !(power > 0) {
		return math.NaN()
	}
	if value == 0 {
		return neutralFromPrice0(asym, price)
	}
	f := func(c float64) float64 { return inverseValue(power, c, price) - value }
	var c float64
	if price0(neutral, asym) >= price {
		hi, ok := bracketAbove(f, price)
		if !ok {
			return math.NaN()
		}
		c = bisect(f, price, hi, false)
	} else {
		// the value tends to -P*x as c approaches zero
		if -power*price-value >= 0 {
			return math.NaN()
		}
		c = bisect(f, 0, price, true)
	}
	if !(c > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, c)
}

func (Inverse) Roots(power, asym, neutral, lossLimit float64) MinMax {
	c := price0(neutral, asym)
	if degenerate(power, lossLimit) {
		return MinMax{Min: c, Max: c}
	}
	f := func(x float64) float64 { return inverseValue(power, c, x) + lossLimit }
	lo := bisect(f, 0, c, true)
	hi, ok := bracketAbove(f, c)
	if !ok {
		return MinMax{Min: lo, Max: math.Inf(1)}
	}
	return MinMax{Min: lo, Max: bisect(f, c, hi, false)}
}
