package pricing

import "math"

// ExponentialName identifies the exponential curve family
const ExponentialName = "exponential"

// Exponential places price exponentially in position, i.e. the position is
// logarithmic in price:
//
//	p(x) = P*ln(c/x)
//	V(x) = P*(x*ln(c/x) + x - c)
//
// The loss toward zero price is bounded by P*c.
type Exponential struct {
	binding
}

func (Exponential) Name() string { return ExponentialName }

func (Exponential) Init(inst Instrument) Calculator {
	return Exponential{binding: bind(inst)}
}

func (Exponential) Power(price, balance, asym float64) float64 {
	return balance / price
}

func (Exponential) Price0(neutral, asym float64) float64 {
	return price0(neutral, asym)
}

func (Exponential) NeutralFromPrice0(asym, p0 float64) float64 {
	return neutralFromPrice0(asym, p0)
}

func (Exponential) Position(power, asym, neutral, price float64) float64 {
	return power * math.Log(price0(neutral, asym)/price)
}

func (Exponential) PriceFromPosition(power, asym, neutral, position float64) float64 {
	return price0(neutral, asym) * math.Exp(-position/power)
}

func (Exponential) Neutral(power, asym, position, price float64) float64 {
	c := price * math.Exp(position/power)
	if !(c > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, c)
}

func exponentialValue(power, c, price float64) float64 {
	return power * (price*math.Log(c/price) + price - c)
}

func (Exponential) PosValue(power, asym, neutral, price float64) float64 {
	return exponentialValue(power, price0(neutral, asym), price)
}

func (Exponential) NeutralFromValue(power, asym, neutral, value, price float64) float64 {
	if value > 0 || !(power > 0) {
		return math.NaN()
	}
	if value == 0 {
		return neutralFromPrice0(asym, price)
	}
	f := func(c float64) float64 { return exponentialValue(power, c, price) - value }
	var c float64
	if price0(neutral, asym) >= price {
		hi, ok := bracketAbove(f, price)
		if !ok {
			return math.NaN()
		}
		c = bisect(f, price, hi, false)
	} else {
		c = bisect(f, 0, price, true)
	}
	if !(c > 0) {
		return math.NaN()
	}
	return neutralFromPrice0(asym, c)
}

func (Exponential) Roots(power, asym, neutral, lossLimit float64) MinMax {
	c := price0(neutral, asym)
	if degenerate(power, lossLimit) {
		return MinMax{Min: c, Max: c}
	}
	f := func(x float64) float64 { return exponentialValue(power, c, x) + lossLimit }
	lo := 0.0
	if lossLimit < power*c {
		lo = bisect(f, 0, c, true)
	}
	hi, ok := bracketAbove(f, c)
	if !ok {
		return MinMax{Min: lo, Max: math.Inf(1)}
	}
	return MinMax{Min: lo, Max: bisect(f, c, hi, false)}
}
