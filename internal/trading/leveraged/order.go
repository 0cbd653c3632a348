package leveraged

import (
	"fmt"
	"math"

	apperrors "leveraged/pkg/errors"
)

const (
	// leverage above which order placement is moderated
	highLeverage = 2.0
	// leverage above which moderation applies while the position is at a loss
	lossLeverage = 0.5
	// fastCloseSteps bounds the break-even search under high leverage
	fastCloseSteps = 20
)

// GetNewOrder recommends an order toward newPrice. dir is the side of the
// order being placed: positive buys, negative sells.
func (s *Strategy) GetNewOrder(mi MarketInfo, curPrice, newPrice float64, dir int, assets, currency float64, isRetry bool) (OrderData, error) {
	for _, p := range []float64{curPrice, newPrice} {
		if !(p > 0) || !isFinite(p) {
			return OrderData{}, fmt.Errorf("%w: order price %v", apperrors.ErrInvalidPrice, p)
		}
	}
	cur := s
	if !s.IsValid() {
		var err error
		if cur, err = s.init(mi, curPrice, assets, currency); err != nil {
			return OrderData{}, err
		}
	}

	if od, ok := cur.stopLoss(mi, curPrice, dir, assets, currency); ok {
		return od, nil
	}

	st := cur.st
	balance := st.Bal + cur.cfg.ExternalBalance
	lev := math.Abs(st.Position) * st.LastPrice / balance
	price := newPrice
	d := float64(dir)

	if !isRetry && (lev > highLeverage || (lev > lossLeverage && st.Val < 0)) {
		switch {
		case cur.cfg.FastClose && d*st.Position < 0:
			price = cur.fastClosePrice(curPrice, newPrice, lev, balance)
		case cur.cfg.SlowOpen && d*st.Position > 0:
			price = cur.slowOpenPrice(curPrice, newPrice, dir)
		}
	}

	desired := cur.calcPosition(price)
	od := OrderData{
		Price: price,
		Size:  desired - (assets - st.NeutralPos),
		Alert: AlertEnabled,
	}
	if desired == 0 {
		od.Alert = AlertForced
	}
	return od, nil
}

// stopLoss emits a closing order once the price escapes the loss bound
func (s *Strategy) stopLoss(mi MarketInfo, curPrice float64, dir int, assets, currency float64) (OrderData, bool) {
	if !(s.cfg.MaxLoss > 0) {
		return OrderData{}, false
	}
	if s.calcRoots().Contains(curPrice) {
		return OrderData{}, false
	}
	_, sim, err := s.OnTrade(mi, curPrice, 0, assets, currency)
	if err != nil {
		return OrderData{Price: curPrice, Alert: AlertStoploss}, true
	}
	r := sim.calcRoots()
	if (dir < 0 && curPrice < r.Min) || (dir > 0 && curPrice > r.Max) {
		return OrderData{
			Price: curPrice,
			Size:  -(assets - s.st.NeutralPos),
			Alert: AlertStoploss,
		}, true
	}
	return OrderData{Price: curPrice, Alert: AlertStoploss}, true
}

// fastClosePrice pulls a closing order to the break-even price when it lies
// between the market and the target. Under high leverage it moves further
// toward the last fill until the simulated leverage drops by one.
func (s *Strategy) fastClosePrice(curPrice, newPrice, lev, balance float64) float64 {
	st := s.st
	if st.Position == 0 {
		return newPrice
	}
	be := st.LastPrice - st.Val/st.Position
	if !isFinite(be) || !strictlyBetween(be, curPrice, newPrice) {
		return newPrice
	}
	if !(lev > highLeverage) {
		return be
	}

	target := lev - 1
	levAt := func(x float64) float64 {
		return math.Abs(s.calcPosition(x)) * x / balance
	}
	if !(levAt(be) < target) {
		return be
	}
	a, b := st.LastPrice, be
	for i := 0; i < fastCloseSteps; i++ {
		m := (a + b) / 2
		if levAt(m) < target {
			b = m
		} else {
			a = m
		}
	}
	if !strictlyBetween(b, curPrice, newPrice) {
		return be
	}
	return b
}

// slowOpenPrice dampens an opening order to the price at which the curve value
// change is covered by the held position
func (s *Strategy) slowOpenPrice(curPrice, newPrice float64, dir int) float64 {
	st := s.st
	if st.Position == 0 {
		return newPrice
	}
	asym := s.calcAsym()
	dv := s.calc.PosValue(st.Power, asym, st.NeutralPrice, newPrice) -
		s.calc.PosValue(st.Power, asym, st.NeutralPrice, curPrice)
	implied := curPrice + dv/st.Position
	if !isFinite(implied) || !(implied > 0) {
		return newPrice
	}
	if (dir > 0 && implied < newPrice) || (dir < 0 && implied > newPrice) {
		return implied
	}
	return newPrice
}
