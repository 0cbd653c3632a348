package leveraged

import "math"

// calcMaxLoss returns the loss budget the roots are solved for
func (s *Strategy) calcMaxLoss() float64 {
	loss := s.cfg.MaxLoss
	if !(loss > 0) {
		loss = s.cfg.ExternalBalance + s.st.Bal
	}
	if s.st.Val < 0 {
		loss += s.st.Val
	}
	return math.Max(loss, 0)
}

// calcRoots is computed once per state
func (s *Strategy) calcRoots() MinMax {
	s.rootsOnce.Do(func() {
		st := s.st
		s.roots = s.calc.Roots(st.Power, s.calcAsym(), st.NeutralPrice, s.calcMaxLoss())
	})
	return s.roots
}

// CalcSafeRange returns the price interval the strategy can follow without
// exceeding its loss budget or running out of assets or currency
func (s *Strategy) CalcSafeRange(mi MarketInfo, assets, currency float64) MinMax {
	r := s.calcRoots()
	st := s.st
	asym := s.calcAsym()

	if !mi.Leveraged {
		ceil := s.calc.PriceFromPosition(st.Power, asym, st.NeutralPrice, -st.NeutralPos)
		if isFinite(ceil) && ceil > 0 {
			r.Max = math.Min(r.Max, ceil)
		}
		maxPos := assets - st.NeutralPos + currency/st.LastPrice
		floor := s.calc.PriceFromPosition(st.Power, asym, st.NeutralPrice, maxPos)
		if isFinite(floor) {
			r.Min = math.Max(r.Min, floor)
		}
	}
	if s.cfg.LongOnly {
		r.Max = math.Min(r.Max, s.calc.Price0(st.NeutralPrice, asym))
	}
	return r
}

// GetEquilibrium returns the price at which the curve holds assets
func (s *Strategy) GetEquilibrium(assets float64) float64 {
	st := s.st
	return s.calc.PriceFromPosition(st.Power, s.calcAsym(), st.NeutralPrice, assets-st.NeutralPos)
}

// GetBudgetInfo reports the total and the reserved (not reinvested) balance
func (s *Strategy) GetBudgetInfo() BudgetInfo {
	return BudgetInfo{
		TotalBalance: s.st.Bal + s.cfg.ExternalBalance,
		Reserved:     math.Max(0, s.st.Bal-s.st.RedBal),
	}
}

// CalcCurrencyAllocation returns the wallet currency this strategy claims.
// An external balance is not wallet money, so only Bal counts.
func (s *Strategy) CalcCurrencyAllocation() float64 {
	return math.Max(0, s.st.Bal)
}
