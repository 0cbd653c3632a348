package leveraged

import "math"

// DumpStatePretty renders the state for a human operator, in the price
// orientation the operator sees
func (s *Strategy) DumpStatePretty(mi MarketInfo) map[string]interface{} {
	st := s.st
	asym := s.calcAsym()
	pr := func(p float64) float64 {
		if mi.InvertPrice {
			return 1 / p
		}
		return p
	}
	pos := st.Position
	if mi.InvertPrice {
		pos = -pos
	}
	roots := s.calcRoots()
	lo, hi := pr(roots.Min), pr(roots.Max)
	if lo > hi {
		lo, hi = hi, lo
	}

	out := map[string]interface{}{
		"Strategy":         s.ID(),
		"Neutral price":    pr(st.NeutralPrice),
		"Center price":     pr(s.calc.Price0(st.NeutralPrice, asym)),
		"Last price":       pr(st.LastPrice),
		"Position":         pos,
		"Power":            st.Power,
		"Balance":          st.Bal + s.cfg.ExternalBalance,
		"Reserved balance": math.Max(0, st.Bal-st.RedBal),
		"Unrealized value": st.Val,
		"Safe range min":   lo,
		"Safe range max":   hi,
		"Max loss":         s.calcMaxLoss(),
	}
	if bal := st.Bal + s.cfg.ExternalBalance; bal > 0 {
		out["Leverage"] = math.Abs(st.Position) * st.LastPrice / bal
	}
	if s.cfg.DetectTrend {
		out["Trend %"] = trendFactor(st) * 100
	}
	if !mi.Leveraged {
		out["Neutral position"] = st.NeutralPos
	}
	return out
}
