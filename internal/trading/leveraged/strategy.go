// Package leveraged implements a position-tracking strategy that maps market
// price to a target position through a pluggable pricing curve.
//
// A Strategy value is immutable once returned: every transition (OnIdle,
// OnTrade, ImportState, Reset) yields a new *Strategy that shares the Config
// and the calculator with its predecessor. Callers serialize transitions and
// swap the current value; readers may keep using an older value safely.
package leveraged

import (
	"fmt"
	"math"
	"sync"

	"leveraged/internal/core"
	"leveraged/internal/trading/pricing"
	apperrors "leveraged/pkg/errors"
)

const (
	// fitPasses is the number of alternating power/neutral refinements
	fitPasses = 100
	// trendScale is the trend counter magnitude mapped to a full asym factor
	trendScale = 1000
)

// Strategy is one immutable state of the leveraged strategy
type Strategy struct {
	calc pricing.Calculator
	cfg  *Config
	adj  core.IBalanceAdjuster
	st   State

	rootsOnce sync.Once
	roots     MinMax
}

// New creates an uninitialized strategy. The first OnIdle or OnTrade fits it to
// the market. adj may be nil.
func New(calc pricing.Calculator, cfg *Config, adj core.IBalanceAdjuster) *Strategy {
	return &Strategy{calc: calc, cfg: cfg, adj: adj}
}

// NewFromState creates a strategy holding st verbatim
func NewFromState(calc pricing.Calculator, cfg *Config, adj core.IBalanceAdjuster, st State) *Strategy {
	return &Strategy{calc: calc, cfg: cfg, adj: adj, st: st}
}

func (s *Strategy) derive(st State) *Strategy {
	return &Strategy{calc: s.calc, cfg: s.cfg, adj: s.adj, st: st}
}

// State returns a copy of the current state
func (s *Strategy) State() State { return s.st }

// Config returns the shared configuration
func (s *Strategy) Config() *Config { return s.cfg }

// ID returns the strategy identifier
func (s *Strategy) ID() string {
	return "leveraged_" + s.calc.Name()
}

// IsValid reports whether the state satisfies the engine invariants
func (s *Strategy) IsValid() bool {
	return s.soundExceptPower() && s.st.Power > 0
}

func (s *Strategy) soundExceptPower() bool {
	st := s.st
	return st.finite() &&
		st.NeutralPrice > 0 &&
		st.LastPrice > 0 &&
		st.Bal+s.cfg.ExternalBalance > 0 &&
		st.RedBal+s.cfg.ExternalBalance > 0
}

// Reset returns an empty strategy with the same configuration
func (s *Strategy) Reset() *Strategy {
	return s.derive(State{})
}

// OnIdle keeps the strategy fitted between trades
func (s *Strategy) OnIdle(mi MarketInfo, ticker Ticker, assets, currency float64) (*Strategy, error) {
	if s.soundExceptPower() && !(s.st.Power > 0) {
		st := s.st
		recalcNewState(s.calc, s.cfg, &st)
		nw := s.derive(st)
		if !nw.IsValid() {
			return nil, fmt.Errorf("%w: power could not be recovered", apperrors.ErrInvalidConfiguration)
		}
		return nw, nil
	}
	if !s.IsValid() {
		return s.init(mi, ticker.Price(), assets, currency)
	}
	return s.derive(s.st), nil
}

// OnTrade settles an execution and refits the curve. A trade that leaves the
// state invalid is not an error: the next event re-initializes it from the
// account balances.
func (s *Strategy) OnTrade(mi MarketInfo, tradePrice, tradeSize, assetsLeft, currencyLeft float64) (TradeResult, *Strategy, error) {
	if !(tradePrice > 0) || !isFinite(tradePrice) {
		return TradeResult{}, nil, fmt.Errorf("%w: trade price %v", apperrors.ErrInvalidPrice, tradePrice)
	}
	cur := s
	if !s.IsValid() {
		var err error
		if cur, err = s.init(mi, tradePrice, assetsLeft-tradeSize, currencyLeft); err != nil {
			return TradeResult{}, nil, err
		}
	}
	return cur.settle(tradePrice, tradeSize, assetsLeft)
}

func (s *Strategy) settle(tradePrice, tradeSize, assetsLeft float64) (TradeResult, *Strategy, error) {
	calc, cfg := s.calc, s.cfg
	prev := s.st
	st := s.st

	newPos := assetsLeft - st.NeutralPos
	curvePos := s.calcPosition(tradePrice)

	if tradeSize*prev.Position < 0 && math.Abs(tradeSize) > math.Abs(prev.Position)/2 {
		st.TrendCntr += sign(tradeSize) - st.TrendCntr/trendScale
	}
	asym := calcAsym(cfg, st)

	posProfit := prev.Position * (tradePrice - prev.LastPrice)
	st.Position = newPos
	st.LastPrice = tradePrice
	recalcNeutral(calc, cfg, &st)

	val := calc.PosValue(st.Power, asym, st.NeutralPrice, tradePrice)
	extra := posProfit - (val - prev.Val)
	if isFinite(extra) {
		st.Bal += extra
	} else {
		extra = 0
	}
	if tradePrice > prev.LastPrice {
		if cfg.ReinvestProfit {
			st.RedBal = st.Bal
		} else if st.Bal > st.RedBal {
			st.Bal = st.RedBal
		}
	}

	recalcPower(calc, cfg, &st, curvePos)
	recalcNeutral(calc, cfg, &st)
	st.Val = calc.PosValue(st.Power, asym, st.NeutralPrice, tradePrice)

	// An invalid result is kept and re-initialized by the next event. Numbers
	// that cannot be stored are dropped entirely.
	nw := s.derive(st)
	if !st.finite() {
		nw = s.Reset()
	}
	price0 := calc.Price0(st.NeutralPrice, asym)
	if !isFinite(price0) {
		price0 = 0
	}
	return TradeResult{
		NormProfit: extra,
		Price0:     price0,
	}, nw, nil
}

// init fits a fresh state to the account at price
func (s *Strategy) init(mi MarketInfo, price, assets, currency float64) (*Strategy, error) {
	if !(price > 0) || !isFinite(price) {
		return nil, fmt.Errorf("%w: cannot initialize at price %v", apperrors.ErrInvalidPrice, price)
	}
	calc := s.calc
	if inst := mi.Instrument(); !calc.IsValid(inst) {
		calc = calc.Init(inst)
	}
	if s.adj != nil {
		currency = s.adj.AdjBalance(currency)
	}

	total, offset := initialBalance(s.cfg, mi.Leveraged, price, assets, currency)
	if !(total > 0) || !isFinite(total) {
		// nothing to trade with yet, use a placeholder budget of one unit
		total = price
	}
	st := State{
		NeutralPrice: price,
		LastPrice:    price,
		Position:     assets - offset,
		Bal:          total - s.cfg.ExternalBalance,
		NeutralPos:   offset,
	}
	recalcNewState(calc, s.cfg, &st)
	st.RedBal = st.Bal

	nw := &Strategy{calc: calc, cfg: s.cfg, adj: s.adj, st: st}
	if !nw.IsValid() {
		return nil, fmt.Errorf("%w: unable to fit curve at price %v", apperrors.ErrInvalidConfiguration, price)
	}
	return nw, nil
}

// initialBalance returns the strategy budget and the asset offset treated as
// neutral inventory
func initialBalance(cfg *Config, leveraged bool, price, assets, currency float64) (float64, float64) {
	if leveraged {
		if cfg.ExternalBalance > 0 {
			return cfg.ExternalBalance, 0
		}
		return currency, 0
	}
	md := assets + currency/price
	if cfg.ExternalBalance > 0 {
		return cfg.ExternalBalance, md / 2
	}
	return md * price / 2, md / 2
}

// CalcInitialPosition returns the position a fresh strategy would hold
func (s *Strategy) CalcInitialPosition(mi MarketInfo, price, assets, currency float64) float64 {
	if mi.Leveraged {
		return 0
	}
	_, offset := initialBalance(s.cfg, false, price, assets, currency)
	return offset
}

func calcAsym(cfg *Config, st State) float64 {
	if !cfg.DetectTrend {
		return cfg.Asym
	}
	return cfg.Asym * trendFactor(st)
}

func trendFactor(st State) float64 {
	return clamp(float64(st.TrendCntr)/trendScale, -1, 1)
}

func (s *Strategy) calcAsym() float64 {
	return calcAsym(s.cfg, s.st)
}

// recalcNewState alternates power and neutral refinement, then records the
// curve value at the last price
func recalcNewState(calc pricing.Calculator, cfg *Config, st *State) {
	asym := calcAsym(cfg, *st)
	for i := 0; i < fitPasses; i++ {
		implied := calc.Position(st.Power, asym, st.NeutralPrice, st.LastPrice)
		recalcPower(calc, cfg, st, implied)
		recalcNeutral(calc, cfg, st)
	}
	st.Val = calc.PosValue(st.Power, asym, st.NeutralPrice, st.LastPrice)
}

// recalcPower sizes the curve to the balance. A mismatch between the implied
// and the held position grows the effective balance by powadj.
func recalcPower(calc pricing.Calculator, cfg *Config, st *State, implied float64) {
	asym := calcAsym(cfg, *st)
	adjbal := math.Abs(st.Bal+cfg.ExternalBalance) + math.Abs(implied-st.Position)*st.LastPrice*cfg.PowAdj
	power := calc.Power(st.NeutralPrice, adjbal, asym) * cfg.Power
	if isFinite(power) && power > 0 {
		st.Power = power
	}
}

func recalcNeutral(calc pricing.Calculator, cfg *Config, st *State) {
	n := calc.Neutral(st.Power, calcAsym(cfg, *st), st.Position, st.LastPrice)
	if isFinite(n) && n > 0 {
		st.NeutralPrice = n
	}
}

// calcPosition returns the position the curve wants at price
func (s *Strategy) calcPosition(price float64) float64 {
	calc, cfg, st := s.calc, s.cfg, s.st
	asym := s.calcAsym()

	if cfg.MaxLoss > 0 {
		r := s.calcRoots()
		price = clamp(price, r.Min, r.Max)
	}

	neutral := st.NeutralPrice
	if reduction := s.reduction(price); reduction > 0 && price > st.LastPrice {
		profit := st.Position*(price-st.LastPrice) + math.Max(0, st.Bal-st.RedBal)
		neutral = s.reducedNeutral(profit, price, reduction)
	}

	pos := calc.Position(st.Power, asym, neutral, price)
	if cfg.InitBoost > 0 {
		before := calc.Position(st.Power, asym, st.NeutralPrice, st.LastPrice)
		shifted := calc.Position(st.Power, asym, neutral, st.LastPrice)
		if (pos-before)*(shifted-before) < 0 {
			pos = st.Position + (pos-st.Position)*math.Exp2(cfg.InitBoost)
		}
	}
	if cfg.LongOnly && !(pos >= 0) {
		pos = 0
	}
	return pos
}

// reduction combines the static and the distance-driven reduction factors
func (s *Strategy) reduction(price float64) float64 {
	cfg := s.cfg
	if cfg.Reduction == 0 && cfg.DynRed == 0 {
		return 0
	}
	var dyn float64
	if cfg.DynRed > 0 {
		r := s.calcRoots()
		width := r.Max - r.Min
		center := s.calc.Price0(s.st.NeutralPrice, s.calcAsym())
		if width > 0 && isFinite(width) {
			dyn = math.Min(1, cfg.DynRed*math.Abs(price-center)/width)
		}
	}
	return math.Sqrt(cfg.Reduction*cfg.Reduction + dyn*dyn)
}

// reducedNeutral moves the neutral price toward the point where the curve
// value has absorbed profit
func (s *Strategy) reducedNeutral(profit, price, reduction float64) float64 {
	calc, st := s.calc, s.st
	asym := s.calcAsym()
	n := st.NeutralPrice

	target := calc.PosValue(st.Power, asym, n, price) + profit
	var tn float64
	if target >= 0 {
		tn = calc.NeutralFromPrice0(asym, price)
	} else {
		tn = calc.NeutralFromValue(st.Power, asym, n, target, price)
	}
	if !isFinite(tn) || !(tn > 0) {
		return n
	}
	res := n + (tn-n)*2*reduction
	if !isFinite(res) || !(res > 0) {
		return n
	}
	return res
}
