package leveraged

import (
	"fmt"
	"math"

	"leveraged/internal/trading/pricing"
	apperrors "leveraged/pkg/errors"
)

// MinMax is a price interval
type MinMax = pricing.MinMax

// Config holds the immutable strategy parameters. One Config is shared by every
// State of a strategy lineage.
type Config struct {
	Power             float64 `yaml:"power" json:"power"`
	Asym              float64 `yaml:"asym" json:"asym"`
	MaxLoss           float64 `yaml:"max_loss" json:"max_loss"`
	Reduction         float64 `yaml:"reduction" json:"reduction"`
	DynRed            float64 `yaml:"dynred" json:"dynred"`
	ExternalBalance   float64 `yaml:"external_balance" json:"external_balance"`
	PowAdj            float64 `yaml:"powadj" json:"powadj"`
	InitBoost         float64 `yaml:"initboost" json:"initboost"`
	DetectTrend       bool    `yaml:"detect_trend" json:"detect_trend"`
	RecalcKeepNeutral bool    `yaml:"recalc_keep_neutral" json:"recalc_keep_neutral"`
	LongOnly          bool    `yaml:"longonly" json:"longonly"`
	FastClose         bool    `yaml:"fastclose" json:"fastclose"`
	SlowOpen          bool    `yaml:"slowopen" json:"slowopen"`
	ReinvestProfit    bool    `yaml:"reinvest_profit" json:"reinvest_profit"`
}

// Validate rejects parameters no curve can be fitted with
func (c *Config) Validate() error {
	nonNegative := map[string]float64{
		"max_loss":         c.MaxLoss,
		"reduction":        c.Reduction,
		"dynred":           c.DynRed,
		"external_balance": c.ExternalBalance,
		"powadj":           c.PowAdj,
		"initboost":        c.InitBoost,
	}
	if !(c.Power > 0) || !isFinite(c.Power) {
		return fmt.Errorf("%w: power must be positive, got %v", apperrors.ErrInvalidConfiguration, c.Power)
	}
	if !(c.Asym > -1 && c.Asym < 1) {
		return fmt.Errorf("%w: asym must be within (-1, 1), got %v", apperrors.ErrInvalidConfiguration, c.Asym)
	}
	for name, v := range nonNegative {
		if !(v >= 0) || !isFinite(v) {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", apperrors.ErrInvalidConfiguration, name, v)
		}
	}
	return nil
}

// State is the strategy snapshot replaced wholesale on every transition
type State struct {
	NeutralPrice float64 `json:"neutral_price"`
	LastPrice    float64 `json:"last_price"`
	Position     float64 `json:"position"`
	Bal          float64 `json:"bal"`
	Val          float64 `json:"val"`
	RedBal       float64 `json:"redbal"`
	Power        float64 `json:"power"`
	NeutralPos   float64 `json:"neutral_pos"`
	TrendCntr    int64   `json:"trend_cntr"`
}

func (st State) finite() bool {
	for _, v := range []float64{st.NeutralPrice, st.LastPrice, st.Position, st.Bal, st.Val, st.RedBal, st.Power, st.NeutralPos} {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// MarketInfo is the instrument metadata supplied by the broker layer
type MarketInfo struct {
	Asset         string  `yaml:"asset" json:"asset"`
	Currency      string  `yaml:"currency" json:"currency"`
	Leveraged     bool    `yaml:"leveraged" json:"leveraged"`
	InvertPrice   bool    `yaml:"invert_price" json:"invert_price"`
	PriceDecimals int     `yaml:"price_decimals" json:"price_decimals"`
	QtyDecimals   int     `yaml:"qty_decimals" json:"qty_decimals"`
	MinSize       float64 `yaml:"min_size" json:"min_size"`
	Fees          float64 `yaml:"fees" json:"fees"`
}

// Instrument extracts the flags the pricing model depends on
func (m MarketInfo) Instrument() pricing.Instrument {
	return pricing.Instrument{Leveraged: m.Leveraged, InvertPrice: m.InvertPrice}
}

// Ticker is the current top of book
type Ticker struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Price returns the last price, falling back to the mid price
func (t Ticker) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return (t.Bid + t.Ask) / 2
}

// Alert classifies an order recommendation
type Alert int

const (
	AlertEnabled Alert = iota
	AlertForced
	AlertStoploss
)

func (a Alert) String() string {
	switch a {
	case AlertEnabled:
		return "enabled"
	case AlertForced:
		return "forced"
	case AlertStoploss:
		return "stoploss"
	default:
		return "unknown"
	}
}

// OrderData is an order recommendation. Size is signed: positive buys.
type OrderData struct {
	Price float64
	Size  float64
	Alert Alert
}

// BudgetInfo reports the balance this strategy accounts for
type BudgetInfo struct {
	TotalBalance float64 `json:"total_balance"`
	Reserved     float64 `json:"reserved"`
}

// TradeResult is the settlement report of OnTrade
type TradeResult struct {
	// NormProfit is the profit beyond the curve's expected value change
	NormProfit float64
	// Price0 is the curve center after the trade
	Price0 float64
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sign(v float64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func strictlyBetween(x, a, b float64) bool {
	return x > math.Min(a, b) && x < math.Max(a, b)
}
