package leveraged

import (
	"errors"
	"math"
	"testing"

	"leveraged/internal/trading/pricing"
	apperrors "leveraged/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	futures = MarketInfo{Asset: "BTC-PERP", Currency: "USD", Leveraged: true, PriceDecimals: 2, QtyDecimals: 4}
	spot    = MarketInfo{Asset: "BTC", Currency: "USD", PriceDecimals: 2, QtyDecimals: 4}
)

type halfAdjuster struct {
	calls int
}

func (h *halfAdjuster) AdjBalance(balance float64) float64 {
	h.calls++
	return balance / 2
}

func mustCalc(t *testing.T, name string) pricing.Calculator {
	t.Helper()
	c, err := pricing.New(name)
	require.NoError(t, err)
	return c
}

func initialized(t *testing.T, name string, cfg *Config, mi MarketInfo, price, assets, currency float64) *Strategy {
	t.Helper()
	s, err := New(mustCalc(t, name), cfg, nil).OnIdle(mi, Ticker{Last: price}, assets, currency)
	require.NoError(t, err)
	require.True(t, s.IsValid())
	return s
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "minimal", cfg: Config{Power: 1}},
		{name: "full", cfg: Config{Power: 3, Asym: -0.3, MaxLoss: 100, Reduction: 0.2, DynRed: 0.5, PowAdj: 0.1, InitBoost: 1}},
		{name: "zero power", cfg: Config{}, wantErr: true},
		{name: "asym at bound", cfg: Config{Power: 1, Asym: 1}, wantErr: true},
		{name: "negative loss", cfg: Config{Power: 1, MaxLoss: -1}, wantErr: true},
		{name: "nan reduction", cfg: Config{Power: 1, Reduction: math.NaN()}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrInvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOnIdle_InitializesLeveraged(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1}, futures, 100, 0, 1000)
	st := s.State()

	assert.Equal(t, 100.0, st.NeutralPrice)
	assert.Equal(t, 100.0, st.LastPrice)
	assert.Equal(t, 0.0, st.Position)
	assert.Equal(t, 0.0, st.NeutralPos)
	assert.InDelta(t, 1000, st.Bal, 1e-9)
	assert.Equal(t, st.Bal, st.RedBal)
	assert.InDelta(t, 10, st.Power, 1e-9)
	assert.InDelta(t, 0, st.Val, 1e-12)
	assert.Equal(t, "leveraged_linear", s.ID())
	assert.InDelta(t, 100, s.GetEquilibrium(0), 1e-9)
}

func TestOnIdle_InitializesSpot(t *testing.T) {
	cfg := &Config{Power: 1}
	s := initialized(t, pricing.LinearName, cfg, spot, 100, 1, 100)
	st := s.State()

	assert.InDelta(t, 1, st.NeutralPos, 1e-12)
	assert.InDelta(t, 0, st.Position, 1e-12)
	assert.InDelta(t, 100, st.Bal, 1e-9)
	assert.InDelta(t, 1, s.CalcInitialPosition(spot, 100, 1, 100), 1e-12)
	assert.Equal(t, 0.0, s.CalcInitialPosition(futures, 100, 1, 100))

	r := s.CalcSafeRange(spot, 1, 100)
	// selling every asset is reached at twice the neutral price
	assert.InDelta(t, 200, r.Max, 1e-9)
	assert.GreaterOrEqual(t, r.Min, 0.0)
}

func TestOnIdle_ExternalBalanceAndAdjuster(t *testing.T) {
	adj := &halfAdjuster{}
	s, err := New(mustCalc(t, pricing.LinearName), &Config{Power: 1}, adj).OnIdle(futures, Ticker{Last: 100}, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, adj.calls)
	assert.InDelta(t, 500, s.State().Bal, 1e-9)

	ext, err := New(mustCalc(t, pricing.LinearName), &Config{Power: 1, ExternalBalance: 300}, nil).
		OnIdle(futures, Ticker{Last: 100}, 0, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0, ext.State().Bal, 1e-12)
	assert.InDelta(t, 300, ext.GetBudgetInfo().TotalBalance, 1e-12)
	assert.InDelta(t, 3, ext.State().Power, 1e-9)
	assert.Equal(t, 0.0, ext.CalcCurrencyAllocation())
}

func TestOnIdle_RejectsInvalidPrice(t *testing.T) {
	_, err := New(mustCalc(t, pricing.LinearName), &Config{Power: 1}, nil).OnIdle(futures, Ticker{}, 0, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidPrice))
}

func TestOnIdle_IsIdempotent(t *testing.T) {
	s1 := initialized(t, pricing.InverseName, &Config{Power: 2, Asym: 0.1}, futures, 100, 0.5, 1000)
	s2, err := s1.OnIdle(futures, Ticker{Last: 103}, 0.5, 1000)
	require.NoError(t, err)
	s3, err := s2.OnIdle(futures, Ticker{Last: 97}, 0.5, 1000)
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, s1.State(), s2.State())
	assert.Equal(t, s2.State(), s3.State())
}

func TestOnIdle_RecoversCollapsedPower(t *testing.T) {
	st := State{NeutralPrice: 100, LastPrice: 100, Bal: 1000, RedBal: 1000}
	s := NewFromState(mustCalc(t, pricing.LinearName), &Config{Power: 1}, nil, st)
	require.False(t, s.IsValid())

	nw, err := s.OnIdle(futures, Ticker{Last: 120}, 0, 5)
	require.NoError(t, err)
	assert.True(t, nw.IsValid())
	assert.InDelta(t, 10, nw.State().Power, 1e-9)
	assert.Equal(t, 1000.0, nw.State().Bal)
	assert.Equal(t, 100.0, nw.State().LastPrice)
}

func TestOnTrade_PreservesInvariants(t *testing.T) {
	for _, name := range pricing.Names() {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{Power: 1, Reduction: 0.1, DynRed: 0.2, PowAdj: 0.05, InitBoost: 0.5, DetectTrend: true, Asym: 0.2}
			s := initialized(t, name, cfg, futures, 100, 0, 1000)
			assets := 0.0
			for i := 1; i <= 80; i++ {
				price := 100 * (1 + 0.15*math.Sin(float64(i)*0.3))
				size := s.calcPosition(price) - (assets - s.State().NeutralPos)
				assets += size

				res, nw, err := s.OnTrade(futures, price, size, assets, 1000)
				require.NoError(t, err, "step %d", i)
				require.True(t, nw.IsValid(), "step %d: %+v", i, nw.State())

				st := nw.State()
				assert.Equal(t, price, st.LastPrice)
				assert.InDelta(t, assets, st.Position+st.NeutralPos, 1e-9)
				assert.False(t, math.IsNaN(res.NormProfit))
				assert.Greater(t, res.Price0, 0.0)
				assert.LessOrEqual(t, math.Abs(trendFactor(st)), 1.0)
				s = nw
			}
		})
	}
}

func TestOnTrade_ProfitIsWithheldWithoutReinvest(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1}, futures, 100, 0, 1000)
	_, s, err := s.OnTrade(futures, 90, 1, 1, 1000)
	require.NoError(t, err)
	_, s, err = s.OnTrade(futures, 100, -1, 0, 1000)
	require.NoError(t, err)

	st := s.State()
	assert.LessOrEqual(t, st.Bal, st.RedBal)
	assert.Equal(t, 0.0, s.GetBudgetInfo().Reserved)
}

func TestOnTrade_ReinvestRaisesHighWaterMark(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1, ReinvestProfit: true}, futures, 100, 0, 1000)
	_, s, err := s.OnTrade(futures, 90, 1, 1, 1000)
	require.NoError(t, err)
	_, s, err = s.OnTrade(futures, 100, -1, 0, 1000)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, st.Bal, st.RedBal)
}

func TestOnTrade_DetectsTrendReversal(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1, Asym: 0.5, DetectTrend: true}, futures, 100, 0, 1000)
	_, s, err := s.OnTrade(futures, 95, 1, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.State().TrendCntr)

	_, s, err = s.OnTrade(futures, 100, -1, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), s.State().TrendCntr)
}

func TestOnTrade_InitializesInvalidState(t *testing.T) {
	_, s, err := New(mustCalc(t, pricing.ExponentialName), &Config{Power: 1}, nil).OnTrade(futures, 100, 0.5, 0.5, 1000)
	require.NoError(t, err)
	assert.True(t, s.IsValid())
	assert.InDelta(t, 0.5, s.State().Position, 1e-12)

	_, _, err = s.OnTrade(futures, 0, 1, 1, 1000)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidPrice))
}

func TestOnTrade_DegeneratedStateReinitializes(t *testing.T) {
	for _, name := range pricing.Names() {
		t.Run(name, func(t *testing.T) {
			s := initialized(t, name, &Config{Power: 1}, futures, 100, 0, 1000)
			_, s, err := s.OnTrade(futures, 100, -20, -20, 1000)
			require.NoError(t, err)
			require.True(t, s.IsValid())

			// a short this large cannot survive the price quadrupling
			res, s, err := s.OnTrade(futures, 400, -0.1, -20.1, 1000)
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.False(t, s.IsValid())
			assert.False(t, math.IsNaN(res.NormProfit))
			_, err = s.ExportState()
			require.NoError(t, err)

			s, err = s.OnIdle(futures, Ticker{Last: 400}, 0, 1000)
			require.NoError(t, err)
			assert.True(t, s.IsValid())
			assert.Equal(t, 400.0, s.State().LastPrice)
			assert.Equal(t, 0.0, s.State().Position)
		})
	}
}

func TestOnTrade_PowAdjInflatesPower(t *testing.T) {
	settle := func(powAdj float64) State {
		s := initialized(t, pricing.LinearName, &Config{Power: 1, PowAdj: powAdj}, futures, 100, 0, 1000)
		// the curve wants 1 at 90, the account holds 3
		_, nw, err := s.OnTrade(futures, 90, 3, 3, 1000)
		require.NoError(t, err)
		require.True(t, nw.IsValid())
		return nw.State()
	}

	base := settle(0)
	adjusted := settle(0.5)
	assert.Equal(t, base.Bal, adjusted.Bal)
	assert.Greater(t, adjusted.Power, base.Power)
	mismatch := 2 * 90 * 0.5
	assert.InDelta(t, (base.Bal+mismatch)/base.Bal, adjusted.Power/base.Power, 1e-9)
}

func TestCalcPosition_LongOnlyNeverShort(t *testing.T) {
	for _, name := range pricing.Names() {
		t.Run(name, func(t *testing.T) {
			s := initialized(t, name, &Config{Power: 1, LongOnly: true, Reduction: 0.3}, futures, 100, 0, 1000)
			for _, price := range []float64{-5, 0, 1, 50, 99, 100, 101, 150, 1e6} {
				assert.GreaterOrEqual(t, s.calcPosition(price), 0.0, "price %v", price)
			}
			assert.LessOrEqual(t, s.CalcSafeRange(futures, 0, 1000).Max, 100.0)
		})
	}
}

func TestCalcPosition_ReductionOnlyOnRise(t *testing.T) {
	calc := mustCalc(t, pricing.LinearName)
	st := State{NeutralPrice: 110, LastPrice: 100, Power: 10, Bal: 1000, RedBal: 1000}
	st.Position = calc.Position(st.Power, 0, st.NeutralPrice, st.LastPrice)

	reduced := NewFromState(calc, &Config{Power: 1, Reduction: 0.5}, nil, st)
	plain := NewFromState(calc, &Config{Power: 1}, nil, st)

	assert.Equal(t, plain.calcPosition(95), reduced.calcPosition(95))
	assert.Less(t, reduced.calcPosition(105), plain.calcPosition(105))
	assert.InDelta(t, 0, reduced.calcPosition(105), 1e-9)
}

// reserved profit of 100 on a flat position at the neutral price
func reserveState() State {
	return State{NeutralPrice: 100, LastPrice: 100, Power: 10, Bal: 1000, RedBal: 900}
}

func TestCalcPosition_InitBoostAmplifiesFirstMove(t *testing.T) {
	calc := mustCalc(t, pricing.LinearName)
	st := reserveState()

	reduced := NewFromState(calc, &Config{Power: 1, Reduction: 0.25}, nil, st)
	boosted := NewFromState(calc, &Config{Power: 1, Reduction: 0.25, InitBoost: 1}, nil, st)
	boostOnly := NewFromState(calc, &Config{Power: 1, InitBoost: 1}, nil, st)
	plain := NewFromState(calc, &Config{Power: 1}, nil, st)

	// the neutral shifts to 100.5 while the curve moves the other way
	want := 10 * (1 - 101/100.5)
	assert.InDelta(t, want, reduced.calcPosition(101), 1e-9)
	assert.InDelta(t, 2*want, boosted.calcPosition(101), 1e-9)

	// without a neutral shift there is nothing to boost
	assert.Equal(t, plain.calcPosition(101), boostOnly.calcPosition(101))
	assert.Equal(t, reduced.calcPosition(99), boosted.calcPosition(99))
}

func TestCalcPosition_DynRedScalesWithDistance(t *testing.T) {
	calc := mustCalc(t, pricing.LinearName)
	st := reserveState()

	dyn := NewFromState(calc, &Config{Power: 1, DynRed: 0.5}, nil, st)
	both := NewFromState(calc, &Config{Power: 1, DynRed: 0.5, Reduction: 0.3}, nil, st)
	capped := NewFromState(calc, &Config{Power: 1, DynRed: 100}, nil, st)
	plain := NewFromState(calc, &Config{Power: 1}, nil, st)

	r := dyn.calcRoots()
	width := r.Max - r.Min
	require.Greater(t, width, 0.0)

	d := 0.5 * 50 / width
	assert.InDelta(t, d, dyn.reduction(150), 1e-12)
	assert.InDelta(t, 0.5*10/width, dyn.reduction(110), 1e-12)
	assert.InDelta(t, math.Sqrt(0.09+d*d), both.reduction(150), 1e-12)
	assert.Equal(t, 1.0, capped.reduction(150))
	assert.Equal(t, 0.0, plain.reduction(150))

	// the short is de-risked on the way up only
	require.Less(t, plain.calcPosition(150), 0.0)
	assert.Less(t, math.Abs(dyn.calcPosition(150)), math.Abs(plain.calcPosition(150)))
	assert.Equal(t, plain.calcPosition(90), dyn.calcPosition(90))
}

func TestCalcRoots_ContainCenter(t *testing.T) {
	for _, name := range pricing.Names() {
		t.Run(name, func(t *testing.T) {
			s := initialized(t, name, &Config{Power: 1, MaxLoss: 50, Asym: -0.2}, futures, 100, 0, 1000)
			st := s.State()
			center := s.calc.Price0(st.NeutralPrice, s.calcAsym())
			r := s.calcRoots()
			assert.True(t, r.Contains(center))
			assert.Less(t, r.Min, r.Max)
		})
	}
}

func TestGetNewOrder_FollowsCurve(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1}, futures, 100, 0, 1000)
	od, err := s.GetNewOrder(futures, 100, 95, 1, 0, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, 95.0, od.Price)
	assert.InDelta(t, 0.5, od.Size, 1e-9)
	assert.Equal(t, AlertEnabled, od.Alert)

	od, err = s.GetNewOrder(futures, 100, 100, -1, 0.2, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, AlertForced, od.Alert)
	assert.InDelta(t, -0.2, od.Size, 1e-12)
}

func TestGetNewOrder_Stoploss(t *testing.T) {
	// roots for a loss budget of 100-80 lie at [80, 120]
	cfg := &Config{Power: 1, MaxLoss: 100}
	st := State{NeutralPrice: 100, LastPrice: 60, Position: 4, Val: -80, Bal: 1000, RedBal: 1000, Power: 10}
	s := NewFromState(mustCalc(t, pricing.LinearName), cfg, nil, st)
	require.True(t, s.IsValid())
	require.False(t, s.calcRoots().Contains(60))

	t.Run("closes the position when selling below the range", func(t *testing.T) {
		od, err := s.GetNewOrder(futures, 60, 59, -1, 4, 1000, false)
		require.NoError(t, err)
		assert.Equal(t, AlertStoploss, od.Alert)
		assert.Equal(t, 60.0, od.Price)
		assert.InDelta(t, -4, od.Size, 1e-12)
	})

	t.Run("holds when buying below the range", func(t *testing.T) {
		od, err := s.GetNewOrder(futures, 60, 61, 1, 4, 1000, false)
		require.NoError(t, err)
		assert.Equal(t, AlertStoploss, od.Alert)
		assert.Equal(t, 0.0, od.Size)
	})
}

func TestGetNewOrder_RejectsInvalidPrice(t *testing.T) {
	for _, name := range pricing.Names() {
		t.Run(name, func(t *testing.T) {
			s := initialized(t, name, &Config{Power: 1}, futures, 100, 0, 1000)
			for _, prices := range [][2]float64{{100, 0}, {0, 100}, {100, -5}, {math.NaN(), 100}, {100, math.Inf(1)}} {
				_, err := s.GetNewOrder(futures, prices[0], prices[1], 1, 0, 1000, false)
				assert.True(t, errors.Is(err, apperrors.ErrInvalidPrice), "prices %v", prices)
			}
		})
	}
}

func leveragedLong(t *testing.T, cfg *Config, val float64) *Strategy {
	t.Helper()
	st := State{NeutralPrice: 100, LastPrice: 50, Position: 0.5, Bal: 10, RedBal: 10, Power: 1, Val: val}
	s := NewFromState(mustCalc(t, pricing.LinearName), cfg, nil, st)
	require.True(t, s.IsValid())
	return s
}

func TestGetNewOrder_FastCloseAtBreakEven(t *testing.T) {
	// the curve value at 50 is -12.5, break-even lies at 75
	s := leveragedLong(t, &Config{Power: 1, FastClose: true}, -12.5)
	od, err := s.GetNewOrder(futures, 50, 95, -1, 0.5, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 75, od.Price, 1e-9)
	assert.Less(t, od.Size, 0.0)
}

func TestGetNewOrder_FastCloseCapsLeverage(t *testing.T) {
	s := leveragedLong(t, &Config{Power: 1, FastClose: true}, -20)
	od, err := s.GetNewOrder(futures, 50, 95, -1, 0.5, 0, false)
	require.NoError(t, err)

	// strictly between the market and the requested price
	assert.Greater(t, od.Price, 50.0)
	assert.Less(t, od.Price, 95.0)
	// short of break-even (90), where leverage fell below 2.5-1
	assert.Less(t, od.Price, 90.0)
	assert.Greater(t, od.Price, 81.6)
	assert.Less(t, math.Abs(s.calcPosition(od.Price))*od.Price/10, 1.5)

	retry, err := s.GetNewOrder(futures, 50, 95, -1, 0.5, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 95.0, retry.Price)
}

func TestGetNewOrder_SlowOpen(t *testing.T) {
	s := NewFromState(mustCalc(t, pricing.LinearName), &Config{Power: 1, SlowOpen: true}, nil,
		State{NeutralPrice: 100, LastPrice: 50, Position: 0.5, Bal: 30, RedBal: 30, Power: 1, Val: -12.5})

	od, err := s.GetNewOrder(futures, 50, 45, 1, 0.5, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 44.75, od.Price, 1e-9)
	assert.Greater(t, od.Size, 0.0)
}

func TestExportImport_RoundTrip(t *testing.T) {
	cfg := &Config{Power: 1.23456, Asym: 0.25, ExternalBalance: 1000}
	s := initialized(t, pricing.InverseName, cfg, futures, 101.7, 0, 0)
	_, s, err := s.OnTrade(futures, 97.3, 0.1, 0.1, 0)
	require.NoError(t, err)

	data, err := s.ExportState()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cfg":{"asym":0.25,"ext_bal":1000,"power":1.234,"longonly":false}`)

	restored, err := New(mustCalc(t, pricing.InverseName), cfg, nil).ImportState(data, futures)
	require.NoError(t, err)
	assert.Equal(t, s.State(), restored.State())

	again, err := restored.ExportState()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestImport_RefitsOnConfigChange(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1}, futures, 100, 0, 1000)
	_, s, err := s.OnTrade(futures, 91.37, 0.5, 0.5, 1000)
	require.NoError(t, err)
	data, err := s.ExportState()
	require.NoError(t, err)

	t.Run("keep neutral", func(t *testing.T) {
		cfg := &Config{Power: 2, RecalcKeepNeutral: true}
		nw, err := New(mustCalc(t, pricing.LinearName), cfg, nil).ImportState(data, futures)
		require.NoError(t, err)
		st := nw.State()
		assert.Equal(t, s.State().LastPrice, st.LastPrice)
		assert.InDelta(t, s.State().NeutralPrice, st.NeutralPrice, 1e-9)
		assert.InDelta(t, 2*st.Bal/st.NeutralPrice, st.Power, 1e-9)
		assert.Equal(t, s.State().Bal, st.Bal)
		assert.True(t, nw.IsValid())
	})

	t.Run("refit at last price", func(t *testing.T) {
		nw, err := New(mustCalc(t, pricing.LinearName), &Config{Power: 3}, nil).ImportState(data, futures)
		require.NoError(t, err)
		st := nw.State()
		assert.Equal(t, s.State().LastPrice, st.LastPrice)
		assert.Equal(t, s.State().Position, st.Position)
		assert.True(t, nw.IsValid())
		assert.Greater(t, st.Power, s.State().Power)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.ImportState([]byte("{"), futures)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidSnapshot))
	})
}

func TestReset(t *testing.T) {
	s := initialized(t, pricing.LinearName, &Config{Power: 1}, futures, 100, 0, 1000)
	r := s.Reset()
	assert.False(t, r.IsValid())
	assert.Equal(t, State{}, r.State())
	assert.True(t, s.IsValid())
}

func TestDumpStatePretty_InvertsPrices(t *testing.T) {
	inverted := futures
	inverted.InvertPrice = true
	s := initialized(t, pricing.LinearName, &Config{Power: 1, DetectTrend: true}, inverted, 0.01, 0, 1000)
	_, s, err := s.OnTrade(inverted, 0.0095, 1000, 1000, 1000)
	require.NoError(t, err)

	d := s.DumpStatePretty(inverted)
	assert.InDelta(t, 1/0.0095, d["Last price"], 1e-9)
	assert.InDelta(t, -1000, d["Position"], 1e-9)
	assert.Contains(t, d, "Trend %")
	assert.LessOrEqual(t, d["Safe range min"].(float64), d["Safe range max"].(float64))
	assert.Equal(t, "leveraged_linear", d["Strategy"])
}
