// Package trader runs one leveraged strategy lineage against a market: it
// serializes transitions, persists every new state before publishing it,
// keeps the wallet allocation table current and turns order recommendations
// into exchange-ready intents.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"leveraged/internal/core"
	"leveraged/internal/trading/leveraged"
	"leveraged/internal/trading/pricing"
	"leveraged/internal/trading/wallet"
	apperrors "leveraged/pkg/errors"
	"leveraged/pkg/telemetry"
	"leveraged/pkg/tradingutils"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Options configures a Trader
type Options struct {
	Symbol     string
	Broker     string
	Wallet     string
	Market     leveraged.MarketInfo
	Calculator pricing.Calculator
	Params     *leveraged.Config

	// IdleRate limits idle ticks per second, 0 disables the limit
	IdleRate float64

	SaveRetries int
	SaveBackoff time.Duration
}

// balances is the account the trader last saw
type balances struct {
	assets   float64
	currency float64
}

// Trader owns the current strategy of one instrument
type Trader struct {
	id       string
	symbol   string
	key      wallet.Key
	market   leveraged.MarketInfo
	store    core.IStateStore
	wallets  *wallet.DB
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	tracer   trace.Tracer
	limiter  *rate.Limiter
	saver    failsafe.Executor[any]
	orderIDs *tradingutils.OrderIDGenerator

	mu       sync.Mutex
	current  atomic.Pointer[leveraged.Strategy]
	account  atomic.Pointer[balances]
	started  atomic.Bool
	failures atomic.Int64
}

// New creates a trader holding an uninitialized strategy. Call Start to
// restore a persisted state.
func New(opts Options, store core.IStateStore, wallets *wallet.DB, metrics *telemetry.MetricsHolder, logger core.ILogger) (*Trader, error) {
	if opts.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", apperrors.ErrInvalidConfiguration)
	}
	if opts.Calculator == nil {
		return nil, fmt.Errorf("%w: calculator is required", apperrors.ErrUnknownCalculator)
	}
	if opts.Params == nil {
		return nil, fmt.Errorf("%w: strategy params are required", apperrors.ErrInvalidConfiguration)
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.SaveRetries <= 0 {
		opts.SaveRetries = 3
	}
	if opts.SaveBackoff <= 0 {
		opts.SaveBackoff = 50 * time.Millisecond
	}
	if wallets == nil {
		wallets = wallet.NewDB()
	}
	if metrics == nil {
		metrics = telemetry.NewMetricsHolder()
	}

	id := opts.Broker + ":" + opts.Symbol
	walletSymbol := opts.Market.Currency
	if walletSymbol == "" {
		walletSymbol = opts.Symbol
	}
	key := wallet.Key{
		Broker:    opts.Broker,
		Wallet:    opts.Wallet,
		Symbol:    walletSymbol,
		TraderUID: uuid.NewString(),
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		AbortOnErrors(apperrors.ErrInvalidSnapshot).
		WithBackoff(opts.SaveBackoff, 20*opts.SaveBackoff).
		WithMaxRetries(opts.SaveRetries).
		ReturnLastFailure().
		Build()

	var limiter *rate.Limiter
	if opts.IdleRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.IdleRate), 1)
	}

	t := &Trader{
		id:       id,
		symbol:   opts.Symbol,
		key:      key,
		market:   opts.Market,
		store:    store,
		wallets:  wallets,
		logger:   logger.WithField("component", "trader").WithField("trader", id),
		metrics:  metrics,
		tracer:   telemetry.GetTracer("trader"),
		limiter:  limiter,
		saver:    failsafe.With[any](retryPolicy),
		orderIDs: tradingutils.NewOrderIDGenerator(),
	}
	t.current.Store(leveraged.New(opts.Calculator, opts.Params, wallets.Bind(key)))
	return t, nil
}

func (t *Trader) ID() string                   { return t.id }
func (t *Trader) Symbol() string               { return t.symbol }
func (t *Trader) Key() wallet.Key              { return t.key }
func (t *Trader) Market() leveraged.MarketInfo { return t.market }

// Strategy returns the current strategy. The value is immutable and stays
// usable after later transitions.
func (t *Trader) Strategy() *leveraged.Strategy {
	return t.current.Load()
}

// Start restores the persisted snapshot, if any. A corrupted or unreadable
// snapshot is dropped and the strategy re-initializes on the next event.
func (t *Trader) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, err := t.store.LoadState(ctx, t.id)
	if err != nil {
		if errors.Is(err, apperrors.ErrChecksumMismatch) {
			t.logger.Warn("Persisted state is corrupted, starting fresh", "error", err)
			return nil
		}
		return fmt.Errorf("failed to load state of %s: %w", t.id, err)
	}
	if snap == nil {
		t.logger.Info("No persisted state found, starting fresh")
		return nil
	}

	restored, err := t.current.Load().ImportState(snap.Data, t.market)
	if err != nil {
		t.logger.Warn("Failed to import persisted state, starting fresh", "error", err)
		return nil
	}
	t.current.Store(restored)
	t.started.Store(restored.IsValid())
	t.publish(restored)
	t.logger.Info("State restored",
		"neutral_price", restored.State().NeutralPrice,
		"position", restored.State().Position,
		"updated_at", snap.UpdatedAt)
	return nil
}

// OnIdle applies a market tick. Ticks beyond the idle rate are dropped.
func (t *Trader) OnIdle(ctx context.Context, ticker leveraged.Ticker, assets, currency float64) error {
	if t.limiter != nil && !t.limiter.Allow() {
		t.logger.Debug("Idle tick throttled")
		return nil
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "on_idle", trace.WithAttributes(
		attribute.String("symbol", t.symbol),
		attribute.Float64("price", ticker.Price()),
	))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.account.Store(&balances{assets: assets, currency: currency})

	prev := t.current.Load()
	next, err := prev.OnIdle(t.market, ticker, assets, currency)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error("Failed to initialize strategy", "price", ticker.Price(), "error", err)
		return fmt.Errorf("idle %s: %w", t.id, err)
	}
	if err := t.commit(ctx, prev, next); err != nil {
		span.RecordError(err)
		return err
	}
	t.metrics.RecordTransition(ctx, t.symbol, "idle", msSince(start))
	return nil
}

// OnTrade settles an executed trade. size is signed, assetsLeft and
// currencyLeft are the balances after the trade.
func (t *Trader) OnTrade(ctx context.Context, price, size, assetsLeft, currencyLeft float64) (leveraged.TradeResult, error) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "on_trade", trace.WithAttributes(
		attribute.String("symbol", t.symbol),
		attribute.Float64("price", price),
		attribute.Float64("size", size),
	))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.account.Store(&balances{assets: assetsLeft, currency: currencyLeft})

	prev := t.current.Load()
	res, next, err := prev.OnTrade(t.market, price, size, assetsLeft, currencyLeft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error("Failed to settle trade", "price", price, "size", size, "error", err)
		return leveraged.TradeResult{}, fmt.Errorf("trade %s: %w", t.id, err)
	}
	if err := t.commit(ctx, prev, next); err != nil {
		span.RecordError(err)
		return leveraged.TradeResult{}, err
	}

	if !next.IsValid() {
		t.logger.Warn("Strategy state degenerated, re-initializing on next event",
			"price", price,
			"assets_left", assetsLeft,
			"currency_left", currencyLeft)
	}
	span.SetAttributes(attribute.Float64("norm_profit", res.NormProfit))
	t.metrics.RecordTrade(ctx, t.symbol, res.NormProfit)
	t.metrics.RecordTransition(ctx, t.symbol, "trade", msSince(start))
	t.logger.Debug("Trade settled",
		"price", price,
		"size", size,
		"norm_profit", res.NormProfit,
		"position", next.State().Position)
	return res, nil
}

// Reset discards the strategy state. The next event re-initializes it.
func (t *Trader) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.current.Load()
	if err := t.commit(ctx, prev, prev.Reset()); err != nil {
		return err
	}
	t.started.Store(false)
	t.logger.Info("Strategy reset")
	return nil
}

// commit persists next and only then publishes it. On a failed save the
// current strategy is left untouched.
func (t *Trader) commit(ctx context.Context, prev, next *leveraged.Strategy) error {
	if next.State() == prev.State() {
		t.current.Store(next)
		return nil
	}
	if !prev.IsValid() && next.IsValid() {
		st := next.State()
		t.logger.Info("Strategy initialized",
			"neutral_price", st.NeutralPrice,
			"power", st.Power,
			"balance", st.Bal)
		t.metrics.RecordReinit(ctx, t.symbol)
	}

	if err := t.save(ctx, next); err != nil {
		t.failures.Add(1)
		t.logger.Error("Failed to save state", "error", err)
		return fmt.Errorf("save %s: %w", t.id, err)
	}
	t.failures.Store(0)

	t.current.Store(next)
	if next.IsValid() {
		t.started.Store(true)
	}
	t.publish(next)
	return nil
}

func (t *Trader) save(ctx context.Context, s *leveraged.Strategy) error {
	data, err := s.ExportState()
	if err != nil {
		return err
	}
	snap := &core.StateSnapshot{ID: t.id, Data: data, UpdatedAt: time.Now().UnixNano()}
	return t.saver.WithContext(ctx).Run(func() error {
		return t.store.SaveState(ctx, snap)
	})
}

// publish pushes the derived views of s to the wallet table and the gauges
func (t *Trader) publish(s *leveraged.Strategy) {
	t.wallets.Alloc(t.key, s.CalcCurrencyAllocation())

	st := s.State()
	budget := s.GetBudgetInfo()
	lev := 0.0
	if budget.TotalBalance > 0 {
		lev = math.Abs(st.Position) * st.LastPrice / budget.TotalBalance
	}
	t.metrics.SetStrategyGauges(t.symbol, telemetry.StrategyGauges{
		Position:     st.Position,
		NeutralPrice: st.NeutralPrice,
		Power:        st.Power,
		Value:        st.Val,
		Balance:      budget.TotalBalance,
		Leverage:     lev,
	})
}

// Status returns the operator view of the current strategy. Once the account
// balances are known the safe range accounts for them.
func (t *Trader) Status() map[string]interface{} {
	s := t.current.Load()
	out := s.DumpStatePretty(t.market)
	out["Budget"] = s.GetBudgetInfo()
	out["Valid"] = s.IsValid()

	acc := t.account.Load()
	if acc == nil || !s.IsValid() {
		return out
	}
	pr := func(p float64) float64 {
		if t.market.InvertPrice {
			return 1 / p
		}
		return p
	}
	r := s.CalcSafeRange(t.market, acc.assets, acc.currency)
	lo, hi := pr(r.Min), pr(r.Max)
	if lo > hi {
		lo, hi = hi, lo
	}
	out["Safe range min"] = lo
	out["Safe range max"] = hi
	out["Equilibrium"] = pr(s.GetEquilibrium(acc.assets))
	return out
}

// Check reports an unhealthy trader: a strategy that lost its state after it
// was running, or a pending persistence failure
func (t *Trader) Check() error {
	if n := t.failures.Load(); n > 0 {
		return fmt.Errorf("%d consecutive state save failures", n)
	}
	if t.started.Load() && !t.current.Load().IsValid() {
		return fmt.Errorf("strategy state of %s is invalid", t.id)
	}
	return nil
}

// Close releases the wallet allocation and stops reporting gauges
func (t *Trader) Close() {
	t.wallets.Alloc(t.key, 0)
	t.metrics.RemoveStrategy(t.symbol)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
