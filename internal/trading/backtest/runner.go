// Package backtest replays price series through traders against a paper
// exchange
package backtest

import (
	"context"
	"fmt"

	"leveraged/internal/core"
	"leveraged/internal/trading/leveraged"
	"leveraged/internal/trading/trader"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Report summarizes one trader's run
type Report struct {
	TraderID    string
	Symbol      string
	Steps       int
	Orders      int
	Trades      int
	Stoplosses  int
	Skipped     int
	NormProfit  float64
	Fees        decimal.Decimal
	StartEquity float64
	FinalEquity float64
	Budget      leveraged.BudgetInfo
}

type Runner struct {
	exchange *PaperExchange
	logger   core.ILogger
}

func NewRunner(exch *PaperExchange, logger core.ILogger) *Runner {
	return &Runner{
		exchange: exch,
		logger:   logger.WithField("component", "backtest_runner"),
	}
}

// Run replays prices through a single trader
func (r *Runner) Run(ctx context.Context, t *trader.Trader, prices []float64) (Report, error) {
	rep, err := r.newReport(t, prices)
	if err != nil {
		return rep, err
	}
	for i, p := range prices {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		assets, currency, err := r.exchange.Balances(t.Symbol())
		if err != nil {
			return rep, err
		}
		if err := t.OnIdle(ctx, leveraged.Ticker{Last: p}, assets, currency); err != nil {
			return rep, err
		}
		if i > 0 {
			if err := r.step(ctx, t, prices[i-1], p, &rep); err != nil {
				return rep, err
			}
		}
		rep.Steps++
	}
	return rep, r.finish(t, prices, &rep)
}

// RunAll replays every series in lockstep: each step ticks all traders on the
// registry's pool, then places and settles their orders concurrently. series
// is keyed by trader id.
func (r *Runner) RunAll(ctx context.Context, reg *trader.Registry, series map[string][]float64) ([]Report, error) {
	traders := make([]*trader.Trader, 0, len(series))
	reports := make(map[string]*Report, len(series))
	steps := 0
	for _, t := range reg.List() {
		prices, ok := series[t.ID()]
		if !ok {
			continue
		}
		rep, err := r.newReport(t, prices)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
		reports[t.ID()] = &rep
		if len(prices) > steps {
			steps = len(prices)
		}
	}

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quotes := make(map[string]trader.Quote, len(traders))
		for _, t := range traders {
			prices := series[t.ID()]
			if i >= len(prices) {
				continue
			}
			assets, currency, err := r.exchange.Balances(t.Symbol())
			if err != nil {
				return nil, err
			}
			quotes[t.ID()] = trader.Quote{Ticker: leveraged.Ticker{Last: prices[i]}, Assets: assets, Currency: currency}
		}
		if err := reg.IdleAll(ctx, quotes); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range traders {
			prices := series[t.ID()]
			if i >= len(prices) {
				continue
			}
			t, rep := t, reports[t.ID()]
			rep.Steps++
			if i == 0 {
				continue
			}
			g.Go(func() error {
				return r.step(gctx, t, prices[i-1], prices[i], rep)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	out := make([]Report, 0, len(traders))
	for _, t := range traders {
		rep := reports[t.ID()]
		if err := r.finish(t, series[t.ID()], rep); err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, nil
}

func (r *Runner) newReport(t *trader.Trader, prices []float64) (Report, error) {
	rep := Report{TraderID: t.ID(), Symbol: t.Symbol(), Fees: decimal.Zero}
	if len(prices) == 0 {
		return rep, fmt.Errorf("empty price series for %s", t.ID())
	}
	equity, err := r.exchange.Equity(t.Symbol(), prices[0])
	if err != nil {
		return rep, err
	}
	rep.StartEquity = equity
	return rep, nil
}

// step quotes the order for the move prev -> p and fills it when its price
// was traded through
func (r *Runner) step(ctx context.Context, t *trader.Trader, prev, p float64, rep *Report) error {
	var dir int
	switch {
	case p < prev:
		dir = 1
	case p > prev:
		dir = -1
	default:
		return nil
	}

	assets, currency, err := r.exchange.Balances(t.Symbol())
	if err != nil {
		return err
	}
	intent, err := t.NewOrder(ctx, prev, p, dir, assets, currency, false)
	if err != nil {
		return err
	}
	rep.Orders++
	if intent.Alert == leveraged.AlertStoploss {
		rep.Stoplosses++
	}
	if intent.Skip {
		rep.Skipped++
		return nil
	}

	lo, hi := decimal.NewFromFloat(prev), decimal.NewFromFloat(p)
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	if intent.Price.LessThan(lo) || intent.Price.GreaterThan(hi) {
		rep.Skipped++
		return nil
	}

	fill, err := r.exchange.Execute(intent)
	if err != nil {
		return err
	}
	res, err := t.OnTrade(ctx, fill.Price, fill.Size, fill.AssetsLeft, fill.CurrencyLeft)
	if err != nil {
		return err
	}
	rep.Trades++
	rep.NormProfit += res.NormProfit
	rep.Fees = rep.Fees.Add(fill.Fee)
	return nil
}

func (r *Runner) finish(t *trader.Trader, prices []float64, rep *Report) error {
	equity, err := r.exchange.Equity(t.Symbol(), prices[len(prices)-1])
	if err != nil {
		return err
	}
	rep.FinalEquity = equity
	rep.Budget = t.Strategy().GetBudgetInfo()
	r.logger.Info("Backtest finished",
		"trader", rep.TraderID,
		"steps", rep.Steps,
		"trades", rep.Trades,
		"stoplosses", rep.Stoplosses,
		"norm_profit", rep.NormProfit,
		"fees", rep.Fees.String(),
		"start_equity", rep.StartEquity,
		"final_equity", rep.FinalEquity)
	return nil
}
