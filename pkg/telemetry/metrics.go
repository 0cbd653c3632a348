package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPosition          = "leveraged_position"
	MetricNeutralPrice      = "leveraged_neutral_price"
	MetricPower             = "leveraged_power"
	MetricUnrealizedValue   = "leveraged_unrealized_value"
	MetricBalance           = "leveraged_balance"
	MetricLeverage          = "leveraged_leverage"
	MetricTradesTotal       = "leveraged_trades_total"
	MetricNormProfitTotal   = "leveraged_norm_profit_total"
	MetricStoplossTotal     = "leveraged_stoploss_total"
	MetricReinitTotal       = "leveraged_reinit_total"
	MetricTransitionLatency = "leveraged_transition_latency_ms"
)

// StrategyGauges is the observable state of one strategy
type StrategyGauges struct {
	Position     float64
	NeutralPrice float64
	Power        float64
	Value        float64
	Balance      float64
	Leverage     float64
}

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	TradesTotal       metric.Int64Counter
	NormProfitTotal   metric.Float64Counter
	StoplossTotal     metric.Int64Counter
	ReinitTotal       metric.Int64Counter
	TransitionLatency metric.Float64Histogram

	Position        metric.Float64ObservableGauge
	NeutralPrice    metric.Float64ObservableGauge
	Power           metric.Float64ObservableGauge
	UnrealizedValue metric.Float64ObservableGauge
	Balance         metric.Float64ObservableGauge
	Leverage        metric.Float64ObservableGauge

	// State for observable gauges
	mu     sync.RWMutex
	gauges map[string]StrategyGauges
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// NewMetricsHolder returns a holder without instruments. Recording is a no-op
// until InitMetrics, gauge state is kept regardless.
func NewMetricsHolder() *MetricsHolder {
	return &MetricsHolder{gauges: make(map[string]StrategyGauges)}
}

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = NewMetricsHolder()
	})
	return globalMetrics
}

func (m *MetricsHolder) observe(name, desc string, pick func(StrategyGauges) float64, meter metric.Meter) (metric.Float64ObservableGauge, error) {
	return meter.Float64ObservableGauge(name, metric.WithDescription(desc),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, g := range m.gauges {
				obs.Observe(pick(g), metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.TradesTotal, err = meter.Int64Counter(MetricTradesTotal, metric.WithDescription("Total settled trades"))
	if err != nil {
		return err
	}

	m.NormProfitTotal, err = meter.Float64Counter(MetricNormProfitTotal, metric.WithDescription("Cumulative normalized profit"))
	if err != nil {
		return err
	}

	m.StoplossTotal, err = meter.Int64Counter(MetricStoplossTotal, metric.WithDescription("Stoploss orders emitted"))
	if err != nil {
		return err
	}

	m.ReinitTotal, err = meter.Int64Counter(MetricReinitTotal, metric.WithDescription("Strategy re-initializations"))
	if err != nil {
		return err
	}

	m.TransitionLatency, err = meter.Float64Histogram(MetricTransitionLatency, metric.WithDescription("Duration of strategy transitions"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	if m.Position, err = m.observe(MetricPosition, "Current strategy position",
		func(g StrategyGauges) float64 { return g.Position }, meter); err != nil {
		return err
	}
	if m.NeutralPrice, err = m.observe(MetricNeutralPrice, "Current neutral price",
		func(g StrategyGauges) float64 { return g.NeutralPrice }, meter); err != nil {
		return err
	}
	if m.Power, err = m.observe(MetricPower, "Current curve power",
		func(g StrategyGauges) float64 { return g.Power }, meter); err != nil {
		return err
	}
	if m.UnrealizedValue, err = m.observe(MetricUnrealizedValue, "Current curve value",
		func(g StrategyGauges) float64 { return g.Value }, meter); err != nil {
		return err
	}
	if m.Balance, err = m.observe(MetricBalance, "Current strategy balance",
		func(g StrategyGauges) float64 { return g.Balance }, meter); err != nil {
		return err
	}
	if m.Leverage, err = m.observe(MetricLeverage, "Current leverage",
		func(g StrategyGauges) float64 { return g.Leverage }, meter); err != nil {
		return err
	}

	return nil
}

func symbolAttr(symbol string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("symbol", symbol))
}

// SetStrategyGauges publishes the current state of a strategy
func (m *MetricsHolder) SetStrategyGauges(symbol string, g StrategyGauges) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[symbol] = g
}

// RemoveStrategy stops reporting a strategy
func (m *MetricsHolder) RemoveStrategy(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gauges, symbol)
}

func (m *MetricsHolder) GetStrategyGauges() map[string]StrategyGauges {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]StrategyGauges, len(m.gauges))
	for k, v := range m.gauges {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) RecordTrade(ctx context.Context, symbol string, normProfit float64) {
	if m.TradesTotal != nil {
		m.TradesTotal.Add(ctx, 1, symbolAttr(symbol))
	}
	if m.NormProfitTotal != nil && normProfit > 0 {
		m.NormProfitTotal.Add(ctx, normProfit, symbolAttr(symbol))
	}
}

func (m *MetricsHolder) RecordStoploss(ctx context.Context, symbol string) {
	if m.StoplossTotal != nil {
		m.StoplossTotal.Add(ctx, 1, symbolAttr(symbol))
	}
}

func (m *MetricsHolder) RecordReinit(ctx context.Context, symbol string) {
	if m.ReinitTotal != nil {
		m.ReinitTotal.Add(ctx, 1, symbolAttr(symbol))
	}
}

func (m *MetricsHolder) RecordTransition(ctx context.Context, symbol, kind string, ms float64) {
	if m.TransitionLatency != nil {
		m.TransitionLatency.Record(ctx, ms, metric.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("kind", kind),
		))
	}
}
