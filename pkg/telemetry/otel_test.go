package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestTelemetrySetup(t *testing.T) {
	var traces bytes.Buffer
	tel, err := Setup("test-service", Options{TraceWriter: &traces})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())

	_, span := GetTracer("test-tracer").Start(context.Background(), "on_trade")
	span.End()
	assert.NotNil(t, GetMeter("test-meter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, traces.String(), "on_trade")
}

func TestMetricsHolder_ObservesGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := NewMetricsHolder()
	m.RecordTrade(context.Background(), "BTC", 1) // no instruments yet
	require.NoError(t, m.InitMetrics(mp.Meter("test")))

	m.SetStrategyGauges("BTC", StrategyGauges{Position: 1.5, NeutralPrice: 100, Power: 10})
	m.RecordTrade(context.Background(), "BTC", 2.5)
	m.RecordStoploss(context.Background(), "BTC")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name == MetricPosition {
				g, ok := md.Data.(metricdata.Gauge[float64])
				require.True(t, ok)
				require.Len(t, g.DataPoints, 1)
				assert.Equal(t, 1.5, g.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found[MetricPosition])
	assert.True(t, found[MetricTradesTotal])
	assert.True(t, found[MetricStoplossTotal])

	m.RemoveStrategy("BTC")
	assert.Empty(t, m.GetStrategyGauges())
}
