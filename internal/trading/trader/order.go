package trader

import (
	"context"
	"fmt"
	"math"

	"leveraged/internal/trading/leveraged"
	apperrors "leveraged/pkg/errors"
	"leveraged/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Side of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderIntent is an order recommendation rounded to the instrument's tick
// and lot size
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Alert         leveraged.Alert
	// Skip is set when the rounded quantity cannot be placed
	Skip bool
}

// SignedQuantity returns the quantity, negative for sells
func (o OrderIntent) SignedQuantity() decimal.Decimal {
	if o.Side == SideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// NewOrder asks the strategy for the order to place if the price moves from
// curPrice to newPrice. dir is the side of the order: positive buys,
// negative sells.
func (t *Trader) NewOrder(ctx context.Context, curPrice, newPrice float64, dir int, assets, currency float64, isRetry bool) (OrderIntent, error) {
	ctx, span := t.tracer.Start(ctx, "new_order", trace.WithAttributes(
		attribute.String("symbol", t.symbol),
		attribute.Float64("cur_price", curPrice),
		attribute.Float64("new_price", newPrice),
		attribute.Int("dir", dir),
	))
	defer span.End()

	od, err := t.current.Load().GetNewOrder(t.market, curPrice, newPrice, dir, assets, currency, isRetry)
	if err != nil {
		span.RecordError(err)
		t.logger.Error("Failed to compute order", "cur_price", curPrice, "new_price", newPrice, "error", err)
		return OrderIntent{}, err
	}

	intent, err := t.round(od)
	if err != nil {
		span.RecordError(err)
		t.logger.Error("Unplaceable order", "price", od.Price, "size", od.Size, "error", err)
		return OrderIntent{}, err
	}
	span.SetAttributes(
		attribute.String("alert", od.Alert.String()),
		attribute.String("quantity", intent.Quantity.String()),
	)
	if od.Alert == leveraged.AlertStoploss {
		t.metrics.RecordStoploss(ctx, t.symbol)
		t.logger.Warn("Price outside of safe range, stoploss order",
			"price", od.Price,
			"size", od.Size,
			"position", t.current.Load().State().Position)
	}
	return intent, nil
}

func (t *Trader) round(od leveraged.OrderData) (OrderIntent, error) {
	if !isFinite(od.Price) || !isFinite(od.Size) {
		return OrderIntent{}, fmt.Errorf("%w: order %v x %v for %s", apperrors.ErrInvalidPrice, od.Price, od.Size, t.symbol)
	}
	side := SideBuy
	if od.Size < 0 {
		side = SideSell
	}
	price := tradingutils.RoundPrice(decimal.NewFromFloat(od.Price), t.market.PriceDecimals)
	qty := tradingutils.RoundQuantity(decimal.NewFromFloat(od.Size).Abs(), t.market.QtyDecimals)
	return OrderIntent{
		ClientOrderID: t.orderIDs.Generate(price, string(side), t.market.PriceDecimals),
		Symbol:        t.symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		Alert:         od.Alert,
		Skip:          tradingutils.BelowMinimum(qty, decimal.NewFromFloat(t.market.MinSize)),
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
