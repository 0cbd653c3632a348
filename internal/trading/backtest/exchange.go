package backtest

import (
	"fmt"
	"sync"

	"leveraged/internal/core"
	"leveraged/internal/trading/leveraged"
	"leveraged/internal/trading/trader"
	"leveraged/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Fill is an executed paper order
type Fill struct {
	ClientOrderID string
	Symbol        string
	Price         float64
	Size          float64 // signed, positive buys
	Fee           decimal.Decimal
	AssetsLeft    float64
	CurrencyLeft  float64
}

type account struct {
	market   leveraged.MarketInfo
	assets   decimal.Decimal
	currency decimal.Decimal
	// mark is the price the leveraged position was last marked to
	mark decimal.Decimal
}

// PaperExchange keeps one simulated account per symbol and fills orders
// immediately at their limit price. Spot accounts swap currency for assets,
// leveraged accounts hold a position and settle its profit into currency.
type PaperExchange struct {
	mu       sync.Mutex
	accounts map[string]*account
	logger   core.ILogger
}

func NewPaperExchange(logger core.ILogger) *PaperExchange {
	return &PaperExchange{
		accounts: make(map[string]*account),
		logger:   logger.WithField("component", "paper_exchange"),
	}
}

// Open funds an account for symbol
func (e *PaperExchange) Open(symbol string, market leveraged.MarketInfo, assets, currency, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[symbol] = &account{
		market:   market,
		assets:   decimal.NewFromFloat(assets),
		currency: decimal.NewFromFloat(currency),
		mark:     decimal.NewFromFloat(price),
	}
}

// Balances returns the assets and currency held for symbol
func (e *PaperExchange) Balances(symbol string) (float64, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[symbol]
	if !ok {
		return 0, 0, fmt.Errorf("no paper account for %s", symbol)
	}
	return acc.assets.InexactFloat64(), acc.currency.InexactFloat64(), nil
}

// Equity values the account at price
func (e *PaperExchange) Equity(symbol string, price float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[symbol]
	if !ok {
		return 0, fmt.Errorf("no paper account for %s", symbol)
	}
	p := decimal.NewFromFloat(price)
	if acc.market.Leveraged {
		return acc.currency.Add(acc.assets.Mul(p.Sub(acc.mark))).InexactFloat64(), nil
	}
	return acc.currency.Add(acc.assets.Mul(p)).InexactFloat64(), nil
}

// Execute fills intent in full at its price and charges the market fee
func (e *PaperExchange) Execute(intent trader.OrderIntent) (Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[intent.Symbol]
	if !ok {
		return Fill{}, fmt.Errorf("no paper account for %s", intent.Symbol)
	}
	if intent.Skip || intent.Quantity.IsZero() {
		return Fill{}, fmt.Errorf("order for %s is not placeable", intent.Symbol)
	}
	if intent.ClientOrderID != "" {
		_, side, _, ok := tradingutils.ParseOrderID(intent.ClientOrderID, acc.market.PriceDecimals)
		if !ok || side != string(intent.Side) {
			return Fill{}, fmt.Errorf("malformed client order id %q", intent.ClientOrderID)
		}
	}

	qty := intent.SignedQuantity()
	price := intent.Price
	fee := tradingutils.Fee(price, qty, decimal.NewFromFloat(acc.market.Fees))

	if acc.market.Leveraged {
		acc.currency = acc.currency.Add(acc.assets.Mul(price.Sub(acc.mark)))
		acc.mark = price
	} else {
		acc.currency = acc.currency.Sub(price.Mul(qty))
	}
	acc.currency = acc.currency.Sub(fee)
	acc.assets = acc.assets.Add(qty)

	fill := Fill{
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Price:         price.InexactFloat64(),
		Size:          qty.InexactFloat64(),
		Fee:           fee,
		AssetsLeft:    acc.assets.InexactFloat64(),
		CurrencyLeft:  acc.currency.InexactFloat64(),
	}
	e.logger.Debug("Paper order filled",
		"client_order_id", intent.ClientOrderID,
		"symbol", intent.Symbol,
		"side", string(intent.Side),
		"price", price.String(),
		"quantity", intent.Quantity.String(),
		"fee", fee.String())
	return fill, nil
}
