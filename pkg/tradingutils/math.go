package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity truncates a quantity toward zero to the specified decimals,
// so a rounded order never exceeds the requested size
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Truncate(int32(qtyDecimals))
}

// Notional returns price * |qty|
func Notional(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty.Abs())
}

// Fee returns the fee charged on a fill
func Fee(price, qty, feeRate decimal.Decimal) decimal.Decimal {
	return Notional(price, qty).Mul(feeRate)
}

// BelowMinimum reports whether qty is too small to be placed
func BelowMinimum(qty, minSize decimal.Decimal) bool {
	return qty.IsZero() || qty.Abs().LessThan(minSize)
}
