package tradingutils

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderIDGenerator produces compact client order ids of the form
// {price_ticks}_{B|S}_{unix_seconds}{seq:03d}. The sequence restarts every
// second.
type OrderIDGenerator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastSec  int64
	sequence int
}

func NewOrderIDGenerator() *OrderIDGenerator {
	return &OrderIDGenerator{now: time.Now}
}

// Generate returns a new id for an order at price on side ("BUY" or "SELL")
func (g *OrderIDGenerator) Generate(price decimal.Decimal, side string, priceDecimals int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ticks := price.Shift(int32(priceDecimals)).Round(0).IntPart()
	sideCode := "B"
	if side == "SELL" {
		sideCode = "S"
	}

	sec := g.now().Unix()
	if sec != g.lastSec {
		g.lastSec = sec
		g.sequence = 0
	}
	g.sequence++

	return fmt.Sprintf("%d_%s_%d%03d", ticks, sideCode, sec, g.sequence)
}

// ParseOrderID decodes an id produced by Generate
func ParseOrderID(id string, priceDecimals int) (price decimal.Decimal, side string, unixSec int64, ok bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return decimal.Zero, "", 0, false
	}

	ticks, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return decimal.Zero, "", 0, false
	}
	switch parts[1] {
	case "B":
		side = "BUY"
	case "S":
		side = "SELL"
	default:
		return decimal.Zero, "", 0, false
	}

	if len(parts[2]) < 10 {
		return decimal.Zero, "", 0, false
	}
	unixSec, err = strconv.ParseInt(parts[2][:10], 10, 64)
	if err != nil {
		return decimal.Zero, "", 0, false
	}

	return decimal.New(ticks, -int32(priceDecimals)), side, unixSec, true
}
