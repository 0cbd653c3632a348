package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// LoadPrices reads a price series from CSV. The price is taken from the last
// column of every row; a header row and blank lines are skipped.
func LoadPrices(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var prices []float64
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		field := strings.TrimSpace(record[len(record)-1])
		if field == "" {
			continue
		}
		p, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid price %q", line, field)
		}
		if !(p > 0) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("line %d: price must be positive, got %v", line, p)
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return nil, errors.New("price series is empty")
	}
	return prices, nil
}

// SyntheticPrices generates a geometric random walk of steps prices starting
// at start. The same seed yields the same series.
func SyntheticPrices(start float64, steps int, volatility float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	prices := make([]float64, 0, steps)
	p := start
	for i := 0; i < steps; i++ {
		prices = append(prices, p)
		p *= math.Exp(volatility*rng.NormFloat64() - volatility*volatility/2)
	}
	return prices
}
