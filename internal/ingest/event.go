package ingest

import (
	"fmt"
	"math"
	"time"

	"papertrade/internal/domain"
)

// PriceEvent is the JSON structure for price ticks received via NATS.
type PriceEvent struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// Validate checks that the price event has all required fields and valid values.
func (e *PriceEvent) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("missing required field: symbol")
	}
	if _, ok := domain.FindTradingPair(e.Symbol); !ok {
		return fmt.Errorf("unknown symbol: %q", e.Symbol)
	}
	if math.IsNaN(e.Price) || math.IsInf(e.Price, 0) || e.Price <= 0 {
		return fmt.Errorf("price must be positive, got %f", e.Price)
	}
	if e.Timestamp == "" {
		return fmt.Errorf("missing required field: timestamp")
	}

	// Validate timestamp is parseable
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	return nil
}

// Time returns the parsed event timestamp.
func (e *PriceEvent) Time() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

// Subject returns the NATS subject a tick for this symbol is published on,
// e.g. papertrade.prices.BTC-USDT.
func (e *PriceEvent) Subject() string {
	return PriceSubjectPrefix + subjectToken(e.Symbol)
}

// subjectToken makes a pair symbol usable as a single subject token.
func subjectToken(symbol string) string {
	out := []byte(symbol)
	for i, c := range out {
		switch c {
		case '/', '.', ' ', '*', '>':
			out[i] = '-'
		}
	}
	return string(out)
}
