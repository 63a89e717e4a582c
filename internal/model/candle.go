package model

import (
	"fmt"
	"math"
	"time"
)

// Candle is one closed OHLCV bar for a single instrument and timeframe.
// Candles are immutable once produced by a CandleSource.
type Candle struct {
	Pair      string    `json:"pair"`
	Timeframe Timeframe `json:"timeframe"`
	TS        time.Time `json:"ts"` // bar open time (UTC, timeframe-aligned)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Key returns the instrument key "pair|timeframe".
func (c *Candle) Key() string {
	return InstrumentKey(c.Pair, c.Timeframe)
}

// InstrumentKey builds the per-instrument state key.
func InstrumentKey(pair string, tf Timeframe) string {
	return pair + "|" + string(tf)
}

// Validate checks value finiteness, OHLC relationships and timeframe alignment.
func (c *Candle) Validate() error {
	vals := [...]struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}, {"volume", c.Volume},
	}
	for _, f := range vals {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return c.integrity(fmt.Sprintf("%s is not finite", f.name))
		}
		if f.v < 0 {
			return c.integrity(fmt.Sprintf("%s is negative (%g)", f.name, f.v))
		}
	}
	if c.High < c.Low {
		return c.integrity(fmt.Sprintf("high %g < low %g", c.High, c.Low))
	}
	if c.High < math.Max(c.Open, c.Close) {
		return c.integrity(fmt.Sprintf("high %g below body", c.High))
	}
	if c.Low > math.Min(c.Open, c.Close) {
		return c.integrity(fmt.Sprintf("low %g above body", c.Low))
	}
	if d := c.Timeframe.Duration(); d > 0 && !c.TS.Equal(c.Timeframe.Align(c.TS)) {
		return c.integrity("timestamp not aligned to " + string(c.Timeframe))
	}
	return nil
}

func (c *Candle) integrity(reason string) *DataIntegrityError {
	return &DataIntegrityError{Pair: c.Pair, Timeframe: c.Timeframe, TS: c.TS, Reason: reason}
}

// CheckOrder returns a DataIntegrityError unless next is strictly after prev.
func CheckOrder(prev, next Candle) error {
	if next.TS.After(prev.TS) {
		return nil
	}
	reason := "out-of-order timestamp"
	if next.TS.Equal(prev.TS) {
		reason = "duplicate timestamp"
	}
	return &DataIntegrityError{
		Pair: next.Pair, Timeframe: next.Timeframe, TS: next.TS,
		Reason: fmt.Sprintf("%s (previous %s)", reason, prev.TS.Format(time.RFC3339)),
	}
}
