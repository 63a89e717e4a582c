// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is an explicit rolling-state object fed one closed candle at
// a time in timestamp order. The same state machine backs live (incremental)
// and backtest (batch) computation, so both produce identical values.
package indicator

import "signalfusion/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the feature name (e.g., "rsi", "adx").
	Name() string

	// Update feeds the next closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current value. Meaningless until Ready.
	Value() float64

	// Ready returns true once Lookback candles have been accumulated.
	Ready() bool

	// Lookback is the number of candles required before Value is defined.
	Lookback() int
}

// result converts an indicator's current state into an IndicatorValue.
func result(ind Indicator) model.IndicatorValue {
	if !ind.Ready() {
		return model.IndicatorValue{}
	}
	return model.IndicatorValue{Value: ind.Value(), Defined: true}
}
