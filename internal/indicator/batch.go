package indicator

import "signalfusion/internal/model"

// Batch recomputes indicators over a full history. For every bar i it rebuilds
// fresh state from candles[0..i], so values never depend on prior calls or on
// later candles. It is quadratic and meant for verifying that incremental
// processing matches a from-scratch pass.
func Batch(spec Spec, candles []model.Candle) ([]model.IndicatorSet, error) {
	out := make([]model.IndicatorSet, len(candles))
	for i := range candles {
		e := NewEngine(spec)
		var set model.IndicatorSet
		for j := 0; j <= i; j++ {
			s, err := e.Process(candles[j])
			if err != nil {
				return nil, err
			}
			set = s
		}
		out[i] = set
	}
	return out, nil
}

// Incremental feeds candles through one engine and returns every set.
func Incremental(spec Spec, candles []model.Candle) ([]model.IndicatorSet, error) {
	e := NewEngine(spec)
	out := make([]model.IndicatorSet, 0, len(candles))
	for _, c := range candles {
		s, err := e.Process(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
