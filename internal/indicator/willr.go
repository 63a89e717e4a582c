package indicator

import "signalfusion/internal/model"

// WilliamsR calculates Williams %R over the trailing period highs and lows:
//
//	%R = (HighestHigh - Close) / (HighestHigh - LowestLow) * -100
//
// Range [-100, 0]. A zero-range window resolves to -50.
type WilliamsR struct {
	period  int
	highs   []float64 // circular buffers
	lows    []float64
	idx     int
	count   int
	current float64
}

// NewWilliamsR creates a Williams %R indicator (typically period 14).
func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{
		period: period,
		highs:  make([]float64, period),
		lows:   make([]float64, period),
	}
}

func (w *WilliamsR) Name() string { return model.IndWillR }

func (w *WilliamsR) Update(candle model.Candle) {
	w.highs[w.idx] = candle.High
	w.lows[w.idx] = candle.Low
	w.idx = (w.idx + 1) % w.period
	w.count++

	if w.count < w.period {
		return
	}

	hh, ll := w.highs[0], w.lows[0]
	for i := 1; i < w.period; i++ {
		if w.highs[i] > hh {
			hh = w.highs[i]
		}
		if w.lows[i] < ll {
			ll = w.lows[i]
		}
	}

	rng := hh - ll
	if rng == 0 {
		w.current = -50.0
		return
	}
	w.current = (hh - candle.Close) / rng * -100.0
}

func (w *WilliamsR) Value() float64 { return w.current }
func (w *WilliamsR) Ready() bool    { return w.count >= w.period }
func (w *WilliamsR) Lookback() int  { return w.period }

// Snapshot serializes the Williams %R state for checkpoint persistence.
func (w *WilliamsR) Snapshot() IndicatorSnapshot {
	highs := make([]float64, len(w.highs))
	lows := make([]float64, len(w.lows))
	copy(highs, w.highs)
	copy(lows, w.lows)
	return IndicatorSnapshot{
		Type:    TypeWillR,
		Period:  w.period,
		Buf:     highs,
		Buf2:    lows,
		Idx:     w.idx,
		Count:   w.count,
		Current: w.current,
	}
}

// RestoreFromSnapshot restores Williams %R state from a checkpoint.
func (w *WilliamsR) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	w.period = snap.Period
	w.idx = snap.Idx
	w.count = snap.Count
	w.current = snap.Current
	w.highs = make([]float64, snap.Period)
	w.lows = make([]float64, snap.Period)
	copy(w.highs, snap.Buf)
	copy(w.lows, snap.Buf2)
	return nil
}
