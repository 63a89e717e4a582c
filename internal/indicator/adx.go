package indicator

import (
	"math"

	"signalfusion/internal/model"
)

// ADX calculates Wilder's Average Directional Index.
//
// Per candle after the first: +DM, -DM and true range against the previous
// candle. The first period values are summed, then Wilder-smoothed as
// s = s - s/period + x. DX = 100*|DI+ - DI-|/(DI+ + DI-). ADX is the SMA of
// the first period DX values, then Wilder-smoothed. First defined on the
// 2*period-th candle.
type ADX struct {
	period int
	count  int

	prevHigh  float64
	prevLow   float64
	prevClose float64

	tr      float64 // smoothed true range
	plusDM  float64 // smoothed +DM
	minusDM float64 // smoothed -DM

	dx smma
}

// NewADX creates an ADX indicator (typically period 14).
func NewADX(period int) *ADX {
	return &ADX{period: period, dx: smma{period: period}}
}

func (a *ADX) Name() string { return model.IndADX }

func (a *ADX) Update(candle model.Candle) {
	a.count++
	if a.count == 1 {
		a.prevHigh, a.prevLow, a.prevClose = candle.High, candle.Low, candle.Close
		return
	}

	up := candle.High - a.prevHigh
	down := a.prevLow - candle.Low
	plusDM, minusDM := 0.0, 0.0
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	tr := math.Max(candle.High-candle.Low,
		math.Max(math.Abs(candle.High-a.prevClose), math.Abs(candle.Low-a.prevClose)))

	a.prevHigh, a.prevLow, a.prevClose = candle.High, candle.Low, candle.Close

	deltas := a.count - 1
	p := float64(a.period)
	if deltas <= a.period {
		a.tr += tr
		a.plusDM += plusDM
		a.minusDM += minusDM
		if deltas < a.period {
			return
		}
	} else {
		a.tr = a.tr - a.tr/p + tr
		a.plusDM = a.plusDM - a.plusDM/p + plusDM
		a.minusDM = a.minusDM - a.minusDM/p + minusDM
	}

	a.dx.add(dxFrom(a.plusDM, a.minusDM, a.tr))
}

// dxFrom computes the directional index. Zero true range or zero combined
// directional movement resolve to 0 (no trend).
func dxFrom(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

func (a *ADX) Value() float64 { return a.dx.current }
func (a *ADX) Ready() bool    { return a.dx.ready() }
func (a *ADX) Lookback() int  { return 2 * a.period }

// Snapshot serializes the ADX state for checkpoint persistence.
func (a *ADX) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      TypeADX,
		Period:    a.period,
		Count:     a.count,
		PrevHigh:  a.prevHigh,
		PrevLow:   a.prevLow,
		PrevClose: a.prevClose,
		TR:        a.tr,
		PlusDM:    a.plusDM,
		MinusDM:   a.minusDM,
		DXCount:   a.dx.count,
		Sum:       a.dx.sum,
		Current:   a.dx.current,
	}
}

// RestoreFromSnapshot restores ADX state from a checkpoint.
func (a *ADX) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	a.period = snap.Period
	a.count = snap.Count
	a.prevHigh = snap.PrevHigh
	a.prevLow = snap.PrevLow
	a.prevClose = snap.PrevClose
	a.tr = snap.TR
	a.plusDM = snap.PlusDM
	a.minusDM = snap.MinusDM
	a.dx = smma{period: snap.Period, count: snap.DXCount, sum: snap.Sum, current: snap.Current}
	return nil
}
