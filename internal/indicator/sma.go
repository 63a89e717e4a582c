package indicator

import (
	"fmt"

	"signalfusion/internal/model"
)

// Source selects the candle field an SMA averages.
const (
	SourceClose  = "close"
	SourceVolume = "volume"
)

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	source  string
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA over the given candle field.
func NewSMA(period int, source string) *SMA {
	if source == "" {
		source = SourceClose
	}
	return &SMA{
		period: period,
		source: source,
		buf:    make([]float64, period),
	}
}

// NewVolumeSMA is the volume filter average used by entry rules.
func NewVolumeSMA(period int) *SMA { return NewSMA(period, SourceVolume) }

func (s *SMA) Name() string {
	if s.source == SourceVolume {
		return model.IndVolSMA
	}
	return "sma"
}

func (s *SMA) Update(candle model.Candle) {
	v := candle.Close
	if s.source == SourceVolume {
		v = candle.Volume
	}

	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }
func (s *SMA) Lookback() int  { return s.period }

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return IndicatorSnapshot{
		Type:    TypeSMA,
		Period:  s.period,
		Source:  s.source,
		Buf:     bufCopy,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if len(snap.Buf) != 0 && len(snap.Buf) != snap.Period {
		return fmt.Errorf("sma snapshot: buffer length %d != period %d", len(snap.Buf), snap.Period)
	}
	s.period = snap.Period
	s.source = snap.Source
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	s.buf = make([]float64, snap.Period)
	copy(s.buf, snap.Buf)
	return nil
}
