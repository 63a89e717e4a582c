package model

import (
	"context"
	"fmt"
	"time"
)

// ── Port Interfaces ──
// These decouple the core from concrete storage and transport
// implementations (SQLite, JSON files, Redis, WebSocket).

// CandleIterator yields candles in ascending timestamp order.
type CandleIterator interface {
	// Next returns the next candle. ok=false signals "no more data".
	Next() (c Candle, ok bool, err error)

	// Close releases underlying resources.
	Close() error
}

// CandleSource supplies OHLCV history per instrument and timeframe.
type CandleSource interface {
	// Candles iterates candles with from <= TS < to, sorted ascending.
	Candles(ctx context.Context, pair string, tf Timeframe, from, to time.Time) (CandleIterator, error)
}

// RecordSink is a downstream consumer of feature records.
type RecordSink interface {
	// Emit delivers one record and its decision (nil on the ML-only path).
	Emit(ctx context.Context, rec FeatureRecord, dec *Decision) error

	// Close flushes and releases underlying resources.
	Close() error
}

// SliceIterator iterates over an in-memory candle slice.
type SliceIterator struct {
	candles []Candle
	pos     int
}

// NewSliceIterator wraps candles (assumed already sorted).
func NewSliceIterator(candles []Candle) *SliceIterator {
	return &SliceIterator{candles: candles}
}

func (it *SliceIterator) Next() (Candle, bool, error) {
	if it.pos >= len(it.candles) {
		return Candle{}, false, nil
	}
	c := it.candles[it.pos]
	it.pos++
	return c, true, nil
}

func (it *SliceIterator) Close() error { return nil }

// Drain reads every remaining candle from it and closes it.
func Drain(it CandleIterator) ([]Candle, error) {
	defer it.Close()
	var out []Candle
	for {
		c, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

// MemorySource is an in-memory CandleSource keyed by instrument.
// Candles must be added in ascending order per instrument.
type MemorySource struct {
	series map[string][]Candle
}

// NewMemorySource groups candles by pair|timeframe.
func NewMemorySource(candles ...Candle) *MemorySource {
	m := &MemorySource{series: make(map[string][]Candle)}
	for _, c := range candles {
		m.series[c.Key()] = append(m.series[c.Key()], c)
	}
	return m
}

// Candles returns the candles in [from, to). Unknown instruments wrap ErrNoData.
func (m *MemorySource) Candles(ctx context.Context, pair string, tf Timeframe, from, to time.Time) (CandleIterator, error) {
	all, ok := m.series[InstrumentKey(pair, tf)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", pair, tf, ErrNoData)
	}
	var out []Candle
	for _, c := range all {
		if !c.TS.Before(from) && c.TS.Before(to) {
			out = append(out, c)
		}
	}
	return NewSliceIterator(out), nil
}
