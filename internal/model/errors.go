package model

import (
	"errors"
	"fmt"
	"time"
)

// DataIntegrityError reports duplicate/out-of-order candles or invalid OHLC.
// It is fatal: the run aborts and the data is never silently repaired.
type DataIntegrityError struct {
	Pair      string
	Timeframe Timeframe
	TS        time.Time
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s at %s: %s",
		e.Pair, e.Timeframe, e.TS.UTC().Format(time.RFC3339), e.Reason)
}

// CoverageError reports insufficient local candle history for a window.
// It is fatal and raised before any computation begins.
type CoverageError struct {
	Pair      string
	Timeframe Timeframe
	Missing   []TimeRange
}

func (e *CoverageError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("coverage: %s %s: no candle history", e.Pair, e.Timeframe)
	}
	m := e.Missing[0]
	return fmt.Sprintf("coverage: %s %s: %d missing range(s), first %s..%s",
		e.Pair, e.Timeframe, len(e.Missing),
		m.From.UTC().Format(time.RFC3339), m.To.UTC().Format(time.RFC3339))
}

// ErrNoData is returned (wrapped) by a CandleSource with no history at all
// for the requested instrument.
var ErrNoData = errors.New("no candle data")

// ErrExternalSignalDegraded marks a recovered fetch failure or staleness.
// It is never returned to callers of the pipeline, only recorded on signals.
var ErrExternalSignalDegraded = errors.New("external signal degraded")

// IsFatal reports whether err belongs to a hard-failure category.
func IsFatal(err error) bool {
	var di *DataIntegrityError
	var ce *CoverageError
	return errors.As(err, &di) || errors.As(err, &ce)
}
