package model

import (
	"math"
	"time"
)

// SignalKind identifies an external data source.
type SignalKind string

const (
	KindSentiment SignalKind = "sentiment"
	KindFearGreed SignalKind = "fear_greed"
)

// SignalKinds lists every external signal composed into a feature record.
var SignalKinds = []SignalKind{KindSentiment, KindFearGreed}

// Neutral defaults substituted when a signal is unavailable.
const (
	NeutralSentiment = 0.0 // compound score range [-1, 1]
	NeutralFearGreed = 0.5 // index range [0, 1] (provider 0..100 / 100)
)

// Neutral returns the documented no-bias value for the kind.
func (k SignalKind) Neutral() float64 {
	if k == KindFearGreed {
		return NeutralFearGreed
	}
	return NeutralSentiment
}

// Range returns the normalized [min, max] of the kind's values.
func (k SignalKind) Range() (float64, float64) {
	if k == KindFearGreed {
		return 0, 1
	}
	return -1, 1
}

// Clamp limits v to the kind's normalized range.
func (k SignalKind) Clamp(v float64) float64 {
	lo, hi := k.Range()
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// SignalStatus tags how an ExternalSignal value was obtained.
type SignalStatus string

const (
	StatusOK      SignalStatus = "ok"
	StatusMissing SignalStatus = "missing"
	StatusStale   SignalStatus = "stale"
	StatusError   SignalStatus = "error"
)

// ExternalSignal is one fetch result for (kind, timestamp). Value always holds
// a usable number: the observed value when Status is ok, the neutral default otherwise.
type ExternalSignal struct {
	TS       time.Time    `json:"ts"`        // requested timestamp
	Kind     SignalKind   `json:"kind"`
	Value    float64      `json:"value"`
	Status   SignalStatus `json:"status"`
	SourceTS time.Time    `json:"source_ts"` // timestamp of the observation used
	Err      string       `json:"err,omitempty"`
}

// OK reports whether the signal carries an observed value.
func (s ExternalSignal) OK() bool { return s.Status == StatusOK }

// Degraded builds a neutral-valued signal with the given status.
func Degraded(kind SignalKind, ts time.Time, status SignalStatus, reason string) ExternalSignal {
	return ExternalSignal{TS: ts, Kind: kind, Value: kind.Neutral(), Status: status, Err: reason}
}

// FetchMode selects where the fetcher reads signals from.
type FetchMode string

const (
	ModeLive       FetchMode = "live"
	ModeHistorical FetchMode = "historical"
)
