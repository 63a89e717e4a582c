// Package feature merges one candle's indicators and external signals into
// the record consumed by the regressor and the decision rule.
package feature

import (
	"fmt"
	"time"

	"signalfusion/internal/model"
)

// Compose builds the FeatureRecord for candle c. It is pure: the same inputs
// always produce the same record.
//
// asOf is the latest time the record may observe (normally the candle close).
// A signal stamped after asOf is treated as an error and replaced by its
// neutral value, as is any signal whose status is not ok. A record with
// any undefined indicator is still emitted with Ready=false.
func Compose(c model.Candle, inds model.IndicatorSet, sentiment, fearGreed model.ExternalSignal, asOf time.Time) model.FeatureRecord {
	rec := model.FeatureRecord{
		TS:         c.TS,
		Pair:       c.Pair,
		Timeframe:  c.Timeframe,
		Close:      c.Close,
		Volume:     c.Volume,
		Indicators: copySet(inds),
		Ready:      len(inds) > 0 && inds.AllDefined(),
	}

	s := resolve(model.KindSentiment, sentiment, asOf)
	fg := resolve(model.KindFearGreed, fearGreed, asOf)
	for _, sig := range []model.ExternalSignal{s, fg} {
		if !sig.OK() {
			rec.Degraded = append(rec.Degraded, sig.Kind)
		}
	}

	rec.Sentiment = s.Value
	rec.SentimentNormalized = (s.Value + 1) / 2
	rec.FearGreed = fg.Value

	// An undefined average compares as 0.
	volSMA, _ := inds.Get(model.IndVolSMA)
	if c.Volume > volSMA {
		rec.VolAboveSMA = 1
	}
	return rec
}

// resolve applies the lookahead guard and neutral substitution.
func resolve(kind model.SignalKind, sig model.ExternalSignal, asOf time.Time) model.ExternalSignal {
	if sig.Kind == "" {
		sig.Kind = kind
	}
	if sig.Kind != kind {
		return model.Degraded(kind, asOf, model.StatusError, fmt.Sprintf("expected %s signal, got %s", kind, sig.Kind))
	}
	if sig.OK() && sig.SourceTS.After(asOf) {
		return model.Degraded(kind, asOf, model.StatusError,
			fmt.Sprintf("%v: %s observed at %s after %s", model.ErrExternalSignalDegraded,
				kind, sig.SourceTS.UTC().Format(time.RFC3339), asOf.UTC().Format(time.RFC3339)))
	}
	if sig.OK() && !model.Finite(sig.Value) {
		return model.Degraded(kind, asOf, model.StatusError,
			fmt.Sprintf("%v: %s value %v is not finite", model.ErrExternalSignalDegraded, kind, sig.Value))
	}
	if !sig.OK() {
		sig.Value = kind.Neutral()
		return sig
	}
	sig.Value = kind.Clamp(sig.Value)
	return sig
}

func copySet(in model.IndicatorSet) model.IndicatorSet {
	out := make(model.IndicatorSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AsOf returns the time at which candle c is fully known: its close.
func AsOf(c model.Candle) time.Time {
	return c.TS.Add(c.Timeframe.Duration())
}
