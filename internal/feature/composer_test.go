package feature

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfusion/internal/model"
)

var barTS = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func candle() model.Candle {
	return model.Candle{
		Pair: "BTC/USDT", Timeframe: "5m", TS: barTS,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 120,
	}
}

func readySet() model.IndicatorSet {
	return model.IndicatorSet{
		model.IndRSI:    {Value: 28, Defined: true},
		model.IndWillR:  {Value: -85, Defined: true},
		model.IndADX:    {Value: 30, Defined: true},
		model.IndVolSMA: {Value: 100, Defined: true},
	}
}

func ok(kind model.SignalKind, v float64, src time.Time) model.ExternalSignal {
	return model.ExternalSignal{TS: src, Kind: kind, Value: v, Status: model.StatusOK, SourceTS: src}
}

func TestCompose_AllOK(t *testing.T) {
	c := candle()
	asOf := AsOf(c)
	rec := Compose(c, readySet(),
		ok(model.KindSentiment, 0.5, asOf),
		ok(model.KindFearGreed, 0.7, asOf.Add(-time.Hour)),
		asOf)

	assert.True(t, rec.Ready)
	assert.Empty(t, rec.Degraded)
	assert.Equal(t, 0.5, rec.Sentiment)
	assert.Equal(t, 0.75, rec.SentimentNormalized)
	assert.Equal(t, 0.7, rec.FearGreed)
	assert.Equal(t, 1.0, rec.VolAboveSMA)
	assert.Equal(t, c.Close, rec.Close)
	assert.True(t, rec.TS.Equal(c.TS))
}

func TestCompose_DegradedSignalsUseNeutral(t *testing.T) {
	c := candle()
	asOf := AsOf(c)
	rec := Compose(c, readySet(),
		model.Degraded(model.KindSentiment, asOf, model.StatusError, "timeout"),
		model.Degraded(model.KindFearGreed, asOf, model.StatusStale, "old"),
		asOf)

	assert.Equal(t, model.NeutralSentiment, rec.Sentiment)
	assert.Equal(t, 0.5, rec.SentimentNormalized)
	assert.Equal(t, model.NeutralFearGreed, rec.FearGreed)
	assert.ElementsMatch(t, []model.SignalKind{model.KindSentiment, model.KindFearGreed}, rec.Degraded)
	assert.True(t, rec.Ready, "degraded signals do not affect readiness")
}

func TestCompose_NonFiniteSignalUsesNeutral(t *testing.T) {
	c := candle()
	asOf := AsOf(c)
	rec := Compose(c, readySet(), ok(model.KindSentiment, math.Inf(1), barTS), ok(model.KindFearGreed, math.NaN(), barTS), asOf)

	assert.Equal(t, model.NeutralSentiment, rec.Sentiment)
	assert.Equal(t, model.NeutralFearGreed, rec.FearGreed)
	assert.ElementsMatch(t, []model.SignalKind{model.KindSentiment, model.KindFearGreed}, rec.Degraded)

	_, err := json.Marshal(rec)
	require.NoError(t, err)
}

func TestCompose_FutureSignalIsRejected(t *testing.T) {
	c := candle()
	asOf := AsOf(c)
	rec := Compose(c, readySet(),
		ok(model.KindSentiment, 0.9, asOf.Add(time.Second)),
		ok(model.KindFearGreed, 0.2, asOf),
		asOf)

	assert.Equal(t, model.NeutralSentiment, rec.Sentiment)
	assert.True(t, rec.IsDegraded(model.KindSentiment))
	assert.False(t, rec.IsDegraded(model.KindFearGreed))
	assert.Equal(t, 0.2, rec.FearGreed)
}

func TestCompose_UndefinedIndicatorNotReady(t *testing.T) {
	c := candle()
	set := readySet()
	set[model.IndADX] = model.IndicatorValue{}
	rec := Compose(c, set, ok(model.KindSentiment, 0, AsOf(c)), ok(model.KindFearGreed, 0.5, AsOf(c)), AsOf(c))

	assert.False(t, rec.Ready)
	_, defined := rec.Indicators.Get(model.IndADX)
	assert.False(t, defined)
}

func TestCompose_DoesNotAliasIndicators(t *testing.T) {
	c := candle()
	set := readySet()
	rec := Compose(c, set, ok(model.KindSentiment, 0, AsOf(c)), ok(model.KindFearGreed, 0.5, AsOf(c)), AsOf(c))
	set[model.IndRSI] = model.IndicatorValue{Value: 99, Defined: true}

	v, _ := rec.Indicators.Get(model.IndRSI)
	require.Equal(t, 28.0, v)
}

func TestCompose_IsDeterministic(t *testing.T) {
	c := candle()
	s := ok(model.KindSentiment, -0.3, AsOf(c))
	fg := model.Degraded(model.KindFearGreed, AsOf(c), model.StatusMissing, "none")
	a := Compose(c, readySet(), s, fg, AsOf(c))
	b := Compose(c, readySet(), s, fg, AsOf(c))
	assert.Equal(t, a, b)
}

func TestAsOf_IsCandleClose(t *testing.T) {
	assert.True(t, AsOf(candle()).Equal(barTS.Add(5*time.Minute)))
}
