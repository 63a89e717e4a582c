package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signalfusion/internal/model"
)

func record(rsi, willr, adx float64) model.FeatureRecord {
	return model.FeatureRecord{
		TS:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Pair: "BTC/USDT", Timeframe: "5m",
		Indicators: model.IndicatorSet{
			model.IndRSI:    {Value: rsi, Defined: true},
			model.IndWillR:  {Value: willr, Defined: true},
			model.IndADX:    {Value: adx, Defined: true},
			model.IndVolSMA: {Value: 100, Defined: true},
		},
		Volume:              150,
		VolAboveSMA:         1,
		SentimentNormalized: 0.5,
		FearGreed:           0.5,
		Ready:               true,
	}
}

func TestDecide_Table(t *testing.T) {
	rule := DefaultRule()
	shorts := DefaultRule()
	shorts.AllowShort = true

	cases := []struct {
		name string
		rule Rule
		rec  model.FeatureRecord
		want model.Action
	}{
		{"oversold trending", rule, record(25, -90, 30), model.ActionEnterLong},
		{"oversold weak trend", rule, record(25, -90, 20), model.ActionHold},
		{"adx at threshold", rule, record(25, -90, 25), model.ActionHold},
		{"rsi oversold only", rule, record(25, -50, 30), model.ActionHold},
		{"overbought exits", rule, record(75, -50, 10), model.ActionExit},
		{"willr overbought exits", rule, record(50, -10, 10), model.ActionExit},
		{"overbought no shorts", rule, record(75, -10, 40), model.ActionExit},
		{"overbought with shorts", shorts, record(75, -10, 40), model.ActionEnterShort},
		{"neutral", rule, record(50, -50, 40), model.ActionHold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.rule.Decide(tc.rec)
			assert.Equal(t, tc.want, got.Action, got.Reason)
			assert.Equal(t, tc.rec.Pair, got.Pair)
			assert.True(t, got.TS.Equal(tc.rec.TS))
		})
	}
}

func TestDecide_NotReadyHolds(t *testing.T) {
	rec := record(10, -99, 60)
	rec.Ready = false
	d := DefaultRule().Decide(rec)
	assert.Equal(t, model.ActionHold, d.Action)
	assert.Equal(t, "warm-up", d.Reason)
}

func TestDecide_VolumeFilter(t *testing.T) {
	rec := record(25, -90, 30)
	rec.VolAboveSMA = 0

	assert.Equal(t, model.ActionHold, DefaultRule().Decide(rec).Action)

	off := DefaultRule()
	off.VolumeFilter = false
	assert.Equal(t, model.ActionEnterLong, off.Decide(rec).Action)
}

func TestDecide_SentimentFloor(t *testing.T) {
	rule := DefaultRule()
	rule.SentimentFloor = 0.6

	rec := record(25, -90, 30)
	rec.SentimentNormalized = 0.5
	assert.Equal(t, model.ActionHold, rule.Decide(rec).Action)

	rec.SentimentNormalized = 0.6
	assert.Equal(t, model.ActionEnterLong, rule.Decide(rec).Action)
}

func TestDecide_IsPure(t *testing.T) {
	rule := DefaultRule()
	recs := []model.FeatureRecord{
		record(25, -90, 30), record(75, -10, 40), record(50, -50, 40),
	}
	first := make([]model.Decision, len(recs))
	for i, r := range recs {
		first[i] = rule.Decide(r)
	}
	// Interleave and repeat; nothing carries over between calls.
	for round := 0; round < 5; round++ {
		for i := len(recs) - 1; i >= 0; i-- {
			assert.Equal(t, first[i], rule.Decide(recs[i]))
		}
	}
}
