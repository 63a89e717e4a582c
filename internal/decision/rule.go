// Package decision is the rule-based (non-ML) path from a feature record to a
// discrete action.
package decision

import (
	"fmt"

	"signalfusion/internal/model"
)

// Rule holds fixed threshold parameters. The zero value is not useful; start
// from DefaultRule. A Rule is a value type with no internal state, so Decide
// is a pure function of its input record.
type Rule struct {
	RSILow    float64 `yaml:"rsi_low" default:"30"`
	RSIHigh   float64 `yaml:"rsi_high" default:"70"`
	WillRLow  float64 `yaml:"willr_low" default:"-80"`
	WillRHigh float64 `yaml:"willr_high" default:"-20"`
	ADXMin    float64 `yaml:"adx_min" default:"25" validate:"gte=0,lte=100"`

	// SentimentFloor gates long entries on normalized sentiment [0, 1].
	// 0 disables the gate.
	SentimentFloor float64 `yaml:"sentiment_floor" validate:"gte=0,lte=1"`

	// VolumeFilter requires volume above its moving average for entries.
	VolumeFilter bool `yaml:"volume_filter" default:"true"`

	AllowShort bool `yaml:"allow_short"`
}

// DefaultRule returns the oversold-bounce thresholds: RSI 30/70, Williams %R
// -80/-20, ADX above 25, volume filter on, shorts disabled.
func DefaultRule() Rule {
	return Rule{
		RSILow: 30, RSIHigh: 70,
		WillRLow: -80, WillRHigh: -20,
		ADXMin:       25,
		VolumeFilter: true,
	}
}

// Decide maps one record to an action. Priority: enter_long, enter_short,
// exit, hold. Records that are not ready always hold.
func (r Rule) Decide(rec model.FeatureRecord) model.Decision {
	d := model.Decision{TS: rec.TS, Pair: rec.Pair, Action: model.ActionHold}

	if !rec.Ready {
		d.Reason = "warm-up"
		return d
	}

	rsi, _ := rec.Indicators.Get(model.IndRSI)
	willr, _ := rec.Indicators.Get(model.IndWillR)
	adx, _ := rec.Indicators.Get(model.IndADX)

	trending := adx > r.ADXMin
	volumeOK := !r.VolumeFilter || rec.VolAboveSMA > 0

	switch {
	case rsi < r.RSILow && willr < r.WillRLow && trending && volumeOK &&
		(r.SentimentFloor <= 0 || rec.SentimentNormalized >= r.SentimentFloor):
		d.Action = model.ActionEnterLong
		d.Reason = fmt.Sprintf("oversold rsi=%.2f willr=%.2f adx=%.2f", rsi, willr, adx)

	case r.AllowShort && rsi > r.RSIHigh && willr > r.WillRHigh && trending && volumeOK:
		d.Action = model.ActionEnterShort
		d.Reason = fmt.Sprintf("overbought rsi=%.2f willr=%.2f adx=%.2f", rsi, willr, adx)

	case rsi > r.RSIHigh || willr > r.WillRHigh:
		d.Action = model.ActionExit
		d.Reason = fmt.Sprintf("overbought rsi=%.2f willr=%.2f", rsi, willr)

	default:
		d.Reason = "no signal"
	}
	return d
}
