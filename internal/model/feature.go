package model

import "time"

// FeatureRecord is the per-candle composite handed to the model/decision stage.
type FeatureRecord struct {
	TS                  time.Time    `json:"ts"`
	Pair                string       `json:"pair"`
	Timeframe           Timeframe    `json:"timeframe"`
	Close               float64      `json:"close"`
	Volume              float64      `json:"volume"`
	Indicators          IndicatorSet `json:"indicators"`
	Sentiment           float64      `json:"sentiment"`
	SentimentNormalized float64      `json:"sentiment_normalized"`
	FearGreed           float64      `json:"fear_greed"`
	VolAboveSMA         float64      `json:"vol_above_sma"`
	Degraded            []SignalKind `json:"degraded,omitempty"`
	Ready               bool         `json:"ready"`
}

// Key returns the instrument key "pair|timeframe".
func (r *FeatureRecord) Key() string {
	return InstrumentKey(r.Pair, r.Timeframe)
}

// IsDegraded reports whether kind fell back to its neutral default.
func (r *FeatureRecord) IsDegraded(kind SignalKind) bool {
	for _, k := range r.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

// Action is a discrete Decision Rule output.
type Action string

const (
	ActionEnterLong  Action = "enter_long"
	ActionEnterShort Action = "enter_short"
	ActionExit       Action = "exit"
	ActionHold       Action = "hold"
)

// Decision is the rule-based output for one feature record.
type Decision struct {
	TS     time.Time `json:"ts"`
	Pair   string    `json:"pair"`
	Action Action    `json:"action"`
	Reason string    `json:"reason"`
}
