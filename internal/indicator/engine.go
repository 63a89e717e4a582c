package indicator

import (
	"fmt"

	"signalfusion/internal/model"
)

// Spec holds the indicator period parameters from run configuration.
type Spec struct {
	RSIPeriod    int `json:"rsi_period" yaml:"rsi_period" default:"14" validate:"gte=2"`
	WillRPeriod  int `json:"willr_period" yaml:"willr_period" default:"14" validate:"gte=2"`
	ADXPeriod    int `json:"adx_period" yaml:"adx_period" default:"14" validate:"gte=2"`
	VolSMAPeriod int `json:"vol_sma_period" yaml:"vol_sma_period" default:"50" validate:"gte=1"`
}

// DefaultSpec mirrors the strategy defaults (RSI 14, WillR 14, ADX 14, volume SMA 50).
func DefaultSpec() Spec {
	return Spec{RSIPeriod: 14, WillRPeriod: 14, ADXPeriod: 14, VolSMAPeriod: 50}
}

// Validate checks that every period is usable.
func (s Spec) Validate() error {
	if s.RSIPeriod < 2 || s.WillRPeriod < 2 || s.ADXPeriod < 2 {
		return fmt.Errorf("indicator periods must be >= 2 (rsi=%d willr=%d adx=%d)",
			s.RSIPeriod, s.WillRPeriod, s.ADXPeriod)
	}
	if s.VolSMAPeriod < 1 {
		return fmt.Errorf("vol_sma period must be >= 1, got %d", s.VolSMAPeriod)
	}
	return nil
}

// Warmup is the largest lookback across the configured indicators: the number
// of candles before every indicator is defined.
func (s Spec) Warmup() int {
	w := 0
	for _, ind := range s.build() {
		if lb := ind.Lookback(); lb > w {
			w = lb
		}
	}
	return w
}

// build creates fresh indicator instances in a fixed order.
func (s Spec) build() []Indicator {
	return []Indicator{
		NewRSI(s.RSIPeriod),
		NewWilliamsR(s.WillRPeriod),
		NewADX(s.ADXPeriod),
		NewVolumeSMA(s.VolSMAPeriod),
	}
}

// instrumentState holds live indicator instances for one pair|timeframe.
type instrumentState struct {
	indicators []Indicator
	last       model.Candle
	seen       bool
}

// Engine computes indicators for many instruments.
// Designed for single-goroutine usage; no locks needed. Each instrument's
// candles must arrive in strictly increasing timestamp order.
type Engine struct {
	spec  Spec
	state map[string]*instrumentState

	processed int
}

// NewEngine creates an indicator engine with the given periods.
func NewEngine(spec Spec) *Engine {
	return &Engine{
		spec:  spec,
		state: make(map[string]*instrumentState, 16),
	}
}

// Spec returns the engine's indicator configuration.
func (e *Engine) Spec() Spec { return e.spec }

// Processed returns the total number of candles fed through the engine.
func (e *Engine) Processed() int { return e.processed }

// Process validates the candle, advances the instrument's rolling state and
// returns the resulting IndicatorSet. Invalid or out-of-order candles return a
// *model.DataIntegrityError and leave state untouched.
func (e *Engine) Process(c model.Candle) (model.IndicatorSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key := c.Key()
	st, exists := e.state[key]
	if !exists {
		st = &instrumentState{indicators: e.spec.build()}
		e.state[key] = st
	}
	if st.seen {
		if err := model.CheckOrder(st.last, c); err != nil {
			return nil, err
		}
	}

	set := make(model.IndicatorSet, len(st.indicators))
	for _, ind := range st.indicators {
		ind.Update(c)
		set[ind.Name()] = result(ind)
	}
	st.last = c
	st.seen = true
	e.processed++
	return set, nil
}

// Reset drops an instrument's rolling state; its next candle starts cold.
func (e *Engine) Reset(pair string, tf model.Timeframe) {
	delete(e.state, model.InstrumentKey(pair, tf))
}

// Last returns the most recent candle processed for an instrument.
func (e *Engine) Last(pair string, tf model.Timeframe) (model.Candle, bool) {
	st, ok := e.state[model.InstrumentKey(pair, tf)]
	if !ok || !st.seen {
		return model.Candle{}, false
	}
	return st.last, true
}
