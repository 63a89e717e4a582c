package model

// Indicator names used as IndicatorSet keys and feature columns.
const (
	IndRSI    = "rsi"
	IndWillR  = "willr"
	IndADX    = "adx"
	IndVolSMA = "vol_sma"
)

// IndicatorValue is a computed value or "undefined" while the indicator warms up.
type IndicatorValue struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
}

// IndicatorSet maps indicator name to its value for one candle.
type IndicatorSet map[string]IndicatorValue

// Get returns the value and whether it is defined. Unknown names are undefined.
func (s IndicatorSet) Get(name string) (float64, bool) {
	v, ok := s[name]
	if !ok || !v.Defined {
		return 0, false
	}
	return v.Value, true
}

// AllDefined reports whether every indicator in the set has left warm-up.
func (s IndicatorSet) AllDefined() bool {
	for _, v := range s {
		if !v.Defined {
			return false
		}
	}
	return true
}
