package model

import "time"

// CoverageRequirement describes the data needed before a run may start.
// The analysis window is half-open: [WindowStart, WindowEnd).
type CoverageRequirement struct {
	Pair        string    `json:"pair"`
	Timeframe   Timeframe `json:"timeframe"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	WarmupBars  int       `json:"warmup_bars"`
}

// RequiredStart is WindowStart minus WarmupBars timeframe units.
func (r CoverageRequirement) RequiredStart() time.Time {
	return r.WindowStart.Add(-time.Duration(r.WarmupBars) * r.Timeframe.Duration())
}

// LastBar is the open time of the final candle inside the window.
func (r CoverageRequirement) LastBar() time.Time {
	return r.WindowEnd.Add(-r.Timeframe.Duration())
}

// TimeRange is a closed interval [From, To] of bar open times.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
