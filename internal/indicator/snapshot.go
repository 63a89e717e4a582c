package indicator

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"signalfusion/internal/model"
)

// Indicator type tags used in snapshots.
const (
	TypeRSI   = "RSI"
	TypeWillR = "WILLR"
	TypeADX   = "ADX"
	TypeSMA   = "SMA"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // "RSI", "WILLR", "ADX", "SMA"
	Period int    `json:"period"` // indicator period
	Source string `json:"source,omitempty"`

	Count   int     `json:"count"`
	Current float64 `json:"current"`

	// Ring buffer fields (SMA: values, WILLR: highs + lows)
	Buf  []float64 `json:"buf,omitempty"`
	Buf2 []float64 `json:"buf2,omitempty"`
	Idx  int       `json:"idx,omitempty"`
	Sum  float64   `json:"sum,omitempty"`

	// RSI fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// ADX fields
	PrevHigh float64 `json:"prev_high,omitempty"`
	PrevLow  float64 `json:"prev_low,omitempty"`
	TR       float64 `json:"tr,omitempty"`
	PlusDM   float64 `json:"plus_dm,omitempty"`
	MinusDM  float64 `json:"minus_dm,omitempty"`
	DXCount  int     `json:"dx_count,omitempty"`
}

// InstrumentSnapshot holds indicator snapshots for one pair|timeframe.
type InstrumentSnapshot struct {
	Pair       string              `json:"pair"`
	Timeframe  model.Timeframe     `json:"timeframe"`
	Last       model.Candle        `json:"last"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	Version     int                  `json:"version"` // schema version for forward compat
	Spec        Spec                 `json:"spec"`
	TakenAt     time.Time            `json:"taken_at"`
	Instruments []InstrumentSnapshot `json:"instruments"`
}

func snapshotKey(typ string, period int, source string) string {
	return typ + ":" + strconv.Itoa(period) + ":" + source
}

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		Version: 1,
		Spec:    e.spec,
		TakenAt: time.Now().UTC(),
	}

	for _, st := range e.state {
		if !st.seen {
			continue
		}
		is := InstrumentSnapshot{
			Pair:       st.last.Pair,
			Timeframe:  st.last.Timeframe,
			Last:       st.last,
			Indicators: make([]IndicatorSnapshot, 0, len(st.indicators)),
		}
		for _, ind := range st.indicators {
			si, ok := ind.(Snapshottable)
			if !ok {
				return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
			}
			is.Indicators = append(is.Indicators, si.Snapshot())
		}
		snap.Instruments = append(snap.Instruments, is)
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot.
// Indicators are matched by Type+Period+Source rather than by index. Matching
// indicators get their state restored; indicators whose period changed start
// cold and the instrument's last candle is kept, so they warm up again from
// the next candle.
func RestoreEngine(spec Spec, snap *EngineSnapshot) (*Engine, error) {
	e := NewEngine(spec)
	if snap == nil {
		return e, nil
	}
	if snap.Version != 1 {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	for _, is := range snap.Instruments {
		st := &instrumentState{indicators: spec.build(), last: is.Last, seen: true}

		lookup := make(map[string]IndicatorSnapshot, len(is.Indicators))
		for _, indSnap := range is.Indicators {
			lookup[snapshotKey(indSnap.Type, indSnap.Period, indSnap.Source)] = indSnap
		}

		restored, cold := 0, 0
		for _, ind := range st.indicators {
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			cur := si.Snapshot()
			indSnap, found := lookup[snapshotKey(cur.Type, cur.Period, cur.Source)]
			if !found {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(indSnap); err != nil {
				return nil, fmt.Errorf("restore %s for %s: %w", cur.Type, is.Pair, err)
			}
			restored++
		}

		if cold > 0 {
			log.Printf("[restorer] %s %s: restored %d, cold-started %d indicators",
				is.Pair, is.Timeframe, restored, cold)
		}
		e.state[model.InstrumentKey(is.Pair, is.Timeframe)] = st
	}

	return e, nil
}
