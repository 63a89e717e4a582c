package indicator

import (
	"math"
	"testing"
	"time"

	"signalfusion/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func hlc(i int, high, low, close float64) model.Candle {
	open := close
	if open > high {
		open = high
	}
	if open < low {
		open = low
	}
	return model.Candle{
		Pair: "BTC/USDT", Timeframe: "5m",
		TS:   t0.Add(time.Duration(i) * 5 * time.Minute),
		Open: open, High: high, Low: low, Close: close, Volume: 100,
	}
}

func closeOnly(i int, close float64) model.Candle {
	return hlc(i, close+0.5, close-0.5, close)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// hlcBars is a short hand-checked series used by Williams %R and ADX.
func hlcBars() []model.Candle {
	return []model.Candle{
		hlc(0, 10, 8, 9),
		hlc(1, 11, 9, 10),
		hlc(2, 12, 10, 11),
		hlc(3, 12, 9, 9),
		hlc(4, 9, 7, 8),
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Closes: 100, 102, 101, 103, 102, 104 → deltas +2, -1, +2, -1, +2
	// Seed after 3 deltas: avgGain = 4/3, avgLoss = 1/3 → RS=4 → RSI=80
	// Candle 5 (-1): avgGain = 8/9,  avgLoss = 5/9  → RS=1.6 → 61.5385
	// Candle 6 (+2): avgGain = 34/27, avgLoss = 10/27 → RS=3.4 → 77.2727

	rsi := NewRSI(3)
	closes := []float64{100, 102, 101, 103, 102, 104}
	expected := []float64{0, 0, 0, 80.0, 61.538462, 77.272727}
	ready := []bool{false, false, false, true, true, true}

	for i, p := range closes {
		rsi.Update(closeOnly(i, p))
		if rsi.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, rsi.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "RSI(3)", rsi.Value(), expected[i], 0.0001)
		}
	}
}

func TestRSI_FlatSeries_IsNeutral(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 6; i++ {
		rsi.Update(closeOnly(i, 100))
	}
	assertClose(t, "flat RSI", rsi.Value(), 50.0, 0)
}

func TestRSI_OnlyGains_Is100(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 6; i++ {
		rsi.Update(closeOnly(i, 100+float64(i)))
	}
	assertClose(t, "rising RSI", rsi.Value(), 100.0, 0)
}

// ────────────────────────────────────────────────────────────
// Williams %R Correctness
// ────────────────────────────────────────────────────────────

func TestWilliamsR_Correctness_Period3(t *testing.T) {
	// Candle 3: HH=12 LL=8  C=11 → (12-11)/4 * -100 = -25
	// Candle 4: HH=12 LL=9  C=9  → (12-9)/3  * -100 = -100
	// Candle 5: HH=12 LL=7  C=8  → (12-8)/5  * -100 = -80

	w := NewWilliamsR(3)
	expected := []float64{0, 0, -25, -100, -80}
	for i, c := range hlcBars() {
		w.Update(c)
		if w.Ready() != (i >= 2) {
			t.Errorf("candle %d: Ready()=%v", i, w.Ready())
		}
		if i >= 2 {
			assertClose(t, "WILLR(3)", w.Value(), expected[i], 0.0001)
		}
	}
}

func TestWilliamsR_ZeroRange_IsMidpoint(t *testing.T) {
	w := NewWilliamsR(3)
	for i := 0; i < 4; i++ {
		w.Update(hlc(i, 5, 5, 5))
	}
	assertClose(t, "flat WILLR", w.Value(), -50.0, 0)
}

// ────────────────────────────────────────────────────────────
// ADX Correctness (Wilder)
// ────────────────────────────────────────────────────────────

func TestADX_Correctness_Period2(t *testing.T) {
	// Candle 2: +DM=1 -DM=0 TR=2
	// Candle 3: +DM=1 -DM=0 TR=2 → sums TR=4 +DM=2 -DM=0 → DX=100
	// Candle 4: +DM=0 -DM=1 TR=3 → TR=5 +DM=1 -DM=1 → DX=0 → ADX=(100+0)/2=50
	// Candle 5: +DM=0 -DM=2 TR=2 → TR=4.5 +DM=0.5 -DM=2.5
	//           DI+=11.111 DI-=55.556 → DX=66.667 → ADX=(50+66.667)/2=58.3333

	adx := NewADX(2)
	if adx.Lookback() != 4 {
		t.Fatalf("ADX(2) lookback = %d, want 4", adx.Lookback())
	}
	expected := []float64{0, 0, 0, 50.0, 58.333333}
	for i, c := range hlcBars() {
		adx.Update(c)
		if adx.Ready() != (i >= 3) {
			t.Errorf("candle %d: Ready()=%v", i, adx.Ready())
		}
		if i >= 3 {
			assertClose(t, "ADX(2)", adx.Value(), expected[i], 0.0001)
		}
	}
}

func TestADX_FlatSeries_IsZero(t *testing.T) {
	adx := NewADX(3)
	for i := 0; i < 10; i++ {
		adx.Update(hlc(i, 5, 5, 5))
	}
	if !adx.Ready() {
		t.Fatal("expected ADX ready after 10 candles")
	}
	assertClose(t, "flat ADX", adx.Value(), 0, 0)
}

// ────────────────────────────────────────────────────────────
// Volume SMA Correctness
// ────────────────────────────────────────────────────────────

func TestVolumeSMA_Correctness_Period3(t *testing.T) {
	sma := NewVolumeSMA(3)
	vols := []float64{10, 20, 30, 40, 50}
	expected := []float64{0, 0, 20, 30, 40}

	for i, v := range vols {
		c := closeOnly(i, 100)
		c.Volume = v
		sma.Update(c)
		if sma.Ready() != (i >= 2) {
			t.Errorf("candle %d: Ready()=%v", i, sma.Ready())
		}
		if i >= 2 {
			assertClose(t, "VolSMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
	if sma.Name() != model.IndVolSMA {
		t.Errorf("name = %q, want %q", sma.Name(), model.IndVolSMA)
	}
}

// ────────────────────────────────────────────────────────────
// Warm-up boundary
// ────────────────────────────────────────────────────────────

func TestWarmupBoundary_PerIndicator(t *testing.T) {
	spec := Spec{RSIPeriod: 5, WillRPeriod: 7, ADXPeriod: 4, VolSMAPeriod: 10}
	lookback := map[string]int{
		model.IndRSI:    6,
		model.IndWillR:  7,
		model.IndADX:    8,
		model.IndVolSMA: 10,
	}
	if spec.Warmup() != 10 {
		t.Fatalf("Warmup() = %d, want 10", spec.Warmup())
	}

	sets, err := Incremental(spec, randomWalk(40, 7))
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	for i, set := range sets {
		for name, lb := range lookback {
			_, defined := set.Get(name)
			if want := i >= lb-1; defined != want {
				t.Errorf("bar %d %s: defined=%v, want %v", i, name, defined, want)
			}
		}
		if ready := set.AllDefined(); ready != (i >= spec.Warmup()-1) {
			t.Errorf("bar %d: AllDefined=%v", i, ready)
		}
	}
}
