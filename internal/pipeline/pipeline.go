// Package pipeline runs one analysis window end to end: coverage gate,
// sequential indicator computation, external-signal fetch, feature composition,
// optional rule decision, and delivery to downstream sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"signalfusion/internal/coverage"
	"signalfusion/internal/decision"
	"signalfusion/internal/feature"
	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
)

// Fetcher is the subset of *signal.Fetcher the pipeline uses.
type Fetcher interface {
	Fetch(ctx context.Context, kind model.SignalKind, ts time.Time, mode model.FetchMode) model.ExternalSignal
	Prefetch(ctx context.Context, mode model.FetchMode, kinds []model.SignalKind, timestamps []time.Time) error
}

// Observer receives per-record outcomes (implemented by internal/metrics).
type Observer interface {
	ObserveRecord(rec model.FeatureRecord, dec *model.Decision, compute time.Duration)
}

// SnapshotStore persists indicator engine state between runs.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error
}

// Config is the read-only run description.
type Config struct {
	Pairs       []string
	Timeframe   model.Timeframe
	WindowStart time.Time
	WindowEnd   time.Time
	WarmupBars  int
	Mode        model.FetchMode
	Spec        indicator.Spec

	// Rule enables the decision path; nil emits records only.
	Rule *decision.Rule
	// Prefetch warm-loads the signal cache for each pair while candles are composed.
	Prefetch bool
}

// Deps are the collaborators wired by the command main.
type Deps struct {
	Source    model.CandleSource
	Verifier  *coverage.Verifier
	Fetcher   Fetcher
	Sink      model.RecordSink
	Snapshots SnapshotStore // optional
	Observer  Observer      // optional
}

// Summary reports what a run produced.
type Summary struct {
	Records   int                      `json:"records"`
	Ready     int                      `json:"ready"`
	Degraded  map[model.SignalKind]int `json:"degraded"`
	Decisions map[model.Action]int     `json:"decisions"`
	Reports   []*coverage.Report       `json:"reports"`
	Elapsed   time.Duration            `json:"elapsed"`
}

// Pipeline executes runs for one configuration.
type Pipeline struct {
	cfg  Config
	deps Deps

	engine *indicator.Engine
}

// New validates cfg and creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("pipeline: no pairs configured")
	}
	if cfg.Timeframe.Duration() <= 0 {
		return nil, fmt.Errorf("pipeline: invalid timeframe %q", cfg.Timeframe)
	}
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if deps.Source == nil || deps.Verifier == nil || deps.Fetcher == nil || deps.Sink == nil {
		return nil, fmt.Errorf("pipeline: source, verifier, fetcher and sink are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = model.ModeHistorical
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Engine exposes the indicator engine after Run (nil before).
func (p *Pipeline) Engine() *indicator.Engine { return p.engine }

// Warmup is the number of bars replayed before the window starts.
func (p *Pipeline) Warmup() int {
	if w := p.cfg.Spec.Warmup(); w > p.cfg.WarmupBars {
		return w
	}
	return p.cfg.WarmupBars
}

// Run processes every configured pair. It fails fast with a
// *model.CoverageError before any indicator is computed when history is
// insufficient, and aborts with *model.DataIntegrityError on bad candles.
// External-signal failures never fail a run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{
		Degraded:  make(map[model.SignalKind]int),
		Decisions: make(map[model.Action]int),
	}

	// ---- Coverage gate ----
	for _, pair := range p.cfg.Pairs {
		rep, err := p.deps.Verifier.Verify(ctx, p.requirement(pair))
		if err != nil {
			return sum, err
		}
		sum.Reports = append(sum.Reports, rep)
		if err := rep.Err(); err != nil {
			log.Printf("[pipeline] %s %s coverage %s; download timerange %s",
				pair, p.cfg.Timeframe, rep.Status(), rep.Timerange())
			return sum, err
		}
		for _, w := range rep.Warnings {
			log.Printf("[pipeline] WARNING: %s %s", pair, w)
		}
	}

	// ---- Indicator engine ----
	engine, err := p.restoreEngine(ctx)
	if err != nil {
		return sum, err
	}
	p.engine = engine

	for _, pair := range p.cfg.Pairs {
		if err := p.runPair(ctx, pair, sum); err != nil {
			return sum, err
		}
	}

	if p.deps.Snapshots != nil {
		snap, err := indicator.SnapshotEngine(p.engine)
		if err == nil {
			err = p.deps.Snapshots.SaveSnapshot(ctx, snap)
		}
		if err != nil {
			log.Printf("[pipeline] WARNING: snapshot save failed: %v", err)
		}
	}

	sum.Elapsed = time.Since(start)
	log.Printf("[pipeline] done: %d records (%d ready) in %s, degraded=%v",
		sum.Records, sum.Ready, sum.Elapsed.Round(time.Millisecond), sum.Degraded)
	return sum, nil
}

func (p *Pipeline) requirement(pair string) model.CoverageRequirement {
	return model.CoverageRequirement{
		Pair:        pair,
		Timeframe:   p.cfg.Timeframe,
		WindowStart: p.cfg.WindowStart,
		WindowEnd:   p.cfg.WindowEnd,
		WarmupBars:  p.Warmup(),
	}
}

// restoreEngine loads a saved snapshot when one matches the indicator Spec, else
// starts from a fresh engine.
func (p *Pipeline) restoreEngine(ctx context.Context) (*indicator.Engine, error) {
	if p.deps.Snapshots == nil {
		return indicator.NewEngine(p.cfg.Spec), nil
	}
	snap, err := p.deps.Snapshots.LoadSnapshot(ctx)
	if err != nil {
		log.Printf("[pipeline] snapshot read error: %v (starting cold)", err)
		return indicator.NewEngine(p.cfg.Spec), nil
	}
	return indicator.RestoreEngine(p.cfg.Spec, snap)
}

// resume decides whether restored state for the instrument continues the
// verified history. It does when the snapshot's last candle is the bar just
// before RequiredStart, or a bar of the warm-up replay identical to the one
// read now; the already-seen warm-up bars are then skipped. Any other
// snapshot (same or later window, a hole, changed data) is discarded and the
// instrument replays cold from RequiredStart. In-window candles are never
// skipped.
func (p *Pipeline) resume(req model.CoverageRequirement, candles []model.Candle) []model.Candle {
	last, ok := p.engine.Last(req.Pair, req.Timeframe)
	if !ok {
		return candles
	}
	if last.TS.Equal(req.RequiredStart().Add(-req.Timeframe.Duration())) {
		log.Printf("[pipeline] %s %s: resuming from snapshot at %s", req.Pair, req.Timeframe, last.TS.Format(time.RFC3339))
		return candles
	}
	if last.TS.Before(req.WindowStart) {
		for i, c := range candles {
			if c.TS.After(last.TS) {
				break
			}
			if sameBar(c, last) {
				log.Printf("[pipeline] %s %s: resuming from snapshot at %s", req.Pair, req.Timeframe, last.TS.Format(time.RFC3339))
				return candles[i+1:]
			}
		}
	}
	log.Printf("[pipeline] %s %s: snapshot at %s does not continue this window; starting cold",
		req.Pair, req.Timeframe, last.TS.Format(time.RFC3339))
	p.engine.Reset(req.Pair, req.Timeframe)
	return candles
}

func sameBar(a, b model.Candle) bool {
	return a.TS.Equal(b.TS) && a.Pair == b.Pair && a.Timeframe == b.Timeframe &&
		a.Open == b.Open && a.High == b.High && a.Low == b.Low && a.Close == b.Close && a.Volume == b.Volume
}

func (p *Pipeline) runPair(ctx context.Context, pair string, sum *Summary) error {
	req := p.requirement(pair)
	it, err := p.deps.Source.Candles(ctx, pair, p.cfg.Timeframe, req.RequiredStart(), p.cfg.WindowEnd)
	if err != nil {
		return fmt.Errorf("pipeline: open %s: %w", pair, err)
	}
	candles, err := model.Drain(it)
	if err != nil {
		return fmt.Errorf("pipeline: read %s: %w", pair, err)
	}

	candles = p.resume(req, candles)

	log.Printf("[pipeline] %s %s: %d candles (warm-up %d bars)", pair, p.cfg.Timeframe, len(candles), p.Warmup())

	// Prefetch warms the signal cache alongside the candle loop; Fetch then
	// hits the cache or joins the in-flight request. It is stopped once the
	// loop is done, since every timestamp it would load has been fetched.
	pctx, stopPrefetch := context.WithCancel(ctx)
	defer stopPrefetch()
	var g errgroup.Group
	if p.cfg.Prefetch {
		var stamps []time.Time
		for _, c := range candles {
			if !c.TS.Before(p.cfg.WindowStart) {
				stamps = append(stamps, feature.AsOf(c))
			}
		}
		g.Go(func() error {
			return p.deps.Fetcher.Prefetch(pctx, p.cfg.Mode, model.SignalKinds, stamps)
		})
	}

	err = p.process(ctx, candles, sum)
	stopPrefetch()
	if perr := g.Wait(); perr != nil && !errors.Is(perr, context.Canceled) {
		log.Printf("[pipeline] WARNING: %s prefetch: %v", pair, perr)
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, candles []model.Candle, sum *Summary) error {
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return err
		}
		t0 := time.Now()
		set, err := p.engine.Process(c)
		if err != nil {
			return err
		}
		if c.TS.Before(p.cfg.WindowStart) {
			continue
		}

		asOf := feature.AsOf(c)
		sentiment := p.deps.Fetcher.Fetch(ctx, model.KindSentiment, asOf, p.cfg.Mode)
		fearGreed := p.deps.Fetcher.Fetch(ctx, model.KindFearGreed, asOf, p.cfg.Mode)
		rec := feature.Compose(c, set, sentiment, fearGreed, asOf)

		var dec *model.Decision
		if p.cfg.Rule != nil {
			d := p.cfg.Rule.Decide(rec)
			dec = &d
			sum.Decisions[d.Action]++
		}
		elapsed := time.Since(t0)

		if err := p.deps.Sink.Emit(ctx, rec, dec); err != nil {
			return fmt.Errorf("pipeline: emit %s: %w", rec.Key(), err)
		}

		sum.Records++
		if rec.Ready {
			sum.Ready++
		}
		for _, k := range rec.Degraded {
			sum.Degraded[k]++
		}
		if p.deps.Observer != nil {
			p.deps.Observer.ObserveRecord(rec, dec, elapsed)
		}
	}
	return nil
}
