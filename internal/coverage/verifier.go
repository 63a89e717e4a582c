// Package coverage checks, before a run starts, that local candle history and
// external-signal tables span the requested analysis window plus warm-up.
// It only reports; it never downloads.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

// Per-pair status labels.
const (
	StatusOK      = "OK"
	StatusMissing = "MISSING"
	StatusEarly   = "INSUFFICIENT_EARLY_DATA"
	StatusLate    = "INSUFFICIENT_LATE_DATA"
	StatusGaps    = "GAPS"
)

// SignalCoverage is the result of checking one external-signal table.
type SignalCoverage struct {
	Kind       model.SignalKind  `json:"kind"`
	Configured bool              `json:"configured"`
	Staleness  time.Duration     `json:"staleness"`
	Missing    []model.TimeRange `json:"missing,omitempty"`
}

// Report lists what is missing per data source for one requirement.
type Report struct {
	Requirement   model.CoverageRequirement `json:"requirement"`
	RequiredStart time.Time                 `json:"required_start"`
	LastBar       time.Time                 `json:"last_bar"`

	First time.Time `json:"first,omitempty"`
	Last  time.Time `json:"last,omitempty"`
	Count int       `json:"count"`

	EarlyMissing *model.TimeRange  `json:"early_missing,omitempty"`
	LateMissing  *model.TimeRange  `json:"late_missing,omitempty"`
	Gaps         []model.TimeRange `json:"gaps,omitempty"`

	Signals  []SignalCoverage `json:"signals,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Missing returns every missing candle range in time order.
func (r *Report) Missing() []model.TimeRange {
	var out []model.TimeRange
	if r.EarlyMissing != nil {
		out = append(out, *r.EarlyMissing)
	}
	out = append(out, r.Gaps...)
	if r.LateMissing != nil {
		out = append(out, *r.LateMissing)
	}
	return out
}

// OK reports whether candle coverage is sufficient. Signal gaps never fail it.
func (r *Report) OK() bool {
	return r.Count > 0 && r.EarlyMissing == nil && r.LateMissing == nil && len(r.Gaps) == 0
}

// Status returns the per-pair label printed by the verify command.
func (r *Report) Status() string {
	switch {
	case r.Count == 0:
		return StatusMissing
	case r.EarlyMissing != nil:
		return StatusEarly
	case r.LateMissing != nil:
		return StatusLate
	case len(r.Gaps) > 0:
		return StatusGaps
	default:
		return StatusOK
	}
}

// Err returns a *model.CoverageError when candle coverage failed, else nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &model.CoverageError{
		Pair:      r.Requirement.Pair,
		Timeframe: r.Requirement.Timeframe,
		Missing:   r.Missing(),
	}
}

// Timerange is the YYYYMMDD-YYYYMMDD range the caller's downloader needs.
func (r *Report) Timerange() string {
	return r.RequiredStart.UTC().Format("20060102") + "-" + r.Requirement.WindowEnd.UTC().Format("20060102")
}

// Options configures a Verifier.
type Options struct {
	// MinWarmup is the indicator engine's warm-up; requirements asking for
	// fewer bars are raised to it.
	MinWarmup int
	// Tables are the historical signal tables to check, if any.
	Tables map[model.SignalKind]*signal.Table
	// Staleness per kind; zero values use the fetcher defaults.
	Staleness map[model.SignalKind]time.Duration
	Logger    *slog.Logger
}

// Verifier checks CoverageRequirements against a CandleSource.
type Verifier struct {
	source model.CandleSource
	opts   Options
	log    *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(source model.CandleSource, opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{source: source, opts: opts, log: logger}
}

// Verify builds the coverage report for req. The returned error is non-nil
// only for invalid requirements, source failures, or out-of-order data;
// insufficient coverage is reported through Report.Err.
func (v *Verifier) Verify(ctx context.Context, req model.CoverageRequirement) (*Report, error) {
	tf := req.Timeframe.Duration()
	if tf <= 0 {
		return nil, fmt.Errorf("coverage: invalid timeframe %q", req.Timeframe)
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return nil, fmt.Errorf("coverage: window end %s is not after start %s",
			req.WindowEnd.Format(time.RFC3339), req.WindowStart.Format(time.RFC3339))
	}
	if req.WarmupBars < v.opts.MinWarmup {
		req.WarmupBars = v.opts.MinWarmup
	}

	rep := &Report{
		Requirement:   req,
		RequiredStart: req.Timeframe.Align(req.RequiredStart()),
		LastBar:       req.Timeframe.Align(req.LastBar()),
	}

	if err := v.scan(ctx, req, rep); err != nil {
		return nil, err
	}
	v.checkSignals(req, rep)

	if !rep.OK() {
		v.log.Warn("candle coverage insufficient",
			slog.String("pair", req.Pair),
			slog.String("timeframe", string(req.Timeframe)),
			slog.String("status", rep.Status()),
			slog.Int("missing_ranges", len(rep.Missing())),
			slog.String("timerange", rep.Timerange()),
		)
	}
	return rep, nil
}

// scan walks the candle history once, recording the early shortfall, every
// internal gap, and the late shortfall.
func (v *Verifier) scan(ctx context.Context, req model.CoverageRequirement, rep *Report) error {
	tf := req.Timeframe.Duration()
	it, err := v.source.Candles(ctx, req.Pair, req.Timeframe, rep.RequiredStart, req.WindowEnd)
	if errors.Is(err, model.ErrNoData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("coverage: open %s %s: %w", req.Pair, req.Timeframe, err)
	}
	defer it.Close()

	cursor := rep.RequiredStart // next bar we expect
	var prev model.Candle
	seen := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("coverage: read %s %s: %w", req.Pair, req.Timeframe, err)
		}
		if !ok {
			break
		}
		if seen {
			if err := model.CheckOrder(prev, c); err != nil {
				return err
			}
		}
		prev, seen = c, true
		if c.TS.Before(rep.RequiredStart) || !c.TS.Before(req.WindowEnd) {
			continue
		}

		if c.TS.After(cursor) {
			missing := model.TimeRange{From: cursor, To: c.TS.Add(-tf)}
			if rep.Count == 0 {
				rep.EarlyMissing = &missing
			} else {
				rep.Gaps = append(rep.Gaps, missing)
			}
		}
		if rep.Count == 0 {
			rep.First = c.TS
		}
		rep.Last = c.TS
		rep.Count++
		cursor = c.TS.Add(tf)
	}

	if rep.Count == 0 {
		return nil
	}
	if !cursor.After(rep.LastBar) {
		rep.LateMissing = &model.TimeRange{From: cursor, To: rep.LastBar}
	}
	return nil
}

func (v *Verifier) checkSignals(req model.CoverageRequirement, rep *Report) {
	for _, kind := range model.SignalKinds {
		table, ok := v.opts.Tables[kind]
		if !ok {
			continue
		}
		sc := SignalCoverage{Kind: kind, Staleness: v.staleness(kind)}
		if table == nil || table.Len() == 0 {
			sc.Missing = []model.TimeRange{{From: req.WindowStart, To: req.WindowEnd}}
		} else {
			sc.Configured = true
			sc.Missing = table.Gaps(req.WindowStart, req.WindowEnd, sc.Staleness)
		}
		rep.Signals = append(rep.Signals, sc)

		for _, m := range sc.Missing {
			msg := fmt.Sprintf("%s history missing %s..%s (neutral default will be used)",
				kind, m.From.UTC().Format(time.RFC3339), m.To.UTC().Format(time.RFC3339))
			rep.Warnings = append(rep.Warnings, msg)
			v.log.Warn("signal coverage gap",
				slog.String("kind", string(kind)),
				slog.Time("from", m.From),
				slog.Time("to", m.To),
			)
		}
	}
}

func (v *Verifier) staleness(kind model.SignalKind) time.Duration {
	if d := v.opts.Staleness[kind]; d > 0 {
		return d
	}
	if kind == model.KindFearGreed {
		return signal.DefaultFearGreedStaleness
	}
	return signal.DefaultSentimentStaleness
}
