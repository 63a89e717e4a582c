// cmd/verify checks that candle history covers a backtest window plus the
// regressor training lookback and indicator warm-up, and suggests the download timerange when it does not.
//
// Usage:
//
//	go run ./cmd/verify --config=configs/backtest.yaml --start=2025-08-01 --end=2025-10-08
//
// Exit status is 2 when any pair lacks coverage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"signalfusion/config"
	"signalfusion/internal/app"
	"signalfusion/internal/coverage"
	"signalfusion/internal/logger"
	"signalfusion/internal/model"
	"signalfusion/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to the YAML run configuration")
	start := flag.String("start", "", "Window start YYYY-MM-DD (overrides timerange)")
	end := flag.String("end", "", "Window end YYYY-MM-DD, exclusive (overrides timerange)")
	tf := flag.String("timeframe", "", "Override timeframe")
	pairs := flag.String("pairs", "", "Override pairs, space- or comma-separated")
	warmup := flag.Int("warmup", 0, "Override warm-up bars")
	trainDays := flag.Int("train-days", -1, "Override train_period_days (regressor training lookback)")
	flag.Parse()

	cfg, err := config.LoadWith(*cfgPath, func(c *config.Config) {
		if *start != "" && *end != "" {
			c.Timerange = strings.ReplaceAll(*start, "-", "") + "-" + strings.ReplaceAll(*end, "-", "")
		}
		if *tf != "" {
			c.Timeframe = model.Timeframe(*tf)
		}
		if *pairs != "" {
			c.Pairs = strings.FieldsFunc(*pairs, func(r rune) bool { return r == ' ' || r == ',' })
		}
		if *warmup > 0 {
			c.WarmupBars = *warmup
		}
		if *trainDays >= 0 {
			c.TrainPeriodDays = *trainDays
		}
	})
	if err != nil {
		log.Fatalf("[verify] %v", err)
	}
	logger.Init("verify", cfg.Log.Level, "text")

	os.Exit(run(context.Background(), cfg, os.Stdout))
}

func run(ctx context.Context, cfg *config.Config, w io.Writer) int {
	var store *sqlite.Store
	if cfg.Data.Source == "sqlite" {
		s, err := app.OpenSQLite(cfg)
		if err != nil {
			log.Printf("[verify] sqlite init failed: %v", err)
			return 1
		}
		defer s.Close()
		store = s
	}
	source, err := app.CandleSource(cfg, store)
	if err != nil {
		log.Printf("[verify] %v", err)
		return 1
	}
	tables, err := app.LoadTables(ctx, cfg, store)
	if err != nil {
		log.Printf("[verify] %v", err)
		return 1
	}

	verifier := coverage.NewVerifier(source, coverage.Options{
		MinWarmup: cfg.Indicators.Warmup(),
		Tables:    tables,
		Staleness: app.Staleness(cfg),
	})
	windowStart, windowEnd, _ := cfg.Window()

	fmt.Fprintf(w, "Config: timeframe=%s, source=%s, exchange=%s, train_period_days=%d, warmup=%d bars\n",
		cfg.Timeframe, cfg.Data.Source, cfg.Data.Exchange, cfg.TrainPeriodDays, cfg.Warmup())

	var reports []*coverage.Report
	for _, pair := range cfg.Pairs {
		rep, err := verifier.Verify(ctx, model.CoverageRequirement{
			Pair:        pair,
			Timeframe:   cfg.Timeframe,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			WarmupBars:  cfg.Warmup(),
		})
		if err != nil {
			log.Printf("[verify] %s: %v", pair, err)
			return 1
		}
		if len(reports) == 0 {
			fmt.Fprintf(w, "Window: start=%s end=%s (need data from <= %s)\n\n",
				day(windowStart), day(windowEnd), rep.RequiredStart.Format(time.RFC3339))
		}
		reports = append(reports, rep)
		printReport(w, rep)
	}
	return summarize(w, cfg, reports)
}

func day(t time.Time) string { return t.UTC().Format("2006-01-02") }

// printReport writes one "[STATUS] pair: ..." line plus indented details.
func printReport(w io.Writer, rep *coverage.Report) {
	pair := rep.Requirement.Pair
	if rep.Status() == coverage.StatusMissing {
		fmt.Fprintf(w, "[%s] %s: no candles for %s\n", rep.Status(), pair, rep.Requirement.Timeframe)
		return
	}
	fmt.Fprintf(w, "[%s] %s: first=%s last=%s bars=%d needed_first<=%s needed_last>=%s\n",
		rep.Status(), pair,
		rep.First.Format(time.RFC3339), rep.Last.Format(time.RFC3339), rep.Count,
		rep.RequiredStart.Format(time.RFC3339), rep.LastBar.Format(time.RFC3339))
	for _, g := range rep.Gaps {
		fmt.Fprintf(w, "    gap %s .. %s\n", g.From.Format(time.RFC3339), g.To.Format(time.RFC3339))
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "    warning: %s\n", warn)
	}
}

// summarize prints the verdict and returns the exit status.
func summarize(w io.Writer, cfg *config.Config, reports []*coverage.Report) int {
	var bad []string
	timerange := ""
	for _, rep := range reports {
		if !rep.OK() {
			bad = append(bad, rep.Requirement.Pair)
			timerange = rep.Timerange()
		}
	}
	if len(bad) == 0 {
		fmt.Fprintln(w, "\nAll pairs have sufficient coverage for the requested window and indicator warm-up.")
		return 0
	}

	fmt.Fprintln(w, "\nOne or more pairs lack sufficient coverage.")
	fmt.Fprintln(w, "Suggestions:")
	fmt.Fprintln(w, "- Use timerange download (recommended):")
	pairsArg := make([]string, len(bad))
	for i, p := range bad {
		pairsArg[i] = "-p " + p
	}
	fmt.Fprintf(w, "  freqtrade download-data -t %s --timerange %s %s\n",
		cfg.Timeframe, timerange, strings.Join(pairsArg, " "))
	return 2
}
