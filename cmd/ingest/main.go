// cmd/ingest copies freqtrade OHLCV files and signal history CSVs into the
// SQLite store, so runs can use data.source=sqlite.
//
// Usage:
//
//	go run ./cmd/ingest --config=configs/backtest.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"signalfusion/config"
	"signalfusion/internal/app"
	"signalfusion/internal/model"
	"signalfusion/internal/store/ftjson"
	"signalfusion/internal/store/sqlite"
)

const chunk = 5000

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to the YAML run configuration")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := app.OpenSQLite(cfg)
	if err != nil {
		log.Fatalf("[ingest] sqlite init failed: %v", err)
	}
	code := run(ctx, cfg, store)
	store.Close()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, store *sqlite.Store) int {
	src := ftjson.New(cfg.Data.Dir, cfg.Data.Exchange)
	for _, pair := range cfg.Pairs {
		n, err := copyCandles(ctx, src, store, pair, cfg.Timeframe)
		if err != nil {
			log.Printf("[ingest] %s %s: %v", pair, cfg.Timeframe, err)
			return 1
		}
		log.Printf("[ingest] %s %s: %d candles", pair, cfg.Timeframe, n)
	}

	for _, kind := range model.SignalKinds {
		path := app.Source(cfg, kind).CSV
		if path == "" {
			continue
		}
		t, err := app.LoadCSVFile(path, kind)
		if err != nil {
			log.Printf("[ingest] %v", err)
			return 1
		}
		if err := store.InsertSignalRows(ctx, kind, t.Rows()); err != nil {
			log.Printf("[ingest] %s history: %v", kind, err)
			return 1
		}
		log.Printf("[ingest] %s history: %d rows", kind, t.Len())
	}
	return 0
}

func copyCandles(ctx context.Context, src model.CandleSource, store *sqlite.Store, pair string, tf model.Timeframe) (int, error) {
	it, err := src.Candles(ctx, pair, tf, time.Unix(0, 0), time.Now().Add(24*time.Hour))
	if err != nil {
		return 0, err
	}
	candles, err := model.Drain(it)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(candles); i += chunk {
		j := i + chunk
		if j > len(candles) {
			j = len(candles)
		}
		if err := store.InsertCandles(ctx, candles[i:j]); err != nil {
			return i, err
		}
	}
	return len(candles), nil
}
