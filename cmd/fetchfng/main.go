// cmd/fetchfng downloads the daily fear/greed index history and writes it as
// the date,value CSV the historical fetcher loads. With --sqlite the rows are
// also stored in the signal_history table.
//
// Usage:
//
//	go run ./cmd/fetchfng --limit=2000 --out=user_data/data/fear_greed.csv
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"signalfusion/internal/model"
	"signalfusion/internal/signal"
	"signalfusion/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	limit := flag.Int("limit", 2000, "Number of daily values to request")
	out := flag.String("out", "user_data/data/fear_greed.csv", "CSV output path")
	url := flag.String("url", signal.FearGreedURL, "Index endpoint")
	dbPath := flag.String("sqlite", "", "Also store rows in this SQLite database")
	flag.Parse()

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	points, err := signal.DownloadFearGreed(ctx, client, *url, *limit)
	if err != nil {
		log.Fatalf("[fetchfng] %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("[fetchfng] %v", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("[fetchfng] %v", err)
	}
	if err := signal.WriteFearGreedCSV(f, points); err != nil {
		f.Close()
		log.Fatalf("[fetchfng] write %s: %v", *out, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("[fetchfng] close %s: %v", *out, err)
	}
	log.Printf("[fetchfng] saved %d rows to %s", len(points), *out)

	if *dbPath == "" {
		return
	}
	store, err := sqlite.Open(sqlite.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[fetchfng] %v", err)
	}
	defer store.Close()

	scale := signal.DefaultCSVOptions(model.KindFearGreed).Scale
	rows := make([]signal.Row, len(points))
	for i, p := range points {
		rows[i] = signal.Row{TS: p.TS, Value: model.KindFearGreed.Clamp(p.Value * scale)}
	}
	if err := store.InsertSignalRows(ctx, model.KindFearGreed, rows); err != nil {
		log.Fatalf("[fetchfng] sqlite insert: %v", err)
	}
	log.Printf("[fetchfng] stored %d rows in %s", len(rows), *dbPath)
}
