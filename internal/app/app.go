// Package app wires configuration into the concrete stores, providers and
// sinks shared by the command mains.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"signalfusion/config"
	"signalfusion/internal/model"
	"signalfusion/internal/signal"
	"signalfusion/internal/store/ftjson"
	"signalfusion/internal/store/sqlite"
)

// NeedsSQLite reports whether any configured component reads or writes the database.
func NeedsSQLite(cfg *config.Config) bool {
	return cfg.Data.Source == "sqlite" || cfg.Sinks.Audit
}

// OpenSQLite opens the store, creating its parent directory.
func OpenSQLite(cfg *config.Config) (*sqlite.Store, error) {
	if dir := filepath.Dir(cfg.SQLite.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return sqlite.Open(cfg.SQLite)
}

// CandleSource returns the configured candle source. store may be nil unless
// the source is sqlite.
func CandleSource(cfg *config.Config, store *sqlite.Store) (model.CandleSource, error) {
	switch cfg.Data.Source {
	case "sqlite":
		if store == nil {
			return nil, fmt.Errorf("candle source sqlite: store not open")
		}
		return store, nil
	case "ftjson":
		return ftjson.New(cfg.Data.Dir, cfg.Data.Exchange), nil
	default:
		return nil, fmt.Errorf("unknown candle source %q", cfg.Data.Source)
	}
}

// LoadTables loads historical signal tables: a configured CSV file wins,
// otherwise the SQLite signal_history rows are used when present.
// Kinds with neither are absent from the map.
func LoadTables(ctx context.Context, cfg *config.Config, store *sqlite.Store) (map[model.SignalKind]*signal.Table, error) {
	tables := make(map[model.SignalKind]*signal.Table)
	for _, kind := range model.SignalKinds {
		src := Source(cfg, kind)
		if src.CSV != "" {
			t, err := LoadCSVFile(src.CSV, kind)
			if err != nil {
				return nil, err
			}
			tables[kind] = t
			log.Printf("[app] %s history: %d rows from %s", kind, t.Len(), src.CSV)
			continue
		}
		if store == nil {
			continue
		}
		t, err := signal.LoadTable(ctx, store, kind)
		if err != nil {
			return nil, err
		}
		if t.Len() > 0 {
			tables[kind] = t
			log.Printf("[app] %s history: %d rows from sqlite", kind, t.Len())
		}
	}
	return tables, nil
}

// LoadCSVFile reads one history CSV with the kind's default scaling.
func LoadCSVFile(path string, kind model.SignalKind) (*signal.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", kind, err)
	}
	defer f.Close()
	t, err := signal.LoadCSV(f, kind, signal.DefaultCSVOptions(kind))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// Providers builds live HTTP providers for every kind with a URL.
func Providers(cfg *config.Config, client *http.Client) map[model.SignalKind]*signal.HTTPProvider {
	out := make(map[model.SignalKind]*signal.HTTPProvider)
	for _, kind := range model.SignalKinds {
		hc := Source(cfg, kind).HTTP
		if hc.URL == "" {
			continue
		}
		out[kind] = signal.NewHTTPProvider(kind, hc, client)
	}
	return out
}

// Source returns the per-kind signal configuration.
func Source(cfg *config.Config, kind model.SignalKind) config.SignalSource {
	if kind == model.KindFearGreed {
		return cfg.Signals.FearGreed
	}
	return cfg.Signals.Sentiment
}

// Staleness maps each kind to its configured threshold.
func Staleness(cfg *config.Config) map[model.SignalKind]time.Duration {
	return map[model.SignalKind]time.Duration{
		model.KindSentiment: cfg.Signals.Sentiment.Staleness,
		model.KindFearGreed: cfg.Signals.FearGreed.Staleness,
	}
}
