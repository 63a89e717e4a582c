// cmd/backtest replays historical candles through the full feature pipeline:
// coverage gate, indicators, external signals, composition and the decision
// rule, delivering records to the configured sinks.
//
// Usage:
//
//	go run ./cmd/backtest --config=configs/backtest.yaml --out=features.jsonl
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"signalfusion/config"
	"signalfusion/internal/app"
	"signalfusion/internal/coverage"
	"signalfusion/internal/logger"
	"signalfusion/internal/metrics"
	"signalfusion/internal/model"
	"signalfusion/internal/notification"
	"signalfusion/internal/pipeline"
	"signalfusion/internal/signal"
	"signalfusion/internal/sink"
	redisstore "signalfusion/internal/store/redis"
	"signalfusion/internal/store/sqlite"
)

// runObserver feeds both Prometheus and the health endpoint.
type runObserver struct {
	prom   *metrics.Metrics
	health *metrics.HealthStatus
}

func (o runObserver) ObserveRecord(rec model.FeatureRecord, dec *model.Decision, d time.Duration) {
	o.prom.ObserveRecord(rec, dec, d)
	o.health.SetLastRecordTime(time.Now())
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	cfgPath := flag.String("config", "", "Path to the YAML run configuration")
	timerange := flag.String("timerange", "", "Override timerange YYYYMMDD-YYYYMMDD")
	pairs := flag.String("pairs", "", "Override pairs, comma-separated")
	mode := flag.String("mode", "", "Override fetch mode: live|historical")
	out := flag.String("out", "", "Write JSON lines to this file (- for stdout)")
	flag.Parse()

	cfg, err := config.LoadWith(*cfgPath, func(c *config.Config) {
		if *timerange != "" {
			c.Timerange = *timerange
		}
		if *pairs != "" {
			c.Pairs = strings.Split(*pairs, ",")
		}
		if *mode != "" {
			c.Mode = model.FetchMode(*mode)
		}
		if *out != "" {
			c.Sinks.JSONL = *out
		}
	})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	slogger := logger.Init("backtest", cfg.Log.Level, cfg.Log.Format)
	runID := logger.GenerateRunID("backtest", time.Now())
	ctx, cancel := context.WithCancel(logger.WithRunID(context.Background(), runID))
	defer cancel()
	slogger.Info("run starting", append(logger.LogWithRun(ctx),
		"pairs", cfg.Pairs, "timeframe", cfg.Timeframe, "timerange", cfg.Timerange, "mode", cfg.Mode)...)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backtest] interrupt: stopping after the current candle")
		cancel()
	}()

	os.Exit(run(ctx, cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	var mux *http.ServeMux
	if cfg.MetricsAddr != "" {
		var srv *metrics.Server
		srv, mux = metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
		srv.Start()
		defer func() {
			sctx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			srv.Stop(sctx)
		}()
	}

	// ---- Stores ----
	var store *sqlite.Store
	if app.NeedsSQLite(cfg) {
		s, err := app.OpenSQLite(cfg)
		if err != nil {
			log.Printf("[backtest] sqlite init failed: %v", err)
			return 1
		}
		store = s
		health.CheckSQLite(ctx, store.DB())
	}

	var redisWriter *redisstore.Writer
	if cfg.Redis.Enabled {
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			log.Printf("[backtest] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			redisWriter = w
			health.CheckRedis(ctx, redisWriter.Client())
		}
	}
	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	var sqlDB *sql.DB
	if store != nil {
		sqlDB = store.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	source, err := app.CandleSource(cfg, store)
	if err != nil {
		log.Printf("[backtest] %v", err)
		return 1
	}

	// ---- External signals ----
	tables, err := app.LoadTables(ctx, cfg, store)
	if err != nil {
		log.Printf("[backtest] %v", err)
		return 1
	}
	notifier := newNotifier(cfg.Sinks.Notify)
	providers := make(map[model.SignalKind]signal.Provider)
	if cfg.Mode == model.ModeLive {
		client := &http.Client{Timeout: cfg.Signals.Timeout}
		for kind, p := range app.Providers(cfg, client) {
			kind := kind
			p.Breaker().OnStateChange = func(_, to signal.BreakerState) {
				health.SetBreaker(string(kind), to.String())
				log.Printf("[backtest] %s breaker -> %s", kind, to)
			}
			if notifier != nil {
				onChange := p.Breaker().OnStateChange
				alert := notification.BreakerAlerts(notifier, kind)
				p.Breaker().OnStateChange = func(from, to signal.BreakerState) {
					onChange(from, to)
					alert(from, to)
				}
			}
			prom.WatchBreaker(kind, p.Breaker())
			providers[kind] = p
		}
	}
	fetcher := signal.NewFetcher(providers, tables, signal.Options{
		Timeout:   cfg.Signals.Timeout,
		Staleness: app.Staleness(cfg),
		Workers:   cfg.Signals.Workers,
		Observer:  prom,
	})

	verifier := coverage.NewVerifier(source, coverage.Options{
		MinWarmup: cfg.Indicators.Warmup(),
		Tables:    tables,
		Staleness: app.Staleness(cfg),
	})

	// ---- Sinks ----
	var sinks []model.RecordSink
	if cfg.Sinks.JSONL != "" {
		var w io.Writer = struct{ io.Writer }{os.Stdout} // never close stdout
		if cfg.Sinks.JSONL != "-" {
			f, err := os.Create(cfg.Sinks.JSONL)
			if err != nil {
				log.Printf("[backtest] %v", err)
				return 1
			}
			w = f
		}
		sinks = append(sinks, sink.NewJSONLines(w))
	}
	if redisWriter != nil {
		sinks = append(sinks, redisWriter)
	}
	if store != nil {
		if cfg.Sinks.Audit {
			sinks = append(sinks, store)
		} else {
			defer store.Close()
		}
	}
	if cfg.Sinks.WebSocket && mux != nil {
		ws := sink.NewWebSocket(cfg.Sinks.Buffer)
		ws.OnDrop = prom.SinkDropped("websocket")
		mux.Handle("/ws", ws)
		async := sink.NewAsync("websocket", ws, cfg.Sinks.Buffer)
		async.OnDrop = prom.SinkDrop
		sinks = append(sinks, async)
	}
	if notifier != nil {
		sinks = append(sinks, notification.NewSink(notifier))
	}
	out := sink.NewMonotonic(sink.NewFanOut(sinks...))
	defer func() {
		if err := out.Close(); err != nil {
			log.Printf("[backtest] sink close: %v", err)
		}
	}()

	var snapshots pipeline.SnapshotStore
	switch {
	case store != nil:
		snapshots = store
	case redisWriter != nil:
		snapshots = redisWriter
	}

	// ---- Pipeline ----
	start, end, _ := cfg.Window()
	pcfg := pipeline.Config{
		Pairs:       cfg.Pairs,
		Timeframe:   cfg.Timeframe,
		WindowStart: start,
		WindowEnd:   end,
		WarmupBars:  cfg.Warmup(),
		Mode:        cfg.Mode,
		Spec:        cfg.Indicators,
		Prefetch:    cfg.Signals.Prefetch,
	}
	if cfg.Decisions {
		rule := cfg.Rule
		pcfg.Rule = &rule
	}
	p, err := pipeline.New(pcfg, pipeline.Deps{
		Source:    source,
		Verifier:  verifier,
		Fetcher:   fetcher,
		Sink:      out,
		Snapshots: snapshots,
		Observer:  runObserver{prom: prom, health: health},
	})
	if err != nil {
		log.Printf("[backtest] %v", err)
		return 1
	}

	sum, err := p.Run(ctx)
	if sum != nil {
		for _, rep := range sum.Reports {
			prom.ObserveCoverage(rep.Requirement.Pair, rep.Status())
		}
	}
	var cerr *model.CoverageError
	if errors.As(err, &cerr) {
		log.Printf("[backtest] %v", err)
		if sum != nil {
			for _, rep := range sum.Reports {
				if !rep.OK() {
					fmt.Printf("%s: download more data with --timerange %s\n", rep.Requirement.Pair, rep.Timerange())
				}
			}
		}
		return 2
	}
	if err != nil {
		log.Printf("[backtest] run failed: %v", err)
		return 1
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Records emitted:   %-16d ║\n", sum.Records)
	fmt.Printf("║  Ready records:     %-16d ║\n", sum.Ready)
	for _, kind := range model.SignalKinds {
		fmt.Printf("║  Degraded %-10s %-16d ║\n", string(kind)+":", sum.Degraded[kind])
	}
	for _, a := range []model.Action{model.ActionEnterLong, model.ActionEnterShort, model.ActionExit, model.ActionHold} {
		fmt.Printf("║  %-18s %-16d ║\n", string(a)+":", sum.Decisions[a])
	}
	fmt.Printf("║  Elapsed:           %-16s ║\n", sum.Elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
	return 0
}

func newNotifier(cfg config.Notify) notification.Notifier {
	if !cfg.Enabled() {
		return nil
	}
	var m notification.Multi
	if cfg.Log {
		m = append(m, notification.NewLogNotifier())
	}
	if cfg.Webhook != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.Webhook, nil))
	}
	return m
}
