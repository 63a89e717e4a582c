// Package signal fetches external market signals (sentiment score and the
// fear/greed index) from live HTTP providers or preloaded historical tables.
//
// Fetch never fails: timeouts, transport errors, malformed payloads, and
// missing or stale history all resolve to the kind's neutral value with a
// non-ok status. Results are cached per (kind, timestamp) for the lifetime of
// a Fetcher, and concurrent requests for the same key share one call.
package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"signalfusion/internal/model"
)

// Default staleness thresholds: sentiment is refreshed continuously, the
// fear/greed index is published once a day.
const (
	DefaultSentimentStaleness = time.Hour
	DefaultFearGreedStaleness = 48 * time.Hour
	DefaultTimeout            = 5 * time.Second
	DefaultPrefetchWorkers    = 4
)

// Observer receives fetch outcomes (implemented by internal/metrics).
type Observer interface {
	ObserveFetch(kind model.SignalKind, mode model.FetchMode, status model.SignalStatus, d time.Duration)
	ObserveCacheHit(kind model.SignalKind)
}

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds how long Fetch waits for an in-flight result.
	Timeout time.Duration
	// Staleness per kind; zero values fall back to the defaults.
	Staleness map[model.SignalKind]time.Duration
	// Workers bounds Prefetch concurrency.
	Workers int

	Logger   *slog.Logger
	Observer Observer
}

type cacheKey struct {
	kind model.SignalKind
	mode model.FetchMode
	ts   int64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.kind, k.mode, k.ts)
}

// Fetcher resolves ExternalSignals for one run.
type Fetcher struct {
	providers map[model.SignalKind]Provider
	tables    map[model.SignalKind]*Table
	staleness map[model.SignalKind]time.Duration
	timeout   time.Duration
	workers   int
	log       *slog.Logger
	obs       Observer

	mu    sync.RWMutex
	cache map[cacheKey]model.ExternalSignal
	group singleflight.Group
}

// NewFetcher creates a Fetcher. Providers serve live mode, tables serve
// historical mode; either map may be nil.
func NewFetcher(providers map[model.SignalKind]Provider, tables map[model.SignalKind]*Table, opts Options) *Fetcher {
	f := &Fetcher{
		providers: providers,
		tables:    tables,
		staleness: map[model.SignalKind]time.Duration{
			model.KindSentiment: DefaultSentimentStaleness,
			model.KindFearGreed: DefaultFearGreedStaleness,
		},
		timeout: opts.Timeout,
		workers: opts.Workers,
		log:     opts.Logger,
		obs:     opts.Observer,
		cache:   make(map[cacheKey]model.ExternalSignal, 1024),
	}
	for k, d := range opts.Staleness {
		if d > 0 {
			f.staleness[k] = d
		}
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.workers <= 0 {
		f.workers = DefaultPrefetchWorkers
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// Staleness returns the configured threshold for kind.
func (f *Fetcher) Staleness(kind model.SignalKind) time.Duration { return f.staleness[kind] }

// Table returns the historical table for kind, if loaded.
func (f *Fetcher) Table(kind model.SignalKind) (*Table, bool) {
	t, ok := f.tables[kind]
	return t, ok && t != nil
}

// Fetch returns the signal value for (kind, ts). It always returns a usable
// value; degraded results carry the neutral default and a non-ok status.
func (f *Fetcher) Fetch(ctx context.Context, kind model.SignalKind, ts time.Time, mode model.FetchMode) model.ExternalSignal {
	ts = ts.UTC()
	key := cacheKey{kind: kind, mode: mode, ts: ts.UnixNano()}
	if sig, ok := f.cached(key); ok {
		if f.obs != nil {
			f.obs.ObserveCacheHit(kind)
		}
		return sig
	}

	if mode == model.ModeHistorical {
		start := time.Now()
		sig := f.historical(kind, ts)
		f.store(key, sig)
		f.record(sig, mode, time.Since(start))
		return sig
	}

	if mode != model.ModeLive {
		sig := model.Degraded(kind, ts, model.StatusError, fmt.Sprintf("unknown fetch mode %q", mode))
		f.record(sig, mode, 0)
		return sig
	}

	if err := ctx.Err(); err != nil {
		sig := model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %s fetch not issued: %v", model.ErrExternalSignalDegraded, kind, err))
		f.record(sig, mode, 0)
		return sig
	}

	start := time.Now()
	ch := f.group.DoChan(key.String(), func() (interface{}, error) {
		// Another caller may have filled the cache between our check and now.
		if sig, ok := f.cached(key); ok {
			return sig, nil
		}
		// Detached from the caller so a timed-out or cancelled waiter does
		// not abort the request; the provider applies its own timeout.
		sig := f.live(context.WithoutCancel(ctx), kind, ts)
		f.store(key, sig)
		f.record(sig, mode, time.Since(start))
		return sig, nil
	})

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Val.(model.ExternalSignal)
	case <-timer.C:
		sig := model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %s fetch exceeded %s", model.ErrExternalSignalDegraded, kind, f.timeout))
		f.record(sig, mode, f.timeout)
		return sig
	case <-ctx.Done():
		sig := model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %s fetch: %v", model.ErrExternalSignalDegraded, kind, ctx.Err()))
		f.record(sig, mode, time.Since(start))
		return sig
	}
}

func (f *Fetcher) historical(kind model.SignalKind, ts time.Time) model.ExternalSignal {
	table, ok := f.Table(kind)
	if !ok {
		return model.Degraded(kind, ts, model.StatusMissing,
			fmt.Sprintf("%v: no %s history loaded", model.ErrExternalSignalDegraded, kind))
	}
	return table.Lookup(ts, f.staleness[kind])
}

func (f *Fetcher) live(ctx context.Context, kind model.SignalKind, ts time.Time) model.ExternalSignal {
	p, ok := f.providers[kind]
	if !ok || p == nil {
		return model.Degraded(kind, ts, model.StatusMissing,
			fmt.Sprintf("%v: no %s provider configured", model.ErrExternalSignalDegraded, kind))
	}

	obs, err := p.Latest(ctx)
	if err != nil {
		return model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %v", model.ErrExternalSignalDegraded, err))
	}
	if !model.Finite(obs.Value) {
		return model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %s provider returned %v", model.ErrExternalSignalDegraded, kind, obs.Value))
	}

	// Providers without their own timestamp report the value as of the request.
	src := obs.TS
	if src.IsZero() {
		src = ts
	}
	if src.After(ts) {
		sig := model.Degraded(kind, ts, model.StatusError,
			fmt.Sprintf("%v: %s observation %s is after %s", model.ErrExternalSignalDegraded,
				kind, src.Format(time.RFC3339), ts.Format(time.RFC3339)))
		sig.SourceTS = src
		return sig
	}
	if st := f.staleness[kind]; st > 0 && ts.Sub(src) > st {
		sig := model.Degraded(kind, ts, model.StatusStale,
			fmt.Sprintf("%v: %s observation %s older than %s", model.ErrExternalSignalDegraded,
				kind, src.Format(time.RFC3339), st))
		sig.SourceTS = src
		return sig
	}
	return model.ExternalSignal{TS: ts, Kind: kind, Value: kind.Clamp(obs.Value), Status: model.StatusOK, SourceTS: src}
}

// Prefetch warm-loads the cache for every (kind, ts) pair using a bounded
// worker pool. Cancelling ctx stops new fetches from being issued; fetches
// already in flight complete under their own timeout.
func (f *Fetcher) Prefetch(ctx context.Context, mode model.FetchMode, kinds []model.SignalKind, timestamps []time.Time) error {
	var g errgroup.Group
	g.SetLimit(f.workers)

	for _, ts := range timestamps {
		for _, kind := range kinds {
			if err := ctx.Err(); err != nil {
				g.Wait()
				return err
			}
			kind, ts := kind, ts
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				f.Fetch(ctx, kind, ts, mode)
				return nil
			})
		}
	}
	g.Wait()
	return ctx.Err()
}

// CacheLen returns the number of cached results.
func (f *Fetcher) CacheLen() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

func (f *Fetcher) cached(key cacheKey) (model.ExternalSignal, bool) {
	f.mu.RLock()
	sig, ok := f.cache[key]
	f.mu.RUnlock()
	return sig, ok
}

func (f *Fetcher) store(key cacheKey, sig model.ExternalSignal) {
	f.mu.Lock()
	f.cache[key] = sig
	f.mu.Unlock()
}

func (f *Fetcher) record(sig model.ExternalSignal, mode model.FetchMode, d time.Duration) {
	if f.obs != nil {
		f.obs.ObserveFetch(sig.Kind, mode, sig.Status, d)
	}
	if !sig.OK() {
		f.warn(sig)
	}
}

func (f *Fetcher) warn(sig model.ExternalSignal) {
	f.log.Warn("external signal degraded",
		slog.String("kind", string(sig.Kind)),
		slog.String("status", string(sig.Status)),
		slog.Time("ts", sig.TS),
		slog.Float64("neutral", sig.Value),
		slog.String("reason", sig.Err),
	)
}
