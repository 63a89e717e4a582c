package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

// Metrics holds the Prometheus metrics of a pipeline run.
type Metrics struct {
	// Pipeline output
	RecordsTotal   *prometheus.CounterVec
	DegradedTotal  *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
	ComposeDur     prometheus.Histogram
	LastRecordTS   *prometheus.GaugeVec

	// External signal fetcher
	FetchTotal     *prometheus.CounterVec
	FetchDur       *prometheus.HistogramVec
	CacheHitsTotal *prometheus.CounterVec

	// Circuit breakers (0=closed, 1=open, 2=half-open)
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// Backpressure
	SinkDropsTotal *prometheus.CounterVec

	CoverageStatus *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_records_total",
			Help: "Feature records emitted",
		}, []string{"pair", "timeframe", "ready"}),
		DegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_degraded_signals_total",
			Help: "Feature records carrying a neutral fallback for an external signal",
		}, []string{"kind"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_decisions_total",
			Help: "Decision rule outputs by action",
		}, []string{"action"}),
		ComposeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalfusion_compose_duration_seconds",
			Help:    "Per-candle indicator update, fetch and compose latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01, 0.1, 1},
		}),
		LastRecordTS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalfusion_last_record_timestamp_seconds",
			Help: "Open time of the most recent emitted record",
		}, []string{"pair", "timeframe"}),

		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_signal_fetch_total",
			Help: "External signal fetch results",
		}, []string{"kind", "mode", "status"}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalfusion_signal_fetch_duration_seconds",
			Help:    "External signal fetch latency",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind", "mode"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_signal_cache_hits_total",
			Help: "External signal requests served from cache",
		}, []string{"kind"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalfusion_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"kind"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_breaker_trips_total",
			Help: "Times a provider circuit breaker tripped open",
		}, []string{"kind"}),

		SinkDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_sink_drops_total",
			Help: "Records dropped by a slow sink or client",
		}, []string{"sink"}),

		CoverageStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalfusion_coverage_checks_total",
			Help: "Coverage verification results",
		}, []string{"pair", "status"}),
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.DegradedTotal,
		m.DecisionsTotal,
		m.ComposeDur,
		m.LastRecordTS,
		m.FetchTotal,
		m.FetchDur,
		m.CacheHitsTotal,
		m.BreakerState,
		m.BreakerTrips,
		m.SinkDropsTotal,
		m.CoverageStatus,
	)
	return m
}

// ObserveRecord implements the pipeline observer.
func (m *Metrics) ObserveRecord(rec model.FeatureRecord, dec *model.Decision, compute time.Duration) {
	ready := "false"
	if rec.Ready {
		ready = "true"
	}
	m.RecordsTotal.WithLabelValues(rec.Pair, string(rec.Timeframe), ready).Inc()
	for _, k := range rec.Degraded {
		m.DegradedTotal.WithLabelValues(string(k)).Inc()
	}
	if dec != nil {
		m.DecisionsTotal.WithLabelValues(string(dec.Action)).Inc()
	}
	m.ComposeDur.Observe(compute.Seconds())
	m.LastRecordTS.WithLabelValues(rec.Pair, string(rec.Timeframe)).Set(float64(rec.TS.Unix()))
}

// ObserveFetch implements signal.Observer.
func (m *Metrics) ObserveFetch(kind model.SignalKind, mode model.FetchMode, status model.SignalStatus, d time.Duration) {
	m.FetchTotal.WithLabelValues(string(kind), string(mode), string(status)).Inc()
	m.FetchDur.WithLabelValues(string(kind), string(mode)).Observe(d.Seconds())
}

// ObserveCacheHit implements signal.Observer.
func (m *Metrics) ObserveCacheHit(kind model.SignalKind) {
	m.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveCoverage counts one verification outcome.
func (m *Metrics) ObserveCoverage(pair, status string) {
	m.CoverageStatus.WithLabelValues(pair, status).Inc()
}

// WatchBreaker exports b's state under kind and chains any existing callback.
func (m *Metrics) WatchBreaker(kind model.SignalKind, b *signal.Breaker) {
	gauge := m.BreakerState.WithLabelValues(string(kind))
	trips := m.BreakerTrips.WithLabelValues(string(kind))
	gauge.Set(float64(b.CurrentState()))

	prev := b.OnStateChange
	b.OnStateChange = func(from, to signal.BreakerState) {
		gauge.Set(float64(to))
		if to == signal.StateOpen {
			trips.Inc()
		}
		if prev != nil {
			prev(from, to)
		}
	}
}

// SinkDrop counts one record dropped by the named sink.
func (m *Metrics) SinkDrop(name string) {
	m.SinkDropsTotal.WithLabelValues(name).Inc()
}

// SinkDropped returns a drop callback bound to name.
func (m *Metrics) SinkDropped(name string) func() {
	return m.SinkDropsTotal.WithLabelValues(name).Inc
}
