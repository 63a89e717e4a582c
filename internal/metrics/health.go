package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health of a running pipeline.
type HealthStatus struct {
	mu sync.RWMutex

	LastRecordTime time.Time         `json:"last_record_time"`
	RedisEnabled   bool              `json:"redis_enabled"`
	RedisConnected bool              `json:"redis_connected"`
	SQLiteEnabled  bool              `json:"sqlite_enabled"`
	SQLiteOK       bool              `json:"sqlite_ok"`
	Breakers       map[string]string `json:"breakers"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		Breakers:  make(map[string]string),
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastRecordTime(t time.Time) {
	h.mu.Lock()
	h.LastRecordTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetBreaker(kind, state string) {
	h.mu.Lock()
	h.Breakers[kind] = state
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
// Only enabled stores count toward the overall status; an open breaker degrades it.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	breakerOpen := false
	for _, st := range h.Breakers {
		if st == "open" {
			breakerOpen = true
		}
	}
	if redisDown || sqliteDown || breakerOpen {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	recordAge := ""
	if !h.LastRecordTime.IsZero() {
		recordAge = time.Since(h.LastRecordTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string            `json:"status"`
		Uptime          string            `json:"uptime"`
		LastRecordTime  string            `json:"last_record_time"`
		RecordAge       string            `json:"record_age"`
		RedisConnected  bool              `json:"redis_connected"`
		RedisLatencyMs  float64           `json:"redis_latency_ms"`
		SQLiteOK        bool              `json:"sqlite_ok"`
		SQLiteLatencyMs float64           `json:"sqlite_latency_ms"`
		Breakers        map[string]string `json:"breakers"`
		LastCheckAt     string            `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastRecordTime:  h.LastRecordTime.Format(time.RFC3339),
		RecordAge:       recordAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Breakers:        h.Breakers,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server reading from g.
// Extra handlers (e.g. the WebSocket feed) can be mounted on the returned mux.
func NewServer(addr string, g prometheus.Gatherer, health *HealthStatus) (*Server, *http.ServeMux) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, mux
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
