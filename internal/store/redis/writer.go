package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"unsafe"

	goredis "github.com/go-redis/redis/v8"

	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
)

const (
	// Stream trimming: ~30 days of 5m records + buffer
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
	defaultSnapshotKey  = "signalfusion:snapshot:engine"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr        string // Redis address, e.g. "localhost:6379"
	Password    string
	DB          int
	Prefix      string // key prefix, default "features"
	StreamMax   int64  // approximate MAXLEN per stream
	SnapshotKey string
}

// client is the subset of *goredis.Client the writer uses.
type client interface {
	Pipeline() goredis.Pipeliner
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// Writer publishes feature records to Redis Streams for downstream consumers
// (the ML regressor reads the stream) and stores engine snapshots.
type Writer struct {
	client client
	cfg    WriterConfig
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newWriter(c, cfg), nil
}

func newWriter(c client, cfg WriterConfig) *Writer {
	if cfg.Prefix == "" {
		cfg.Prefix = "features"
	}
	if cfg.StreamMax <= 0 {
		cfg.StreamMax = defaultStreamMaxLen
	}
	if cfg.SnapshotKey == "" {
		cfg.SnapshotKey = defaultSnapshotKey
	}
	return &Writer{client: c, cfg: cfg}
}

// StreamKey is the stream a record is appended to: "<prefix>:<pair>:<tf>".
func (w *Writer) StreamKey(pair string, tf model.Timeframe) string {
	return w.cfg.Prefix + ":" + pair + ":" + string(tf)
}

type streamEntry struct {
	Record   model.FeatureRecord `json:"record"`
	Decision *model.Decision     `json:"decision,omitempty"`
}

// Emit pipelines XADD + SET latest + PUBLISH for one record.
func (w *Writer) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	jsonBytes, err := json.Marshal(streamEntry{Record: rec, Decision: dec})
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", rec.Key(), err)
	}
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	streamKey := w.StreamKey(rec.Pair, rec.Timeframe)
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: w.cfg.StreamMax,
		Approx: true,
		Values: map[string]interface{}{
			"ts":    rec.TS.UnixMilli(),
			"ready": rec.Ready,
			"data":  jsonData,
		},
	})
	pipe.Set(ctx, streamKey+":latest", jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:"+streamKey, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", rec.Key(), err)
	}
	return nil
}

// LoadSnapshot reads the engine snapshot. A missing key returns nil, nil.
func (w *Writer) LoadSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	data, err := w.client.Get(ctx, w.cfg.SnapshotKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", w.cfg.SnapshotKey, err)
	}
	var snap indicator.EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot stores the engine snapshot without expiry.
func (w *Writer) SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := w.client.Set(ctx, w.cfg.SnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", w.cfg.SnapshotKey, err)
	}
	return nil
}

// Close closes the Redis connection.
func (w *Writer) Close() error {
	return w.client.Close()
}

// Client returns the underlying *goredis.Client for health checks, or nil
// when the writer wraps another client implementation.
func (w *Writer) Client() *goredis.Client {
	c, _ := w.client.(*goredis.Client)
	return c
}
