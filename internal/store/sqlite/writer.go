// Package sqlite stores candles, external signal history, the feature audit
// trail and engine snapshots in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
	"signalfusion/internal/signal"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize = 100
	keepSnapshots    = 10
)

// Config configures the SQLite store.
type Config struct {
	DBPath    string `yaml:"path" default:"data/signalfusion.db" validate:"required"`
	BatchSize int    `yaml:"batch_size" default:"100" validate:"gte=1"`
}

// Store is a single-connection SQLite store. Audit records passed to Emit
// are buffered and committed in batched transactions.
type Store struct {
	db        *sql.DB
	batchSize int

	mu      sync.Mutex
	pending []auditRow
}

type auditRow struct {
	rec model.FeatureRecord
	dec *model.Decision
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database with WAL mode and creates the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db, batchSize: batch}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			pair       TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (pair, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS signal_history (
			kind  TEXT    NOT NULL,
			ts    INTEGER NOT NULL,
			value REAL    NOT NULL,
			PRIMARY KEY (kind, ts)
		);

		CREATE TABLE IF NOT EXISTS feature_audit (
			pair      TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			ready     INTEGER NOT NULL,
			action    TEXT,
			reason    TEXT,
			data      TEXT    NOT NULL,
			PRIMARY KEY (pair, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// InsertCandles upserts candles in a single transaction.
func (s *Store) InsertCandles(ctx context.Context, candles []model.Candle) error {
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO candles (pair, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, len(candles), func(stmt *sql.Stmt, i int) error {
		c := candles[i]
		_, err := stmt.ExecContext(ctx, c.Pair, string(c.Timeframe), c.TS.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
		return err
	})
}

// InsertSignalRows upserts historical observations of one kind.
func (s *Store) InsertSignalRows(ctx context.Context, kind model.SignalKind, rows []signal.Row) error {
	return s.inTx(ctx, `
		INSERT OR REPLACE INTO signal_history (kind, ts, value) VALUES (?, ?, ?)
	`, len(rows), func(stmt *sql.Stmt, i int) error {
		_, err := stmt.ExecContext(ctx, string(kind), rows[i].TS.UnixMilli(), rows[i].Value)
		return err
	})
}

// Emit queues one audit row and commits the queue once it reaches the batch size.
func (s *Store) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	s.mu.Lock()
	s.pending = append(s.pending, auditRow{rec: rec, dec: dec})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()
	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush commits every queued audit row.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := s.inTx(ctx, `
		INSERT OR REPLACE INTO feature_audit (pair, timeframe, ts, ready, action, reason, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(batch), func(stmt *sql.Stmt, i int) error {
		row := batch[i]
		data, err := json.Marshal(row.rec)
		if err != nil {
			return err
		}
		var action, reason sql.NullString
		if row.dec != nil {
			action = sql.NullString{String: string(row.dec.Action), Valid: true}
			reason = sql.NullString{String: row.dec.Reason, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, row.rec.Pair, string(row.rec.Timeframe), row.rec.TS.UnixMilli(),
			row.rec.Ready, action, reason, string(data))
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite audit batch: %w", err)
	}
	log.Printf("[sqlite] committed %d audit rows in %v", len(batch), time.Since(start))
	return nil
}

// inTx prepares query once and runs exec for each of n items in one transaction.
func (s *Store) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveSnapshot stores an indicator engine snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close flushes queued audit rows and closes the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ferr := s.Flush(ctx)
	if err := s.db.Close(); err != nil {
		return err
	}
	return ferr
}
