package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

// Candles streams candles with from <= TS < to in ascending order.
// An instrument with no rows at all wraps model.ErrNoData.
func (s *Store) Candles(ctx context.Context, pair string, tf model.Timeframe, from, to time.Time) (model.CandleIterator, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM candles WHERE pair = ? AND timeframe = ? LIMIT 1`, pair, string(tf),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", pair, tf, model.ErrNoData)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite probe candles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE pair = ? AND timeframe = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, pair, string(tf), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return &candleRows{rows: rows, pair: pair, tf: tf}, nil
}

// candleRows adapts *sql.Rows to model.CandleIterator.
type candleRows struct {
	rows *sql.Rows
	pair string
	tf   model.Timeframe
}

func (it *candleRows) Next() (model.Candle, bool, error) {
	if !it.rows.Next() {
		return model.Candle{}, false, it.rows.Err()
	}
	c := model.Candle{Pair: it.pair, Timeframe: it.tf}
	var tsMilli int64
	if err := it.rows.Scan(&tsMilli, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
		return model.Candle{}, false, fmt.Errorf("sqlite scan candles: %w", err)
	}
	c.TS = time.UnixMilli(tsMilli).UTC()
	return c, true, nil
}

func (it *candleRows) Close() error { return it.rows.Close() }

// SignalRows returns every stored observation of kind, oldest first.
func (s *Store) SignalRows(ctx context.Context, kind model.SignalKind) ([]signal.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM signal_history WHERE kind = ? ORDER BY ts ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("sqlite query signal_history: %w", err)
	}
	defer rows.Close()

	var out []signal.Row
	for rows.Next() {
		var tsMilli int64
		var r signal.Row
		if err := rows.Scan(&tsMilli, &r.Value); err != nil {
			return nil, fmt.Errorf("sqlite scan signal_history: %w", err)
		}
		r.TS = time.UnixMilli(tsMilli).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditCount returns the number of committed audit rows for an instrument.
func (s *Store) AuditCount(ctx context.Context, pair string, tf model.Timeframe) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feature_audit WHERE pair = ? AND timeframe = ?`, pair, string(tf),
	).Scan(&n)
	return n, err
}

// LoadSnapshot loads the most recent engine snapshot. No snapshot returns nil, nil.
func (s *Store) LoadSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM indicator_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
