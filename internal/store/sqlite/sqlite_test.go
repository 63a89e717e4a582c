package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

var t0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func openTemp(t *testing.T, batch int) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "test.db"), BatchSize: batch})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func bars(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Candle{
			Pair: "BTC/USDT", Timeframe: "5m", TS: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10 + float64(i),
		}
	}
	return out
}

func TestCandlesHalfOpenRange(t *testing.T) {
	s := openTemp(t, 0)
	ctx := context.Background()
	require.NoError(t, s.InsertCandles(ctx, bars(10)))

	it, err := s.Candles(ctx, "BTC/USDT", "5m", t0.Add(10*time.Minute), t0.Add(30*time.Minute))
	require.NoError(t, err)
	got, err := model.Drain(it)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.True(t, got[0].TS.Equal(t0.Add(10*time.Minute)))
	assert.True(t, got[3].TS.Equal(t0.Add(25*time.Minute)))
	assert.Equal(t, 102.5, got[0].Close)
	assert.Equal(t, model.Timeframe("5m"), got[0].Timeframe)
	assert.Equal(t, time.UTC, got[0].TS.Location())
}

func TestCandlesUnknownInstrument(t *testing.T) {
	s := openTemp(t, 0)
	_, err := s.Candles(context.Background(), "ETH/USDT", "5m", t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestInsertCandlesUpserts(t *testing.T) {
	s := openTemp(t, 0)
	ctx := context.Background()
	b := bars(3)
	require.NoError(t, s.InsertCandles(ctx, b))
	b[1].Close = 42
	require.NoError(t, s.InsertCandles(ctx, b[1:2]))

	it, err := s.Candles(ctx, "BTC/USDT", "5m", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	got, err := model.Drain(it)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 42.0, got[1].Close)
}

func TestSignalRowsFeedTable(t *testing.T) {
	s := openTemp(t, 0)
	ctx := context.Background()
	rows := []signal.Row{
		{TS: t0.Add(2 * time.Hour), Value: 0.3},
		{TS: t0, Value: 0.1},
		{TS: t0.Add(time.Hour), Value: 0.2},
	}
	require.NoError(t, s.InsertSignalRows(ctx, model.KindFearGreed, rows))

	got, err := s.SignalRows(ctx, model.KindFearGreed)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.1, got[0].Value)
	assert.Equal(t, 0.3, got[2].Value)

	tbl, err := signal.LoadTable(ctx, s, model.KindFearGreed)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	none, err := s.SignalRows(ctx, model.KindSentiment)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditBatching(t *testing.T) {
	s := openTemp(t, 2)
	ctx := context.Background()
	rec := func(i int) model.FeatureRecord {
		return model.FeatureRecord{Pair: "BTC/USDT", Timeframe: "5m", TS: t0.Add(time.Duration(i) * 5 * time.Minute), Ready: true}
	}
	dec := &model.Decision{Action: model.ActionHold, Reason: "no signal"}

	require.NoError(t, s.Emit(ctx, rec(0), dec))
	n, err := s.AuditCount(ctx, "BTC/USDT", "5m")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "first row stays queued")

	require.NoError(t, s.Emit(ctx, rec(1), nil))
	n, err = s.AuditCount(ctx, "BTC/USDT", "5m")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Emit(ctx, rec(2), dec))
	require.NoError(t, s.Flush(ctx))
	n, err = s.AuditCount(ctx, "BTC/USDT", "5m")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTemp(t, 0)
	ctx := context.Background()

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	e := indicator.NewEngine(indicator.DefaultSpec())
	for _, c := range bars(5) {
		_, err := e.Process(c)
		require.NoError(t, err)
	}
	taken, err := indicator.SnapshotEngine(e)
	require.NoError(t, err)

	for i := 0; i < keepSnapshots+3; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, taken))
	}
	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM indicator_snapshots`).Scan(&count))
	assert.Equal(t, keepSnapshots, count)

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	restored, err := indicator.RestoreEngine(indicator.DefaultSpec(), loaded)
	require.NoError(t, err)
	last, ok := restored.Last("BTC/USDT", "5m")
	require.True(t, ok)
	assert.True(t, last.TS.Equal(t0.Add(20*time.Minute)))
}
