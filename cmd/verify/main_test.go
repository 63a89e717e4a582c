package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfusion/config"
)

// writeBars writes n 1h freqtrade rows for pair starting at from, leaving out index skip.
func writeBars(t *testing.T, dir, pair string, from time.Time, n int, skip int) {
	t.Helper()
	var rows [][]float64
	for i := 0; i < n; i++ {
		if i == skip {
			continue
		}
		ts := float64(from.Add(time.Duration(i) * time.Hour).UnixMilli())
		rows = append(rows, []float64{ts, 100, 101, 99, 100.5, 10})
	}
	b, err := json.Marshal(rows)
	require.NoError(t, err)
	path := filepath.Join(dir, "binance", "spot", "1h", strings.ReplaceAll(pair, "/", "_")+"-1h.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func testConfig(t *testing.T, dir string, pairs ...string) *config.Config {
	t.Helper()
	return testConfigWith(t, dir, 0, pairs...)
}

func testConfigWith(t *testing.T, dir string, trainDays int, pairs ...string) *config.Config {
	t.Helper()
	cfg, err := config.LoadWith("", func(c *config.Config) {
		c.Pairs = pairs
		c.Timeframe = "1h"
		c.Timerange = "20250801-20250802"
		c.WarmupBars = 60
		c.TrainPeriodDays = trainDays
		c.Data.Dir = dir
	})
	require.NoError(t, err)
	return cfg
}

var day0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func TestVerifyAllCovered(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "BTC/USDT", day0.Add(-60*time.Hour), 84, -1)

	var out bytes.Buffer
	code := run(context.Background(), testConfig(t, dir, "BTC/USDT"), &out)
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "[OK] BTC/USDT")
	assert.Contains(t, out.String(), "All pairs have sufficient coverage")
}

func TestVerifyReportsEachFailure(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "BTC/USDT", day0.Add(-10*time.Hour), 34, -1)
	writeBars(t, dir, "ETH/USDT", day0.Add(-60*time.Hour), 84, 70)

	var out bytes.Buffer
	code := run(context.Background(), testConfig(t, dir, "BTC/USDT", "ETH/USDT", "SOL/USDT"), &out)
	s := out.String()

	assert.Equal(t, 2, code)
	assert.Contains(t, s, "[INSUFFICIENT_EARLY_DATA] BTC/USDT")
	assert.Contains(t, s, "[GAPS] ETH/USDT")
	assert.Contains(t, s, "[MISSING] SOL/USDT")
	assert.Contains(t, s, "--timerange 20250729-20250802")
	assert.Contains(t, s, "-p BTC/USDT -p ETH/USDT -p SOL/USDT")
}

func TestVerifyLateData(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "BTC/USDT", day0.Add(-60*time.Hour), 80, -1)

	var out bytes.Buffer
	code := run(context.Background(), testConfig(t, dir, "BTC/USDT"), &out)
	assert.Equal(t, 2, code)
	assert.Contains(t, out.String(), "[INSUFFICIENT_LATE_DATA] BTC/USDT")
}

func TestVerifyTrainingLookback(t *testing.T) {
	dir := t.TempDir()
	// 60 warm-up bars are present, the extra 2 training days are not.
	writeBars(t, dir, "BTC/USDT", day0.Add(-60*time.Hour), 84, -1)

	var out bytes.Buffer
	code := run(context.Background(), testConfigWith(t, dir, 2, "BTC/USDT"), &out)
	s := out.String()
	assert.Equal(t, 2, code, s)
	assert.Contains(t, s, "train_period_days=2, warmup=108 bars")
	assert.Contains(t, s, "need data from <= 2025-07-27T12:00:00Z")
	assert.Contains(t, s, "[INSUFFICIENT_EARLY_DATA] BTC/USDT")
	assert.Contains(t, s, "--timerange 20250727-20250802")

	dir = t.TempDir()
	writeBars(t, dir, "BTC/USDT", day0.Add(-108*time.Hour), 132, -1)
	out.Reset()
	code = run(context.Background(), testConfigWith(t, dir, 2, "BTC/USDT"), &out)
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "[OK] BTC/USDT")
}
