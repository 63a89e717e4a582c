// Package ftjson reads OHLCV history stored in the freqtrade data directory
// layout, plain or gzip-compressed.
package ftjson

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"signalfusion/internal/model"
)

// Source is a model.CandleSource over <root>/<exchange>/... files.
// Parsed files are cached for the lifetime of the Source.
type Source struct {
	root     string
	exchange string

	mu    sync.Mutex
	cache map[string][]model.Candle
}

// New returns a Source rooted at dataDir (e.g. "user_data/data").
func New(dataDir, exchange string) *Source {
	return &Source{root: dataDir, exchange: exchange, cache: make(map[string][]model.Candle)}
}

// FileName returns the freqtrade base name for pair and tf, e.g. "BTC_USDT-5m".
func FileName(pair string, tf model.Timeframe) string {
	return strings.ReplaceAll(pair, "/", "_") + "-" + string(tf)
}

// Candidates lists the paths probed for an instrument, in lookup order.
func (s *Source) Candidates(pair string, tf model.Timeframe) []string {
	base := FileName(pair, tf)
	spot := filepath.Join(s.root, s.exchange, "spot", string(tf))
	legacy := filepath.Join(s.root, s.exchange)
	return []string{
		filepath.Join(spot, base+".json"),
		filepath.Join(spot, base+".json.gz"),
		filepath.Join(legacy, base+".json"),
		filepath.Join(legacy, base+".json.gz"),
	}
}

// Candles returns the candles in [from, to). A missing file wraps model.ErrNoData.
func (s *Source) Candles(ctx context.Context, pair string, tf model.Timeframe, from, to time.Time) (model.CandleIterator, error) {
	all, err := s.load(pair, tf)
	if err != nil {
		return nil, err
	}
	var out []model.Candle
	for _, c := range all {
		if !c.TS.Before(from) && c.TS.Before(to) {
			out = append(out, c)
		}
	}
	return model.NewSliceIterator(out), nil
}

func (s *Source) load(pair string, tf model.Timeframe) ([]model.Candle, error) {
	key := model.InstrumentKey(pair, tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	for _, path := range s.Candidates(pair, tf) {
		data, err := readFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ftjson read %s: %w", path, err)
		}
		candles, err := Parse(data, pair, tf)
		if err != nil {
			return nil, fmt.Errorf("ftjson parse %s: %w", path, err)
		}
		s.cache[key] = candles
		return candles, nil
	}
	return nil, fmt.Errorf("%s %s under %s: %w", pair, tf, filepath.Join(s.root, s.exchange), model.ErrNoData)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// Parse decodes a freqtrade OHLCV array: [[ts_ms, open, high, low, close, volume], ...].
func Parse(data []byte, pair string, tf model.Timeframe) ([]model.Candle, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("expected a top-level array")
	}

	var (
		out    []model.Candle
		rowErr error
		i      int
	)
	root.ForEach(func(_, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 6 {
			rowErr = fmt.Errorf("row %d: want 6 columns, got %d", i, len(cols))
			return false
		}
		out = append(out, model.Candle{
			Pair:      pair,
			Timeframe: tf,
			TS:        time.UnixMilli(cols[0].Int()).UTC(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
		})
		i++
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return out, nil
}
