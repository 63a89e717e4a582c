package signal

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"signalfusion/internal/model"
)

// Row is one historical observation, value already normalized.
type Row struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Table is a preloaded, time-indexed signal history for one kind.
// It is immutable after construction and safe for concurrent reads.
type Table struct {
	kind model.SignalKind
	rows []Row // sorted by TS, unique
}

// NewTable sorts rows by TS. Rows with a duplicate TS keep the last value.
// Non-finite values are dropped, so lookups at those times fall back to an
// earlier row or resolve as missing.
func NewTable(kind model.SignalKind, rows []Row) *Table {
	sorted := make([]Row, 0, len(rows))
	for _, r := range rows {
		if model.Finite(r.Value) {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	out := sorted[:0]
	for _, r := range sorted {
		r.Value = kind.Clamp(r.Value)
		if n := len(out); n > 0 && out[n-1].TS.Equal(r.TS) {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return &Table{kind: kind, rows: out}
}

func (t *Table) Kind() model.SignalKind { return t.kind }
func (t *Table) Len() int               { return len(t.rows) }

// Rows returns a copy of the sorted rows.
func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Bounds returns the first and last row timestamps.
func (t *Table) Bounds() (time.Time, time.Time, bool) {
	if len(t.rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return t.rows[0].TS, t.rows[len(t.rows)-1].TS, true
}

// At returns the latest row with TS <= ts.
func (t *Table) At(ts time.Time) (Row, bool) {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].TS.After(ts) })
	if i == 0 {
		return Row{}, false
	}
	return t.rows[i-1], true
}

// Lookup resolves the signal for ts. No row at or before ts is missing; the
// nearest row older than staleness is stale. Both carry the neutral value.
func (t *Table) Lookup(ts time.Time, staleness time.Duration) model.ExternalSignal {
	row, ok := t.At(ts)
	if !ok {
		return model.Degraded(t.kind, ts, model.StatusMissing,
			fmt.Sprintf("%v: no %s row at or before %s", model.ErrExternalSignalDegraded, t.kind, ts.UTC().Format(time.RFC3339)))
	}
	if staleness > 0 && ts.Sub(row.TS) > staleness {
		sig := model.Degraded(t.kind, ts, model.StatusStale,
			fmt.Sprintf("%v: nearest %s row %s older than %s", model.ErrExternalSignalDegraded, t.kind, row.TS.UTC().Format(time.RFC3339), staleness))
		sig.SourceTS = row.TS
		return sig
	}
	return model.ExternalSignal{TS: ts, Kind: t.kind, Value: row.Value, Status: model.StatusOK, SourceTS: row.TS}
}

// Gaps lists the sub-ranges of [from, to) where Lookup would not be ok.
// Each row covers [row.TS, row.TS+staleness].
func (t *Table) Gaps(from, to time.Time, staleness time.Duration) []model.TimeRange {
	var gaps []model.TimeRange
	cursor := from
	for _, r := range t.rows {
		if !r.TS.Before(to) {
			break
		}
		end := r.TS.Add(staleness)
		if !end.After(cursor) {
			continue
		}
		if r.TS.After(cursor) {
			gaps = append(gaps, model.TimeRange{From: cursor, To: r.TS})
		}
		cursor = end
	}
	if cursor.Before(to) {
		gaps = append(gaps, model.TimeRange{From: cursor, To: to})
	}
	return gaps
}

// CSVOptions controls how raw CSV values map into the kind's range.
type CSVOptions struct {
	Scale  float64 // multiplier applied to the raw value (0 means 1)
	Offset float64
}

// DefaultCSVOptions returns the mapping for the provider's raw scale:
// fear/greed files hold 0..100, sentiment files hold the compound score.
func DefaultCSVOptions(kind model.SignalKind) CSVOptions {
	if kind == model.KindFearGreed {
		return CSVOptions{Scale: 0.01}
	}
	return CSVOptions{Scale: 1}
}

// LoadCSV parses a "date,value" or "timestamp,value" table. The first column
// accepts YYYY-MM-DD, RFC3339, "YYYY-MM-DD HH:MM:SS" or unix seconds/millis.
// A header row is detected and skipped.
func LoadCSV(r io.Reader, kind model.SignalKind, opts CSVOptions) (*Table, error) {
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []Row
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("csv line %d: expected 2 columns, got %d", line, len(rec))
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: value %q: %w", line, rec[1], err)
		}
		rows = append(rows, Row{TS: ts, Value: v*opts.Scale + opts.Offset})
	}
	return NewTable(kind, rows), nil
}

var timeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// RowLoader reads stored signal history (e.g. the SQLite signal_history table).
type RowLoader interface {
	SignalRows(ctx context.Context, kind model.SignalKind) ([]Row, error)
}

// LoadTable builds a Table from a RowLoader.
func LoadTable(ctx context.Context, loader RowLoader, kind model.SignalKind) (*Table, error) {
	rows, err := loader.SignalRows(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s history: %w", kind, err)
	}
	return NewTable(kind, rows), nil
}
