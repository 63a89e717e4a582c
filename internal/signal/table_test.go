package signal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfusion/internal/model"
)

func TestLoadCSV_FearGreed(t *testing.T) {
	in := "date,value\n2025-08-02,40\n2025-08-01,30\n2025-08-03,55\n"
	tbl, err := LoadCSV(strings.NewReader(in), model.KindFearGreed, DefaultCSVOptions(model.KindFearGreed))
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	first, last, ok := tbl.Bounds()
	require.True(t, ok)
	assert.True(t, first.Equal(day0))
	assert.True(t, last.Equal(day0.Add(48*time.Hour)))

	row, ok := tbl.At(day0.Add(25 * time.Hour))
	require.True(t, ok)
	assert.InDelta(t, 0.40, row.Value, 1e-12)
}

func TestLoadCSV_TimestampFormats(t *testing.T) {
	in := strings.Join([]string{
		"timestamp,value",
		fmt.Sprintf("%d,0.1", day0.Unix()),
		fmt.Sprintf("%d,0.2", day0.Add(time.Hour).UnixMilli()),
		"2025-08-01T02:00:00Z,0.3",
		"2025-08-01 03:00:00,0.4",
	}, "\n")
	tbl, err := LoadCSV(strings.NewReader(in), model.KindSentiment, CSVOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Len())

	sig := tbl.Lookup(day0.Add(3*time.Hour+30*time.Minute), time.Hour)
	assert.Equal(t, model.StatusOK, sig.Status)
	assert.InDelta(t, 0.4, sig.Value, 1e-12)
}

func TestLoadCSV_BadValue(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("date,value\n2025-08-01,abc\n"), model.KindFearGreed, CSVOptions{})
	assert.Error(t, err)
}

func TestLoadCSV_NonFiniteRowsAreDropped(t *testing.T) {
	in := "date,value\n2025-08-01,30\n2025-08-02,nan\n2025-08-03,+Inf\n"
	tbl, err := LoadCSV(strings.NewReader(in), model.KindFearGreed, DefaultCSVOptions(model.KindFearGreed))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	// The NaN day falls back to the previous row.
	sig := tbl.Lookup(day0.Add(25*time.Hour), 48*time.Hour)
	assert.Equal(t, model.StatusOK, sig.Status)
	assert.InDelta(t, 0.30, sig.Value, 1e-12)

	only, err := LoadCSV(strings.NewReader("2025-08-01,nan\n"), model.KindFearGreed, CSVOptions{})
	require.NoError(t, err)
	sig = only.Lookup(day0.Add(time.Hour), 48*time.Hour)
	assert.Equal(t, model.StatusMissing, sig.Status)
	assert.Equal(t, model.NeutralFearGreed, sig.Value)
}

func TestTable_DuplicateKeepsLastAndClamps(t *testing.T) {
	tbl := NewTable(model.KindSentiment, []Row{
		{TS: day0, Value: 0.2},
		{TS: day0, Value: 3},
	})
	require.Equal(t, 1, tbl.Len())
	row, _ := tbl.At(day0)
	assert.Equal(t, 1.0, row.Value)
}

func TestTable_Gaps(t *testing.T) {
	tbl := fearGreedTable() // rows at day0, +24h, +48h
	from := day0.Add(-12 * time.Hour)
	to := day0.Add(5 * 24 * time.Hour)

	gaps := tbl.Gaps(from, to, 48*time.Hour)
	require.Len(t, gaps, 2)
	assert.True(t, gaps[0].From.Equal(from))
	assert.True(t, gaps[0].To.Equal(day0))
	assert.True(t, gaps[1].From.Equal(day0.Add(96*time.Hour)))
	assert.True(t, gaps[1].To.Equal(to))

	assert.Empty(t, tbl.Gaps(day0, day0.Add(72*time.Hour), 48*time.Hour))
}

func TestDownloadFearGreed_WritesOldestFirst(t *testing.T) {
	d1 := day0.Unix()
	d2 := day0.Add(24 * time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprintf(w, `{"name":"Fear and Greed Index","data":[
			{"value":"68","value_classification":"Greed","timestamp":"%d"},
			{"value":"25","value_classification":"Extreme Fear","timestamp":"%d"},
			{"value":"50","timestamp":"0"}]}`, d2, d1)
	}))
	defer srv.Close()

	points, err := DownloadFearGreed(context.Background(), srv.Client(), srv.URL, 2)
	require.NoError(t, err)
	require.Len(t, points, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteFearGreedCSV(&buf, points))
	assert.Equal(t, "date,value\n2025-08-01,25\n2025-08-02,68\n", buf.String())

	// And the result loads back as a table.
	tbl, err := LoadCSV(&buf, model.KindFearGreed, DefaultCSVOptions(model.KindFearGreed))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestDownloadFearGreed_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	_, err := DownloadFearGreed(context.Background(), srv.Client(), srv.URL, 10)
	assert.Error(t, err)
}
