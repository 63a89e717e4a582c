package signal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// FearGreedURL is the public alternative.me index endpoint.
const FearGreedURL = "https://api.alternative.me/fng/"

// FearGreedConfig is the live provider mapping for alternative.me: the
// latest entry's 0..100 value scaled into [0, 1], stamped with its timestamp.
func FearGreedConfig(url string) HTTPConfig {
	if url == "" {
		url = FearGreedURL + "?limit=1"
	}
	return HTTPConfig{
		URL:             url,
		ValuePath:       "data.0.value",
		TimePath:        "data.0.timestamp",
		Scale:           0.01,
		Timeout:         DefaultTimeout,
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

// RawPoint is one daily index value as published (0..100).
type RawPoint struct {
	TS    time.Time
	Value float64
}

// DownloadFearGreed fetches up to limit daily index values and returns them
// oldest-first. Entries without a positive timestamp are skipped.
func DownloadFearGreed(ctx context.Context, client *http.Client, baseURL string, limit int) ([]RawPoint, error) {
	if baseURL == "" {
		baseURL = FearGreedURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	url := fmt.Sprintf("%s?limit=%d", baseURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fear_greed request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fear_greed get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fear_greed get: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fear_greed read body: %w", err)
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("fear_greed: response has no data array")
	}

	var points []RawPoint
	for _, row := range data.Array() {
		ts := row.Get("timestamp").Int()
		if ts <= 0 {
			continue
		}
		v := 50.0
		if raw := row.Get("value"); raw.Exists() {
			n, err := number(raw)
			if err != nil {
				return nil, fmt.Errorf("fear_greed value at %d: %w", ts, err)
			}
			v = n
		}
		points = append(points, RawPoint{TS: unixTime(ts), Value: v})
	}

	// API returns newest-first
	sort.Slice(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })
	return points, nil
}

// WriteFearGreedCSV writes points as "date,value" rows, the layout LoadCSV reads.
func WriteFearGreedCSV(w io.Writer, points []RawPoint) error {
	if _, err := io.WriteString(w, "date,value\n"); err != nil {
		return err
	}
	for _, p := range points {
		line := p.TS.UTC().Format("2006-01-02") + "," + strconv.FormatFloat(p.Value, 'f', -1, 64) + "\n"
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
