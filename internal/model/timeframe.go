package model

import (
	"fmt"
	"strconv"
	"time"
)

// Timeframe is a candle interval in exchange notation, e.g. "5m", "1h", "1d".
type Timeframe string

// Duration returns the interval length, or 0 if the timeframe is malformed.
func (tf Timeframe) Duration() time.Duration {
	d, err := ParseTimeframe(string(tf))
	if err != nil {
		return 0
	}
	return d
}

// Align truncates ts to the timeframe boundary (UTC).
func (tf Timeframe) Align(ts time.Time) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return ts.UTC()
	}
	return ts.UTC().Truncate(d)
}

// ParseTimeframe converts "1m", "5m", "1h", "4h", "1d", "1w" to a duration.
func ParseTimeframe(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", s)
	}
	return time.Duration(n) * unit, nil
}
