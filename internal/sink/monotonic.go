// Package sink adapts downstream consumers of feature records: an ordering
// guard, fan-out to several sinks, and WebSocket / JSON-lines delivery.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalfusion/internal/model"
)

// ErrNotMonotonic is returned when a record would repeat or precede a
// timestamp already delivered for the same instrument.
var ErrNotMonotonic = errors.New("record timestamp not after last delivered")

// Monotonic guarantees strictly increasing timestamps per instrument and
// never re-emits a delivered timestamp within its lifetime (one run).
type Monotonic struct {
	next model.RecordSink

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMonotonic wraps next with the ordering guard.
func NewMonotonic(next model.RecordSink) *Monotonic {
	return &Monotonic{next: next, last: make(map[string]time.Time)}
}

func (m *Monotonic) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	key := rec.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.last[key]; ok && !rec.TS.After(last) {
		return fmt.Errorf("%s at %s (last %s): %w", key,
			rec.TS.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339), ErrNotMonotonic)
	}
	if err := m.next.Emit(ctx, rec, dec); err != nil {
		return err
	}
	m.last[key] = rec.TS
	return nil
}

func (m *Monotonic) Close() error { return m.next.Close() }
