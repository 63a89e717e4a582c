package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

// Sink is a RecordSink that alerts on state changes per instrument: a new
// non-hold decision, and an external signal switching between observed and
// neutral fallback. Repeated identical states are not re-sent. Delivery
// failures are logged, never returned, so alerting cannot fail a run.
type Sink struct {
	n Notifier

	mu       sync.Mutex
	action   map[string]model.Action
	degraded map[string]string
	sent     int
}

// NewSink creates an alerting sink over n.
func NewSink(n Notifier) *Sink {
	return &Sink{n: n, action: make(map[string]model.Action), degraded: make(map[string]string)}
}

// Sent returns the number of alerts delivered.
func (s *Sink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Sink) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	key := rec.Key()
	var alerts []Alert

	s.mu.Lock()
	if dec != nil && dec.Action != s.action[key] {
		s.action[key] = dec.Action
		if dec.Action != model.ActionHold {
			alerts = append(alerts, Alert{
				Level:   AlertInfo,
				Title:   fmt.Sprintf("%s %s", rec.Pair, dec.Action),
				Message: dec.Reason,
				Pair:    rec.Pair,
				TS:      rec.TS,
			})
		}
	}

	state := degradedState(rec)
	if prev, seen := s.degraded[key]; state != prev && (seen || state != "") {
		s.degraded[key] = state
		a := Alert{Level: AlertWarning, Pair: rec.Pair, TS: rec.TS}
		if state == "" {
			a.Level = AlertInfo
			a.Title = rec.Pair + " external signals recovered"
			a.Message = "all signals observed again"
		} else {
			a.Title = rec.Pair + " external signals degraded"
			a.Message = "neutral fallback for " + state
		}
		alerts = append(alerts, a)
	}
	s.mu.Unlock()

	for _, a := range alerts {
		s.send(ctx, a)
	}
	return nil
}

func (s *Sink) Close() error { return nil }

func (s *Sink) send(ctx context.Context, a Alert) {
	if err := s.n.Send(ctx, a); err != nil {
		log.Printf("[notify] delivery failed: %v", err)
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func degradedState(rec model.FeatureRecord) string {
	kinds := make([]string, len(rec.Degraded))
	for i, k := range rec.Degraded {
		kinds[i] = string(k)
	}
	return strings.Join(kinds, ",")
}

// BreakerAlerts returns an OnStateChange hook alerting when kind's breaker
// opens (critical) or closes again (info).
func BreakerAlerts(n Notifier, kind model.SignalKind) func(from, to signal.BreakerState) {
	return func(from, to signal.BreakerState) {
		var a Alert
		switch to {
		case signal.StateOpen:
			a = Alert{Level: AlertCritical, Title: string(kind) + " provider unavailable",
				Message: "circuit breaker opened; neutral values in use"}
		case signal.StateClosed:
			a = Alert{Level: AlertInfo, Title: string(kind) + " provider recovered",
				Message: "circuit breaker closed after " + from.String()}
		default:
			return
		}
		// Breaker transitions happen under its lock; deliver asynchronously.
		go func() {
			if err := n.Send(context.Background(), a); err != nil {
				log.Printf("[notify] delivery failed: %v", err)
			}
		}()
	}
}
