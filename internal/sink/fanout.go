package sink

import (
	"context"
	"errors"
	"log"
	"sync"

	"signalfusion/internal/model"
)

// FanOut delivers each record to every sink in order. An error from one sink
// does not stop delivery to the others; all errors are joined.
type FanOut struct {
	sinks []model.RecordSink
}

// NewFanOut creates a FanOut over sinks. Nil sinks are skipped.
func NewFanOut(sinks ...model.RecordSink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of attached sinks.
func (f *FanOut) Len() int { return len(f.sinks) }

func (f *FanOut) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, rec, dec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanOut) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type item struct {
	rec model.FeatureRecord
	dec *model.Decision
}

// Async decouples a best-effort consumer (dashboards, WebSocket viewers) from
// the pipeline. If the buffer is full, the record is dropped for that
// consumer to prevent a slow consumer from blocking the run. Do not wrap the
// regressor feed: it must see every record.
type Async struct {
	name string
	next model.RecordSink
	ch   chan item
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	lastErr error

	// OnDrop is called when a record is dropped (optional, for metrics).
	OnDrop func(name string)
}

// NewAsync starts the delivery goroutine for next.
func NewAsync(name string, next model.RecordSink, bufSize int) *Async {
	if bufSize <= 0 {
		bufSize = 256
	}
	a := &Async{name: name, next: next, ch: make(chan item, bufSize)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for it := range a.ch {
		if err := a.next.Emit(context.Background(), it.rec, it.dec); err != nil {
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			log.Printf("[sink] %s emit error: %v", a.name, err)
		}
	}
}

// Emit enqueues without blocking.
func (a *Async) Emit(ctx context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	select {
	case a.ch <- item{rec: rec, dec: dec}:
	default:
		if a.OnDrop != nil {
			a.OnDrop(a.name)
		} else {
			log.Printf("[sink] %s buffer full, dropping record %s", a.name, rec.Key())
		}
	}
	return nil
}

// Close drains queued records, then closes the wrapped sink.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.ch) })
	a.wg.Wait()
	return a.next.Close()
}

// ChannelStat reports (length, capacity) of the buffer for saturation metrics.
func (a *Async) ChannelStat() (int, int) { return len(a.ch), cap(a.ch) }

// Err returns the last delivery error, if any.
func (a *Async) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}
