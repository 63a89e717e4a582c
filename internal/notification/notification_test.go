package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfusion/internal/model"
	"signalfusion/internal/signal"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

var t0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func rec(i int, degraded ...model.SignalKind) model.FeatureRecord {
	return model.FeatureRecord{Pair: "BTC/USDT", Timeframe: "5m", TS: t0.Add(time.Duration(i) * 5 * time.Minute), Degraded: degraded}
}

func TestSinkAlertsOnDecisionChanges(t *testing.T) {
	r := &recorder{}
	s := NewSink(r)
	ctx := context.Background()
	hold := &model.Decision{Action: model.ActionHold}
	long := &model.Decision{Action: model.ActionEnterLong, Reason: "rsi oversold"}
	exit := &model.Decision{Action: model.ActionExit, Reason: "rsi overbought"}

	for i, d := range []*model.Decision{hold, long, long, hold, exit, nil} {
		require.NoError(t, s.Emit(ctx, rec(i), d))
	}

	require.Len(t, r.alerts, 2)
	assert.Equal(t, "BTC/USDT enter_long", r.alerts[0].Title)
	assert.Equal(t, "rsi oversold", r.alerts[0].Message)
	assert.True(t, r.alerts[0].TS.Equal(t0.Add(5*time.Minute)))
	assert.Equal(t, "BTC/USDT exit", r.alerts[1].Title)
	assert.Equal(t, 2, s.Sent())
}

func TestSinkAlertsOnDegradation(t *testing.T) {
	r := &recorder{}
	s := NewSink(r)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, rec(0), nil))
	require.NoError(t, s.Emit(ctx, rec(1, model.KindFearGreed), nil))
	require.NoError(t, s.Emit(ctx, rec(2, model.KindFearGreed), nil))
	require.NoError(t, s.Emit(ctx, rec(3), nil))

	require.Len(t, r.alerts, 2)
	assert.Equal(t, AlertWarning, r.alerts[0].Level)
	assert.Contains(t, r.alerts[0].Message, "fear_greed")
	assert.Equal(t, AlertInfo, r.alerts[1].Level)
}

func TestSinkSwallowsDeliveryErrors(t *testing.T) {
	s := NewSink(&recorder{err: errors.New("down")})
	err := s.Emit(context.Background(), rec(0), &model.Decision{Action: model.ActionEnterLong})
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Sent())
}

func TestBreakerAlerts(t *testing.T) {
	r := &recorder{}
	b := signal.NewBreaker(1, time.Hour)
	b.OnStateChange = BreakerAlerts(r, model.KindSentiment)

	_ = b.Execute(func() error { return errors.New("boom") })
	assert.Eventually(t, func() bool { return r.len() == 1 }, time.Second, 5*time.Millisecond)
	r.mu.Lock()
	assert.Equal(t, AlertCritical, r.alerts[0].Level)
	r.mu.Unlock()
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Pair: "BTC/USDT"}))
	assert.Equal(t, "BTC/USDT", got.Pair)
	assert.False(t, got.TS.IsZero())

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookNotifier(failing.URL, nil).Send(context.Background(), Alert{}))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok, bad := &recorder{}, &recorder{err: errors.New("down")}
	err := Multi{ok, bad, NewLogNotifier()}.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, ok.len())
}
