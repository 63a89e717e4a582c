package signal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"signalfusion/internal/model"
)

// Observation is one value reported by a provider, already normalized to the
// kind's range. TS is the provider's own timestamp for the value, zero when
// the provider does not report one.
type Observation struct {
	TS    time.Time
	Value float64
}

// Provider returns the latest observation for one signal kind.
type Provider interface {
	Latest(ctx context.Context) (Observation, error)
}

// HTTPConfig describes a JSON endpoint serving one scalar signal.
type HTTPConfig struct {
	URL       string        `yaml:"url" validate:"omitempty,url"`
	ValuePath string        `yaml:"value_path" validate:"required_with=URL"` // gjson path, e.g. "data.0.value"
	TimePath  string        `yaml:"time_path"`                                 // optional gjson path to a unix timestamp
	Scale     float64       `yaml:"scale" default:"1"`
	Offset    float64       `yaml:"offset"`
	Timeout   time.Duration `yaml:"timeout" default:"5s"`

	BreakerFailures int           `yaml:"breaker_failures" default:"5"`
	BreakerReset    time.Duration `yaml:"breaker_reset" default:"30s"`
}

// HTTPProvider fetches a signal from a JSON HTTP API and extracts the value
// with a gjson path. The raw value is mapped as raw*Scale+Offset and clamped
// to the kind's range.
type HTTPProvider struct {
	kind    model.SignalKind
	cfg     HTTPConfig
	client  *http.Client
	breaker *Breaker
}

// NewHTTPProvider creates a provider for kind. A nil client uses a default
// client bounded by cfg.Timeout.
func NewHTTPProvider(kind model.SignalKind, cfg HTTPConfig, client *http.Client) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPProvider{
		kind:    kind,
		cfg:     cfg,
		client:  client,
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerReset),
	}
}

// Breaker exposes the provider's circuit breaker for state reporting.
func (p *HTTPProvider) Breaker() *Breaker { return p.breaker }

// Latest issues one GET bounded by the configured timeout.
func (p *HTTPProvider) Latest(ctx context.Context) (Observation, error) {
	var obs Observation
	err := p.breaker.Execute(func() error {
		var err error
		obs, err = p.get(ctx)
		return err
	})
	return obs, err
}

func (p *HTTPProvider) get(ctx context.Context) (Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return Observation{}, fmt.Errorf("%s request: %w", p.kind, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("%s get: %w", p.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Observation{}, fmt.Errorf("%s get: status %d", p.kind, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Observation{}, fmt.Errorf("%s read body: %w", p.kind, err)
	}
	return p.parse(body)
}

func (p *HTTPProvider) parse(body []byte) (Observation, error) {
	if !gjson.ValidBytes(body) {
		return Observation{}, fmt.Errorf("%s: response is not valid JSON", p.kind)
	}

	raw, err := number(gjson.GetBytes(body, p.cfg.ValuePath))
	if err != nil {
		return Observation{}, fmt.Errorf("%s field %q: %w", p.kind, p.cfg.ValuePath, err)
	}
	obs := Observation{Value: p.kind.Clamp(raw*p.cfg.Scale + p.cfg.Offset)}

	if p.cfg.TimePath != "" {
		secs, err := number(gjson.GetBytes(body, p.cfg.TimePath))
		if err != nil {
			return Observation{}, fmt.Errorf("%s field %q: %w", p.kind, p.cfg.TimePath, err)
		}
		obs.TS = unixTime(int64(secs))
	}
	return obs, nil
}

// number accepts JSON numbers and numeric strings ("68" on alternative.me).
func number(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", r.Str)
		}
		if !model.Finite(v) {
			return 0, fmt.Errorf("non-finite value %q", r.Str)
		}
		return v, nil
	case gjson.Null:
		if !r.Exists() {
			return 0, fmt.Errorf("missing")
		}
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("unexpected %s value", r.Type)
	}
}

// unixTime interprets v as unix seconds, or milliseconds when too large for seconds.
func unixTime(v int64) time.Time {
	if v > 1e11 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Observation, error)

func (f ProviderFunc) Latest(ctx context.Context) (Observation, error) { return f(ctx) }
