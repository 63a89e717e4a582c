package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signalfusion/internal/decision"
	"signalfusion/internal/indicator"
	"signalfusion/internal/model"
	"signalfusion/internal/signal"
	"signalfusion/internal/store/sqlite"
)

// Config holds a run configuration. It is loaded once and passed explicitly
// into every constructor.
type Config struct {
	Pairs     []string        `yaml:"pairs" validate:"required,min=1,dive,required"`
	Timeframe model.Timeframe `yaml:"timeframe" default:"5m" validate:"required"`

	// Timerange is "YYYYMMDD-YYYYMMDD", end exclusive.
	Timerange string          `yaml:"timerange" validate:"required"`
	Mode      model.FetchMode `yaml:"mode" default:"historical" validate:"oneof=live historical"`

	// WarmupBars overrides StartupCandles when set.
	WarmupBars     int `yaml:"warmup_bars" validate:"gte=0"`
	StartupCandles int `yaml:"startup_candles" default:"200" validate:"gte=0"`

	// TrainPeriodDays is the regressor's training lookback; its history is
	// required on top of the warm-up.
	TrainPeriodDays int `yaml:"train_period_days" validate:"gte=0"`

	Indicators indicator.Spec `yaml:"indicators"`
	Rule       decision.Rule  `yaml:"rule"`
	Decisions  bool           `yaml:"decisions" default:"true"`

	Signals Signals       `yaml:"signals"`
	Data    Data          `yaml:"data"`
	SQLite  sqlite.Config `yaml:"sqlite"`
	Redis   Redis         `yaml:"redis"`
	Sinks   Sinks         `yaml:"sinks"`
	Log     Log           `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
}

// Signals configures the external signal fetcher.
type Signals struct {
	Sentiment SignalSource  `yaml:"sentiment"`
	FearGreed SignalSource  `yaml:"fear_greed"`
	Timeout   time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
	Workers   int           `yaml:"workers" default:"4" validate:"gte=1"`
	Prefetch  bool          `yaml:"prefetch" default:"true"`
}

// SignalSource configures one signal kind: a live endpoint and/or a history file.
type SignalSource struct {
	HTTP      signal.HTTPConfig `yaml:"http"`
	CSV       string            `yaml:"csv"`
	Staleness time.Duration     `yaml:"staleness" validate:"gte=0"`
}

// Data selects the candle source.
type Data struct {
	Source   string `yaml:"source" default:"ftjson" validate:"oneof=ftjson sqlite"`
	Dir      string `yaml:"dir" default:"user_data/data"`
	Exchange string `yaml:"exchange" default:"binance"`
}

// Redis configures the feature stream sink.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"features"`
}

// Sinks configures the remaining record consumers.
type Sinks struct {
	JSONL     string `yaml:"jsonl"`
	Audit     bool   `yaml:"audit"`
	WebSocket bool   `yaml:"websocket"`
	Buffer    int    `yaml:"buffer" default:"1024" validate:"gte=1"`
	Notify    Notify `yaml:"notify"`
}

// Notify configures run alerts: decision changes, degraded signals and
// provider breakers. Webhook must be an http(s) URL when set.
type Notify struct {
	Webhook string `yaml:"webhook" validate:"omitempty,url"`
	Log     bool   `yaml:"log"`
}

// Enabled reports whether any alert channel is configured.
func (n Notify) Enabled() bool { return n.Webhook != "" || n.Log }

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

var validate = validator.New()

// Load reads an optional .env file, the YAML file at path (skipped when path
// is ""), applies defaults and environment overrides, then validates.
func Load(path string) (*Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with a hook that applies command-line overrides before validation.
func LoadWith(path string, override func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	c.Signals.FearGreed.HTTP = signal.FearGreedConfig("")
	c.Signals.Sentiment.HTTP.ValuePath = "compound"
	c.Signals.Sentiment.Staleness = signal.DefaultSentimentStaleness
	c.Signals.FearGreed.Staleness = signal.DefaultFearGreedStaleness

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()
	if override != nil {
		override(c)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIGNAL_SQLITE_PATH"); v != "" {
		c.SQLite.DBPath = v
	}
	if v := os.Getenv("SIGNAL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("SENTIMENT_URL"); v != "" {
		c.Signals.Sentiment.HTTP.URL = v
	}
	if v := os.Getenv("FEAR_GREED_URL"); v != "" {
		c.Signals.FearGreed.HTTP.URL = v
	}
	if v := os.Getenv("SIGNAL_ALERT_WEBHOOK"); v != "" {
		c.Sinks.Notify.Webhook = v
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := model.ParseTimeframe(string(c.Timeframe)); err != nil {
		return err
	}
	if err := c.Indicators.Validate(); err != nil {
		return err
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}
	if c.Mode == model.ModeLive && c.Signals.Sentiment.HTTP.URL == "" && c.Signals.FearGreed.HTTP.URL == "" {
		return errors.New("live mode needs at least one signal URL")
	}
	return nil
}

// Window parses Timerange into a half-open [start, end) window.
func (c *Config) Window() (time.Time, time.Time, error) {
	return ParseTimerange(c.Timerange)
}

// Warmup returns the bars of history required before the window start: the
// warm-up (WarmupBars, else the larger of StartupCandles and the indicator
// lookback) plus TrainPeriodDays expressed in bars of the timeframe.
func (c *Config) Warmup() int {
	bars := c.WarmupBars
	if bars == 0 {
		bars = c.StartupCandles
		if lb := c.Indicators.Warmup(); lb > bars {
			bars = lb
		}
	}
	return bars + c.TrainBars()
}

// TrainBars converts TrainPeriodDays to bars, rounding up.
func (c *Config) TrainBars() int {
	tf := c.Timeframe.Duration()
	if c.TrainPeriodDays <= 0 || tf <= 0 {
		return 0
	}
	train := time.Duration(c.TrainPeriodDays) * 24 * time.Hour
	return int((train + tf - 1) / tf)
}

// ParseTimerange parses "YYYYMMDD-YYYYMMDD" (UTC midnights).
func ParseTimerange(s string) (time.Time, time.Time, error) {
	if len(s) != 17 || s[8] != '-' {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid timerange %q, want YYYYMMDD-YYYYMMDD", s)
	}
	start, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid timerange start: %w", err)
	}
	end, err := time.Parse("20060102", s[9:])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid timerange end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("timerange %q: end not after start", s)
	}
	return start, end, nil
}
