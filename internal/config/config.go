// Package config provides configuration management for the trading bot.
// Values are read once at startup and are read-only for the lifetime of a
// run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v3"

	"es-option-bot/internal/logging"
	"es-option-bot/internal/models"
)

const (
	// defaultPollInterval is used when schedule.poll_interval is unset.
	defaultPollInterval = time.Minute
	// defaultQuoteTimeout bounds the wait for a reference quote.
	defaultQuoteTimeout = 30 * time.Second
	// defaultFillTimeout bounds entry-order monitoring.
	defaultFillTimeout = 5 * time.Minute
	// defaultStaleTickBound is the gap in price updates that forces a
	// reconciliation snapshot while a stop-loss watch is active.
	defaultStaleTickBound = 30 * time.Second
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Contract    ContractConfig    `yaml:"contract"`
	Entry       EntryConfig       `yaml:"entry"`
	Stop        StopConfig        `yaml:"stop"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode string         `yaml:"mode"` // paper | live
	Log  logging.Config `yaml:"log"`
}

// GatewayConfig defines how to reach the trading-venue gateway process.
type GatewayConfig struct {
	Addr           string `yaml:"addr"`            // e.g. ws://127.0.0.1:7497/api
	ConnectTimeout string `yaml:"connect_timeout"` // duration string
	CallTimeout    string `yaml:"call_timeout"`    // per-request timeout
	MaxReconnect   string `yaml:"max_reconnect_interval"`
}

// ContractConfig defines the instrument family and the trading calendar the
// resolver applies.
type ContractConfig struct {
	Symbol         string   `yaml:"symbol"`   // underlying future, e.g. ES
	Exchange       string   `yaml:"exchange"` // e.g. GLOBEX
	Right          string   `yaml:"right"`    // C | P
	StrikeBasis    string   `yaml:"strike_basis"`
	Multiplier     int      `yaml:"multiplier"`
	TradingDays    []string `yaml:"trading_days"` // e.g. [Monday, Wednesday, Friday]
	Holidays       []string `yaml:"holidays"`     // YYYY-MM-DD
	MaxHorizonDays int      `yaml:"max_horizon_days"`
}

// EntryConfig defines the entry order parameters.
type EntryConfig struct {
	Side          string `yaml:"side"` // BUY | SELL
	Quantity      int64  `yaml:"quantity"`
	StrikeOffset  string `yaml:"strike_offset"` // added to the rounded reference
	QuoteTimeout  string `yaml:"quote_timeout"`
	StrikeWait    string `yaml:"strike_wait"`     // between untradeable-price re-checks
	StrikeWaitMax string `yaml:"strike_wait_max"` // total budget for the wait
	FillTimeout   string `yaml:"fill_timeout"`
}

// StopConfig defines the protective stop parameters.
type StopConfig struct {
	Distance       string `yaml:"distance"` // price distance from entry reference
	StaleTickBound string `yaml:"stale_tick_bound"`
}

// ScheduleConfig defines the scheduler cadence.
type ScheduleConfig struct {
	PollInterval string `yaml:"poll_interval"`
	Cooldown     string `yaml:"cooldown"` // delay before re-entry after a close
}

// StorageConfig defines where the trade journal lives.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig defines the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Environment.Log.Level == "" {
		c.Environment.Log.Level = "info"
	}

	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	for name, v := range map[string]string{
		"gateway.connect_timeout":        c.Gateway.ConnectTimeout,
		"gateway.call_timeout":           c.Gateway.CallTimeout,
		"gateway.max_reconnect_interval": c.Gateway.MaxReconnect,
		"entry.quote_timeout":            c.Entry.QuoteTimeout,
		"entry.strike_wait":              c.Entry.StrikeWait,
		"entry.strike_wait_max":          c.Entry.StrikeWaitMax,
		"entry.fill_timeout":             c.Entry.FillTimeout,
		"stop.stale_tick_bound":          c.Stop.StaleTickBound,
		"schedule.poll_interval":         c.Schedule.PollInterval,
		"schedule.cooldown":              c.Schedule.Cooldown,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	if c.Contract.Symbol == "" {
		return fmt.Errorf("contract.symbol is required")
	}
	if c.Contract.Exchange == "" {
		return fmt.Errorf("contract.exchange is required")
	}
	if c.Contract.Right != string(models.RightCall) && c.Contract.Right != string(models.RightPut) {
		return fmt.Errorf("contract.right must be 'C' or 'P'")
	}
	basis, err := decimal.NewFromString(c.Contract.StrikeBasis)
	if err != nil {
		return fmt.Errorf("contract.strike_basis invalid: %w", err)
	}
	if basis.Sign() <= 0 {
		return fmt.Errorf("contract.strike_basis must be > 0")
	}
	if c.Contract.Multiplier <= 0 {
		return fmt.Errorf("contract.multiplier must be > 0")
	}
	if len(c.Contract.TradingDays) == 0 {
		return fmt.Errorf("contract.trading_days is required")
	}
	if _, err := c.TradingWeekdays(); err != nil {
		return err
	}
	if _, err := c.Holidays(); err != nil {
		return err
	}
	if c.Contract.MaxHorizonDays <= 0 {
		return fmt.Errorf("contract.max_horizon_days must be > 0")
	}

	if c.Entry.Side != string(models.SideBuy) && c.Entry.Side != string(models.SideSell) {
		return fmt.Errorf("entry.side must be 'BUY' or 'SELL'")
	}
	if c.Entry.Quantity <= 0 {
		return fmt.Errorf("entry.quantity must be > 0")
	}
	if c.Entry.StrikeOffset != "" {
		if _, err := decimal.NewFromString(c.Entry.StrikeOffset); err != nil {
			return fmt.Errorf("entry.strike_offset invalid: %w", err)
		}
	}

	dist, err := decimal.NewFromString(c.Stop.Distance)
	if err != nil {
		return fmt.Errorf("stop.distance invalid: %w", err)
	}
	if dist.Sign() <= 0 {
		return fmt.Errorf("stop.distance must be > 0")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

func (c *Config) duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// PollInterval returns the scheduler cadence.
func (c *Config) PollInterval() time.Duration {
	return c.duration(c.Schedule.PollInterval, defaultPollInterval)
}

// Cooldown returns the delay before re-entry after a position closes.
func (c *Config) Cooldown() time.Duration {
	return c.duration(c.Schedule.Cooldown, 0)
}

// ConnectTimeout returns the gateway dial budget.
func (c *Config) ConnectTimeout() time.Duration {
	return c.duration(c.Gateway.ConnectTimeout, 10*time.Second)
}

// CallTimeout returns the per-request gateway timeout.
func (c *Config) CallTimeout() time.Duration {
	return c.duration(c.Gateway.CallTimeout, 5*time.Second)
}

// MaxReconnectInterval caps the reconnect backoff.
func (c *Config) MaxReconnectInterval() time.Duration {
	return c.duration(c.Gateway.MaxReconnect, 30*time.Second)
}

// QuoteTimeout bounds the wait for a reference quote.
func (c *Config) QuoteTimeout() time.Duration {
	return c.duration(c.Entry.QuoteTimeout, defaultQuoteTimeout)
}

// StrikeWait returns the pause between untradeable-price re-checks.
func (c *Config) StrikeWait() time.Duration {
	return c.duration(c.Entry.StrikeWait, 10*time.Second)
}

// StrikeWaitMax returns the total budget for untradeable-price waits.
func (c *Config) StrikeWaitMax() time.Duration {
	return c.duration(c.Entry.StrikeWaitMax, 100*time.Second)
}

// FillTimeout bounds entry-order monitoring.
func (c *Config) FillTimeout() time.Duration {
	return c.duration(c.Entry.FillTimeout, defaultFillTimeout)
}

// StaleTickBound returns the price-update gap that forces reconciliation.
func (c *Config) StaleTickBound() time.Duration {
	return c.duration(c.Stop.StaleTickBound, defaultStaleTickBound)
}

// StrikeBasis returns the strike rounding increment.
func (c *Config) StrikeBasis() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Contract.StrikeBasis)
	return d
}

// StrikeOffset returns the offset added to the rounded reference price.
func (c *Config) StrikeOffset() decimal.Decimal {
	if c.Entry.StrikeOffset == "" {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(c.Entry.StrikeOffset)
	return d
}

// StopDistance returns the configured stop-loss distance.
func (c *Config) StopDistance() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Stop.Distance)
	return d
}

// EntrySide returns the configured entry side.
func (c *Config) EntrySide() models.Side {
	return models.Side(c.Entry.Side)
}

// Right returns the configured option right.
func (c *Config) Right() models.Right {
	return models.Right(c.Contract.Right)
}

// TradingWeekdays parses contract.trading_days into weekdays.
func (c *Config) TradingWeekdays() ([]time.Weekday, error) {
	names := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	days := make([]time.Weekday, 0, len(c.Contract.TradingDays))
	for _, raw := range c.Contract.TradingDays {
		d, ok := names[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return nil, fmt.Errorf("contract.trading_days has unknown day %q", raw)
		}
		days = append(days, d)
	}
	return days, nil
}

// Holidays parses contract.holidays into dates.
func (c *Config) Holidays() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(c.Contract.Holidays))
	for _, raw := range c.Contract.Holidays {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("contract.holidays has invalid date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}
