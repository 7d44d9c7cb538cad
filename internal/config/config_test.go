package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper"},
		Gateway:     GatewayConfig{Addr: "ws://127.0.0.1:7497/api"},
		Contract: ContractConfig{
			Symbol:         "ES",
			Exchange:       "GLOBEX",
			Right:          "C",
			StrikeBasis:    "5",
			Multiplier:     50,
			TradingDays:    []string{"Monday", "Wednesday", "Friday"},
			Holidays:       []string{"2026-09-07"},
			MaxHorizonDays: 30,
		},
		Entry: EntryConfig{Side: "SELL", Quantity: 1},
		Stop:  StopConfig{Distance: "4.75"},
		Storage: StorageConfig{
			Path: "trades.json",
		},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Minute, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.QuoteTimeout())
	assert.Equal(t, 10*time.Second, cfg.StrikeWait())
	assert.Equal(t, 100*time.Second, cfg.StrikeWaitMax())
	assert.Equal(t, 5*time.Minute, cfg.FillTimeout())
	assert.Equal(t, time.Duration(0), cfg.Cooldown())
	assert.Equal(t, "info", cfg.Environment.Log.Level)
	assert.Equal(t, "4.75", cfg.StopDistance().String())
	assert.True(t, cfg.StrikeOffset().IsZero())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "yolo" }},
		{"missing gateway addr", func(c *Config) { c.Gateway.Addr = "" }},
		{"bad duration", func(c *Config) { c.Schedule.PollInterval = "soon" }},
		{"missing symbol", func(c *Config) { c.Contract.Symbol = "" }},
		{"bad right", func(c *Config) { c.Contract.Right = "X" }},
		{"bad strike basis", func(c *Config) { c.Contract.StrikeBasis = "five" }},
		{"zero strike basis", func(c *Config) { c.Contract.StrikeBasis = "0" }},
		{"no trading days", func(c *Config) { c.Contract.TradingDays = nil }},
		{"unknown trading day", func(c *Config) { c.Contract.TradingDays = []string{"Funday"} }},
		{"bad holiday", func(c *Config) { c.Contract.Holidays = []string{"not-a-date"} }},
		{"zero horizon", func(c *Config) { c.Contract.MaxHorizonDays = 0 }},
		{"bad side", func(c *Config) { c.Entry.Side = "HOLD" }},
		{"zero quantity", func(c *Config) { c.Entry.Quantity = 0 }},
		{"bad stop distance", func(c *Config) { c.Stop.Distance = "-1" }},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_ParsesYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_ADDR", "ws://127.0.0.1:4002/api")

	content := `
environment:
  mode: paper
  log:
    level: debug
gateway:
  addr: ${TEST_GATEWAY_ADDR}
  call_timeout: 3s
contract:
  symbol: ES
  exchange: GLOBEX
  right: C
  strike_basis: "5"
  multiplier: 50
  trading_days: [Monday, Wednesday, Friday]
  holidays: ["2026-09-07", "2026-11-26"]
  max_horizon_days: 30
entry:
  side: SELL
  quantity: 1
  fill_timeout: 2m
stop:
  distance: "4.75"
schedule:
  poll_interval: 1m
storage:
  path: trades.json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:4002/api", cfg.Gateway.Addr)
	assert.Equal(t, 3*time.Second, cfg.CallTimeout())
	assert.Equal(t, 2*time.Minute, cfg.FillTimeout())

	days, err := cfg.TradingWeekdays()
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	holidays, err := cfg.Holidays()
	require.NoError(t, err)
	require.Len(t, holidays, 2)
	assert.Equal(t, 2026, holidays[0].Year())
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	content := `
environment:
  mode: paper
mystery_section:
  x: 1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
