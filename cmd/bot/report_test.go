package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-option-bot/internal/config"
	"es-option-bot/internal/models"
	"es-option-bot/internal/storage"
)

func TestRunReportRendersJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	journal, err := storage.NewJSONStorage(path)
	require.NoError(t, err)

	expiry := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, journal.OpenTrade(storage.TradeRecord{
		ID: "t-1",
		Contract: models.ContractDescriptor{
			Symbol:   "ES",
			SecType:  models.SecurityFuturesOption,
			Exchange: "CME",
			Expiry:   expiry,
			Strike:   decimal.RequireFromString("6450"),
			Right:    models.RightCall,
		},
		Side:       models.SideSell,
		Quantity:   1,
		EntryPrice: decimal.RequireFromString("12.25"),
		OpenedAt:   time.Date(2026, 9, 2, 14, 31, 0, 0, time.UTC),
	}))
	require.NoError(t, journal.CloseTrade(9, decimal.RequireFromString("2.00"), "stop_loss"))

	cfg := &config.Config{}
	cfg.Storage.Path = path

	var buf bytes.Buffer
	require.NoError(t, runReport(cfg, &buf))

	out := buf.String()
	assert.Contains(t, out, "ES 20260902 C6450 CME")
	assert.Contains(t, out, "stop_loss")
	assert.Contains(t, out, "10.25")
	assert.Contains(t, out, "Trades: 1")
}

func TestRunReportEmptyJournal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Path = filepath.Join(t.TempDir(), "journal.json")

	var buf bytes.Buffer
	require.NoError(t, runReport(cfg, &buf))
	assert.Contains(t, buf.String(), "Trades: 0")
}
