package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// JSONStorage persists the trade journal as a single JSON file. Writes go to
// a temp file first and are renamed into place so a crash mid-write never
// corrupts the journal.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *journalData
}

type journalData struct {
	CurrentTrade *TradeRecord  `json:"current_trade"`
	History      []TradeRecord `json:"history"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// NewJSONStorage opens (or creates) the journal at filepath.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     &journalData{},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}

	return s, nil
}

// Load reads the journal file into memory.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	return gojson.Unmarshal(data, s.data)
}

// Save writes the journal to disk atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := gojson.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// OpenTrade records a new open trade. At most one trade may be open.
func (s *JSONStorage) OpenTrade(trade TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.CurrentTrade != nil {
		return ErrTradeOpen
	}
	trade.Status = TradeOpen
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now().UTC()
	}
	s.data.CurrentTrade = &trade
	return s.saveLocked()
}

// CurrentTrade returns a copy of the open trade, or nil.
func (s *JSONStorage) CurrentTrade() *TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data.CurrentTrade == nil {
		return nil
	}
	trade := *s.data.CurrentTrade
	return &trade
}

// CloseTrade finalizes the open trade and moves it into history.
func (s *JSONStorage) CloseTrade(exitOrderID int64, exitPrice decimal.Decimal, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.CurrentTrade == nil {
		return ErrNoOpenTrade
	}
	trade := s.data.CurrentTrade
	trade.Status = TradeClosed
	trade.ExitOrderID = exitOrderID
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	trade.ClosedAt = time.Now().UTC()

	s.data.History = append(s.data.History, *trade)
	s.data.CurrentTrade = nil
	return s.saveLocked()
}

// AbortTrade marks the open trade aborted without a confirmed exit.
func (s *JSONStorage) AbortTrade(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.CurrentTrade == nil {
		return ErrNoOpenTrade
	}
	trade := s.data.CurrentTrade
	trade.Status = TradeAborted
	trade.ExitReason = reason
	trade.ClosedAt = time.Now().UTC()

	s.data.History = append(s.data.History, *trade)
	s.data.CurrentTrade = nil
	return s.saveLocked()
}

// History returns a copy of all completed trades, oldest first.
func (s *JSONStorage) History() []TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TradeRecord(nil), s.data.History...)
}

// LastExpiry returns the latest option expiry recorded in the journal,
// including the open trade. Zero when the journal is empty.
func (s *JSONStorage) LastExpiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, trade := range s.data.History {
		if trade.Contract.Expiry.After(last) {
			last = trade.Contract.Expiry
		}
	}
	if s.data.CurrentTrade != nil && s.data.CurrentTrade.Contract.Expiry.After(last) {
		last = s.data.CurrentTrade.Contract.Expiry
	}
	return last
}

// GetStatistics aggregates the journal.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{TotalPnL: decimal.Zero}
	for _, trade := range s.data.History {
		stats.TotalTrades++
		switch trade.Status {
		case TradeClosed:
			stats.ClosedTrades++
			stats.TotalPnL = stats.TotalPnL.Add(trade.PnL())
		case TradeAborted:
			stats.Aborted++
		}
	}
	if s.data.CurrentTrade != nil {
		stats.TotalTrades++
		stats.OpenTrades++
	}
	return stats
}
