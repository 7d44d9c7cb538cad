package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	OpenErr  error
	CloseErr error
	SaveErr  error

	current *TradeRecord
	history []TradeRecord

	OpenCalls  int
	CloseCalls int
	AbortCalls int
}

// NewMockStorage creates a new mock journal for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

var _ Interface = (*MockStorage)(nil)

func (m *MockStorage) OpenTrade(trade TradeRecord) error {
	m.OpenCalls++
	if m.OpenErr != nil {
		return m.OpenErr
	}
	if m.current != nil {
		return ErrTradeOpen
	}
	trade.Status = TradeOpen
	m.current = &trade
	return nil
}

func (m *MockStorage) CurrentTrade() *TradeRecord {
	if m.current == nil {
		return nil
	}
	trade := *m.current
	return &trade
}

// SetCurrentTrade seeds an open trade for tests.
func (m *MockStorage) SetCurrentTrade(trade *TradeRecord) {
	m.current = trade
}

func (m *MockStorage) CloseTrade(exitOrderID int64, exitPrice decimal.Decimal, reason string) error {
	m.CloseCalls++
	if m.CloseErr != nil {
		return m.CloseErr
	}
	if m.current == nil {
		return ErrNoOpenTrade
	}
	m.current.Status = TradeClosed
	m.current.ExitOrderID = exitOrderID
	m.current.ExitPrice = exitPrice
	m.current.ExitReason = reason
	m.current.ClosedAt = time.Now().UTC()
	m.history = append(m.history, *m.current)
	m.current = nil
	return nil
}

func (m *MockStorage) AbortTrade(reason string) error {
	m.AbortCalls++
	if m.current == nil {
		return ErrNoOpenTrade
	}
	m.current.Status = TradeAborted
	m.current.ExitReason = reason
	m.history = append(m.history, *m.current)
	m.current = nil
	return nil
}

func (m *MockStorage) Save() error { return m.SaveErr }
func (m *MockStorage) Load() error { return nil }

func (m *MockStorage) History() []TradeRecord {
	return append([]TradeRecord(nil), m.history...)
}

// SetHistory seeds completed trades for tests.
func (m *MockStorage) SetHistory(history []TradeRecord) {
	m.history = history
}

func (m *MockStorage) LastExpiry() time.Time {
	var last time.Time
	for _, trade := range m.history {
		if trade.Contract.Expiry.After(last) {
			last = trade.Contract.Expiry
		}
	}
	if m.current != nil && m.current.Contract.Expiry.After(last) {
		last = m.current.Contract.Expiry
	}
	return last
}

func (m *MockStorage) GetStatistics() Statistics {
	stats := Statistics{TotalPnL: decimal.Zero}
	for _, trade := range m.history {
		stats.TotalTrades++
		switch trade.Status {
		case TradeClosed:
			stats.ClosedTrades++
			stats.TotalPnL = stats.TotalPnL.Add(trade.PnL())
		case TradeAborted:
			stats.Aborted++
		}
	}
	if m.current != nil {
		stats.TotalTrades++
		stats.OpenTrades++
	}
	return stats
}
