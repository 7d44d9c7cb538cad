package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"es-option-bot/internal/models"
)

// TradeStatus is the journal status of a recorded trade.
type TradeStatus string

const (
	// TradeOpen means the short option is live and supervised.
	TradeOpen TradeStatus = "open"
	// TradeClosed means the position was flattened by a buy-back order.
	TradeClosed TradeStatus = "closed"
	// TradeAborted means supervision ended without a confirmed flatten,
	// e.g. the process shut down mid-watch. Startup reconciliation
	// resolves these against the venue.
	TradeAborted TradeStatus = "aborted"
)

// TradeRecord is one journal entry: a short option entry and, once
// flattened, its exit.
type TradeRecord struct {
	ID            string                    `json:"id"`
	Contract      models.ContractDescriptor `json:"contract"`
	Side          models.Side               `json:"side"`
	Quantity      int64                     `json:"quantity"`
	EntryOrderID  int64                     `json:"entry_order_id"`
	EntryPrice    decimal.Decimal           `json:"entry_price"`
	Reference     decimal.Decimal           `json:"reference"`
	StopThreshold decimal.Decimal           `json:"stop_threshold"`
	Status        TradeStatus               `json:"status"`
	OpenedAt      time.Time                 `json:"opened_at"`

	ExitOrderID int64           `json:"exit_order_id,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	ExitReason  string          `json:"exit_reason,omitempty"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
}

// PnL returns the trade's realized profit and loss in contract points.
// Positive for a short entry bought back below the entry premium. Open
// trades report zero.
func (t TradeRecord) PnL() decimal.Decimal {
	if t.Status != TradeClosed {
		return decimal.Zero
	}
	diff := t.EntryPrice.Sub(t.ExitPrice)
	if t.Side == models.SideBuy {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(t.Quantity))
}

// Statistics aggregates the journal for reporting.
type Statistics struct {
	TotalTrades  int             `json:"total_trades"`
	OpenTrades   int             `json:"open_trades"`
	ClosedTrades int             `json:"closed_trades"`
	Aborted      int             `json:"aborted"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
}

// Interface defines the contract for trade journal persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe.
type Interface interface {
	// Trade lifecycle
	OpenTrade(trade TradeRecord) error
	CurrentTrade() *TradeRecord
	CloseTrade(exitOrderID int64, exitPrice decimal.Decimal, reason string) error
	AbortTrade(reason string) error

	// Data persistence
	Save() error
	Load() error

	// Historical data and analytics
	History() []TradeRecord
	LastExpiry() time.Time
	GetStatistics() Statistics
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
