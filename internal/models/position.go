package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the single open trade the process is allowed to carry. It is
// derived state: a position exists iff an entry order is Filled and no
// flattening order for it has Filled. The scheduler enforces at most one.
type Position struct {
	ID             string             `json:"id"`
	Contract       ContractDescriptor `json:"contract"`
	Underlying     ContractDescriptor `json:"underlying"`
	Side           Side               `json:"side"`
	Quantity       int64              `json:"quantity"`
	EntryOrderID   int64              `json:"entry_order_id"`
	EntryReference decimal.Decimal    `json:"entry_reference"`
	EntryFillPrice decimal.Decimal    `json:"entry_fill_price"`
	OpenedAt       time.Time          `json:"opened_at"`
}

// WatchState is the lifecycle state of a stop-loss watch.
type WatchState string

const (
	// WatchActive means the supervisor is observing the underlying price.
	WatchActive WatchState = "active"
	// WatchClosed means the flattening order filled. Terminal.
	WatchClosed WatchState = "closed"
	// WatchAborted means the watch was torn down by shutdown or external
	// cancel, after a best-effort flatten attempt. Terminal.
	WatchAborted WatchState = "aborted"
)

// StopDirection tells the supervisor which way an unfavorable move goes.
type StopDirection string

const (
	// StopAbove triggers when the underlying trades at or above the
	// threshold (short-premium entries).
	StopAbove StopDirection = "above"
	// StopBelow triggers when the underlying trades at or below the
	// threshold (long entries).
	StopBelow StopDirection = "below"
)

// StopLossWatch binds an open position to its protective threshold. Created
// when a position opens, destroyed when the flatten fills or the position is
// otherwise closed.
type StopLossWatch struct {
	PositionID string          `json:"position_id"`
	Threshold  decimal.Decimal `json:"threshold"`
	Direction  StopDirection   `json:"direction"`
	State      WatchState      `json:"state"`
	ArmedAt    time.Time       `json:"armed_at"`
}

// Breached reports whether price has crossed the threshold in the
// unfavorable direction. The comparison is a single monotonic check; the
// threshold itself is computed once when the watch is armed.
func (w *StopLossWatch) Breached(price decimal.Decimal) bool {
	if w.Direction == StopAbove {
		return price.GreaterThanOrEqual(w.Threshold)
	}
	return price.LessThanOrEqual(w.Threshold)
}
