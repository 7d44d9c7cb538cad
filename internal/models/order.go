package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	// StateSubmitted means the order has been sent to the gateway and
	// acknowledged, but has not yet reached a terminal state.
	StateSubmitted OrderState = "submitted"
	// StatePartiallyFilled means some, but not all, quantity has executed.
	StatePartiallyFilled OrderState = "partially_filled"
	// StateFilled means the full quantity has executed. Terminal.
	StateFilled OrderState = "filled"
	// StateCancelled means the order was cancelled before filling. Terminal.
	StateCancelled OrderState = "cancelled"
	// StateRejected means the venue refused the order. Terminal.
	StateRejected OrderState = "rejected"
)

// ErrStaleEvent reports a duplicate or out-of-order gateway event that must
// be ignored rather than applied.
var ErrStaleEvent = errors.New("stale order event")

// OrderType is the execution type of an order.
type OrderType string

const (
	// OrderMarket executes at the prevailing market price.
	OrderMarket OrderType = "MKT"
	// OrderLimit executes at the limit price or better.
	OrderLimit OrderType = "LMT"
)

// OrderUpdate is a normalized order-status or execution-fill event delivered
// by the gateway. FilledQty is cumulative.
type OrderUpdate struct {
	OrderID      int64           `json:"order_id"`
	State        OrderState      `json:"state"`
	FilledQty    int64           `json:"filled_qty"`
	RemainingQty int64           `json:"remaining_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Reason       string          `json:"reason,omitempty"`
	At           time.Time       `json:"at"`
}

// Order tracks a single venue order from submission to its terminal state.
// It is created by the execution engine and mutated only through Apply, which
// enforces forward-only transitions and idempotent event replay.
type Order struct {
	ID           int64              `json:"id"`
	Contract     ContractDescriptor `json:"contract"`
	Side         Side               `json:"side"`
	Quantity     int64              `json:"quantity"`
	Type         OrderType          `json:"type"`
	State        OrderState         `json:"state"`
	FilledQty    int64              `json:"filled_qty"`
	AvgFillPrice decimal.Decimal    `json:"avg_fill_price"`
	Reason       string             `json:"reason,omitempty"`
	SubmittedAt  time.Time          `json:"submitted_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// validOrderTransitions defines every legal forward transition. Repeating the
// current state is handled separately (idempotent replay), and terminal
// states admit no transitions at all.
var validOrderTransitions = map[OrderState][]OrderState{
	StateSubmitted:       {StatePartiallyFilled, StateFilled, StateCancelled, StateRejected},
	StatePartiallyFilled: {StateFilled, StateCancelled},
}

// NewOrder creates an order in the Submitted state.
func NewOrder(id int64, contract ContractDescriptor, side Side, quantity int64, typ OrderType) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:          id,
		Contract:    contract,
		Side:        side,
		Quantity:    quantity,
		Type:        typ,
		State:       StateSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// canTransition reports whether from -> to is a legal forward transition.
func canTransition(from, to OrderState) bool {
	for _, next := range validOrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply merges a gateway event into the order. Replaying an event the order
// has already absorbed is a no-op; an event that would move the order
// backwards (terminal-state change, shrinking cumulative fill) returns
// ErrStaleEvent and leaves the order untouched.
func (o *Order) Apply(u OrderUpdate) error {
	if u.OrderID != o.ID {
		return fmt.Errorf("order %d: event for order %d", o.ID, u.OrderID)
	}

	// Exact replay of the current state is idempotent.
	if u.State == o.State && u.FilledQty == o.FilledQty {
		return nil
	}

	if o.State.IsTerminal() {
		return fmt.Errorf("order %d is %s: %w", o.ID, o.State, ErrStaleEvent)
	}

	// Cumulative fills never shrink; a smaller figure is an old event.
	if u.FilledQty < o.FilledQty {
		return fmt.Errorf("order %d fill regression %d -> %d: %w",
			o.ID, o.FilledQty, u.FilledQty, ErrStaleEvent)
	}

	if u.State != o.State && !canTransition(o.State, u.State) {
		return fmt.Errorf("order %d transition %s -> %s: %w",
			o.ID, o.State, u.State, ErrStaleEvent)
	}

	o.State = u.State
	o.FilledQty = u.FilledQty
	if !u.AvgFillPrice.IsZero() {
		o.AvgFillPrice = u.AvgFillPrice
	}
	if u.Reason != "" {
		o.Reason = u.Reason
	}
	if u.At.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	} else {
		o.UpdatedAt = u.At
	}
	return nil
}

// Remaining returns the unexecuted quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQty
}

// FilledInFull reports whether every contract of the order has executed.
func (o *Order) FilledInFull() bool {
	return o.State == StateFilled && o.FilledQty >= o.Quantity
}
