// Package gateway owns the single long-lived session against the trading
// venue's gateway process. Requests are correlated by id and answered
// asynchronously; market data and order lifecycle events arrive as push
// frames and are demultiplexed onto per-subscription channels.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"es-option-bot/internal/models"
)

// ErrConnection reports a gateway connectivity failure. Fatal to the current
// run: no order may be placed or monitored without a connected session.
var ErrConnection = errors.New("gateway connection error")

// ErrNotConnected reports an operation attempted on a disconnected session.
var ErrNotConnected = errors.New("gateway session not connected")

// ConnState is the connectivity state of the session.
type ConnState int32

const (
	// StateDisconnected means no live connection exists.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial or redial is in progress.
	StateConnecting
	// StateConnected means the session is live.
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnEvent notifies observers of a connectivity transition.
type ConnEvent struct {
	State ConnState
	At    time.Time
}

// Tick is a single market-data price update.
type Tick struct {
	Price decimal.Decimal
	At    time.Time
}

// TickStream is a live market-data subscription. Close cancels the
// subscription and releases the channel.
type TickStream struct {
	C      <-chan Tick
	cancel func()
}

// Close tears the subscription down. Safe to call more than once.
func (t *TickStream) Close() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// OrderStream delivers lifecycle events for a single placed order.
type OrderStream struct {
	C      <-chan models.OrderUpdate
	cancel func()
}

// Close unregisters the order's event channel.
func (o *OrderStream) Close() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Gateway is the session boundary every loop component borrows. Exactly one
// implementation talks to the wire; tests inject a scripted fake.
type Gateway interface {
	// Connect establishes the session. Failure is fatal to the run.
	Connect(ctx context.Context) error
	// Close tears the session down.
	Close() error
	// IsConnected reports whether the session is live.
	IsConnected() bool

	// SnapshotPrice requests a one-shot quote for the contract, bounded by
	// ctx. It never returns a stale or zero price: on timeout the error is
	// surfaced instead.
	SnapshotPrice(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error)
	// SubscribeTicks starts a streaming market-data subscription.
	SubscribeTicks(ctx context.Context, c models.ContractDescriptor) (*TickStream, error)

	// PlaceOrder submits an order and returns it in the Submitted state
	// together with its event stream. The order id is the session's
	// correlation id, unique for the session lifetime.
	PlaceOrder(ctx context.Context, c models.ContractDescriptor, side models.Side, quantity int64, typ models.OrderType) (*models.Order, *OrderStream, error)
	// CancelOrder requests cancellation; the outcome arrives as an event.
	CancelOrder(ctx context.Context, orderID int64) error
	// OrderStatus queries the authoritative state of an order. Used to
	// reconcile after a disconnect.
	OrderStatus(ctx context.Context, orderID int64) (models.OrderUpdate, error)
	// OpenOrders lists the venue's non-terminal orders for this session's
	// account. Used by startup reconciliation.
	OpenOrders(ctx context.Context) ([]models.OrderUpdate, error)

	// ConnEvents registers a connectivity observer. The returned cancel
	// must be called to release the channel.
	ConnEvents() (<-chan ConnEvent, func())
}
