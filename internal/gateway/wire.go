package gateway

import (
	"time"

	"github.com/shopspring/decimal"

	"es-option-bot/internal/models"
)

// Frame types sent by the client.
const (
	opSnapshot    = "snapshot"
	opSubscribe   = "subscribe_market_data"
	opUnsubscribe = "cancel_market_data"
	opPlaceOrder  = "place_order"
	opCancelOrder = "cancel_order"
	opOrderStatus = "order_status"
	opOpenOrders  = "open_orders"
)

// Frame types delivered by the gateway.
const (
	evResult = "result" // response correlated by req_id
	evError  = "error"  // failed request, correlated by req_id
	evTick   = "tick"   // market-data push, correlated by req_id of the subscription
	evOrder  = "order_status_push"
	evFill   = "execution_fill"
)

// frame is the single wire envelope used in both directions. Unused fields
// are omitted; the Type field decides which ones are meaningful.
type frame struct {
	Type     string                     `json:"type"`
	ReqID    int64                      `json:"req_id,omitempty"`
	OrderID  int64                      `json:"order_id,omitempty"`
	Contract *models.ContractDescriptor `json:"contract,omitempty"`

	Side      models.Side      `json:"side,omitempty"`
	Quantity  int64            `json:"quantity,omitempty"`
	OrderType models.OrderType `json:"order_type,omitempty"`

	Price        *decimal.Decimal  `json:"price,omitempty"`
	State        models.OrderState `json:"state,omitempty"`
	FilledQty    int64             `json:"filled_qty,omitempty"`
	RemainingQty int64             `json:"remaining_qty,omitempty"`
	AvgFillPrice *decimal.Decimal  `json:"avg_fill_price,omitempty"`

	Orders []models.OrderUpdate `json:"orders,omitempty"`
	Reason string               `json:"reason,omitempty"`
	Error  string               `json:"error,omitempty"`
	At     time.Time            `json:"at,omitempty"`
}

// orderUpdate converts an order push or status frame into the normalized
// event the models layer consumes.
func (f *frame) orderUpdate() models.OrderUpdate {
	u := models.OrderUpdate{
		OrderID:      f.OrderID,
		State:        f.State,
		FilledQty:    f.FilledQty,
		RemainingQty: f.RemainingQty,
		Reason:       f.Reason,
		At:           f.At,
	}
	if f.AvgFillPrice != nil {
		u.AvgFillPrice = *f.AvgFillPrice
	}
	return u
}
